// Package scheduler drives strategy execution and risk evaluation on a
// fixed iteration algorithm shared between live and backtest modes. The
// two modes differ only in the Clock and the configured price feed.
package scheduler

import (
	"context"
	"time"

	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/pricefeed"
	"github.com/tradecore/internal/risk"
	"github.com/tradecore/internal/strategy"
	"go.uber.org/zap"
)

// Config controls one scheduler instance.
type Config struct {
	PortfolioID uint

	// TickInterval is the live loop cadence.
	TickInterval time.Duration

	// SnapshotDaily switches the snapshot cadence from every iteration
	// to once per elapsed (simulated) day.
	SnapshotDaily bool

	// RiskTimeFrame/RiskWindowSize describe the OHLCV windows fetched
	// for symbols held in open orders and trades, so risk evaluation has
	// price coverage even when no strategy targets them.
	RiskTimeFrame  string
	RiskWindowSize int
}

// windowSpec is one OHLCV fetch requirement for an iteration.
type windowSpec struct {
	symbol    string
	timeFrame string
	size      int
}

// Scheduler owns per-strategy next-run state and runs the iteration
// algorithm against a Clock.
type Scheduler struct {
	engine    *engine.Engine
	registry  *strategy.Registry
	feed      pricefeed.Feed
	evaluator risk.Evaluator
	clock     Clock
	logger    *zap.Logger
	cfg       Config

	nextRuns     map[string]time.Time
	lastSnapshot time.Time
	stopChan     chan struct{}
}

// New creates a scheduler. Every strategy's first run is due at the
// first iteration.
func New(eng *engine.Engine, registry *strategy.Registry, feed pricefeed.Feed, evaluator risk.Evaluator, clock Clock, logger *zap.Logger, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.RiskWindowSize <= 0 {
		cfg.RiskWindowSize = 1
	}
	return &Scheduler{
		engine:    eng,
		registry:  registry,
		feed:      feed,
		evaluator: evaluator,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
		nextRuns:  make(map[string]time.Time),
		stopChan:  make(chan struct{}),
	}
}

// Start runs the live loop until Stop is called or the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Uint("portfolio_id", s.cfg.PortfolioID),
		zap.Duration("tick_interval", s.cfg.TickInterval))

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunIteration(ctx); err != nil {
				s.logger.Error("iteration failed", zap.Error(err))
			}
		case <-s.stopChan:
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler context canceled")
			return
		}
	}
}

// Stop ends the live loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// RunBacktest steps a simulated clock from start to end, running one
// iteration per step. The feed is told the simulated time before each
// iteration when it supports that.
func (s *Scheduler) RunBacktest(ctx context.Context, start, end time.Time, step time.Duration) error {
	clock, ok := s.clock.(*SimulatedClock)
	if !ok {
		clock = NewSimulatedClock(start)
		s.clock = clock
	}

	type nowSetter interface{ SetNow(time.Time) }

	for !clock.Now().After(end) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if setter, ok := s.feed.(nowSetter); ok {
			setter.SetNow(clock.Now())
		}
		if err := s.RunIteration(ctx); err != nil {
			return err
		}
		clock.Advance(step)
	}
	return nil
}

// RunIteration executes one pass of the iteration algorithm: select due
// strategies, union their data sources with the symbols of open orders
// and trades, fetch every source exactly once, evaluate risk, run the
// due strategies and snapshot on cadence.
func (s *Scheduler) RunIteration(ctx context.Context) error {
	current := s.clock.Now()

	due := s.selectDue(current)

	quoteSymbols, windows, err := s.collectSources(due)
	if err != nil {
		return err
	}

	data := s.fetch(ctx, current, quoteSymbols, windows)

	if err := s.engine.CheckConsistency(ctx, s.cfg.PortfolioID); err != nil {
		s.logger.Error("consistency check failed", zap.Error(err))
	}

	if err := s.evaluator.Evaluate(ctx, s.cfg.PortfolioID, data); err != nil {
		s.logger.Error("risk evaluation failed", zap.Error(err))
	}

	app := &strategy.Context{
		PortfolioID: s.cfg.PortfolioID,
		Engine:      s.engine,
		Logger:      s.logger,
	}
	for _, st := range due {
		if err := st.Run(ctx, app, data); err != nil {
			s.logger.Error("strategy run failed",
				zap.String("strategy", st.Name()), zap.Error(err))
		}
	}

	return s.maybeSnapshot(current, data)
}

// selectDue returns the strategies whose next run is at or before
// current and advances their next-run timestamps by one interval.
func (s *Scheduler) selectDue(current time.Time) []strategy.Strategy {
	var due []strategy.Strategy
	for _, st := range s.registry.All() {
		next, ok := s.nextRuns[st.Name()]
		if !ok {
			next = current
		}
		if next.After(current) {
			continue
		}
		due = append(due, st)
		s.nextRuns[st.Name()] = next.Add(time.Duration(st.Interval()) * st.TimeUnit().Duration())
	}
	return due
}

// collectSources unions the due strategies' data sources with the
// symbols of open orders and open trades.
func (s *Scheduler) collectSources(due []strategy.Strategy) (map[string]bool, map[string]windowSpec, error) {
	quotes := make(map[string]bool)
	windows := make(map[string]windowSpec)

	for _, st := range due {
		for _, src := range st.DataSources() {
			quotes[src.Symbol] = true
			if src.TimeFrame != "" {
				addWindow(windows, windowSpec{symbol: src.Symbol, timeFrame: src.TimeFrame, size: src.WindowSize})
			}
		}
	}

	ledger := s.engine.Ledger()
	orders, err := ledger.GetOpenOrders(s.cfg.PortfolioID)
	if err != nil {
		return nil, nil, err
	}
	trades, err := ledger.GetOpenTrades(s.cfg.PortfolioID)
	if err != nil {
		return nil, nil, err
	}

	riskSymbols := make(map[string]bool)
	for i := range orders {
		riskSymbols[orders[i].TargetSymbol] = true
	}
	for i := range trades {
		riskSymbols[trades[i].TargetSymbol] = true
	}
	for symbol := range riskSymbols {
		quotes[symbol] = true
		if s.cfg.RiskTimeFrame != "" {
			addWindow(windows, windowSpec{symbol: symbol, timeFrame: s.cfg.RiskTimeFrame, size: s.cfg.RiskWindowSize})
		}
	}
	return quotes, windows, nil
}

func addWindow(windows map[string]windowSpec, spec windowSpec) {
	if spec.symbol == "" || spec.timeFrame == "" {
		return
	}
	if spec.size <= 0 {
		spec.size = 1
	}
	key := pricefeed.WindowKey(spec.symbol, spec.timeFrame)
	if existing, ok := windows[key]; ok && existing.size >= spec.size {
		return
	}
	windows[key] = spec
}

// fetch resolves every required source exactly once. Failures are
// recorded per source and never abort the iteration.
func (s *Scheduler) fetch(ctx context.Context, current time.Time, quoteSymbols map[string]bool, windows map[string]windowSpec) *pricefeed.MarketData {
	data := pricefeed.NewMarketData()

	for symbol := range quoteSymbols {
		quote, err := s.feed.GetLatest(ctx, symbol)
		if err != nil {
			data.Errors[symbol] = err
			s.logger.Warn("quote fetch failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		data.Quotes[quote.Symbol] = quote
	}

	for key, spec := range windows {
		bars, err := s.feed.GetOHLCVWindow(ctx, spec.symbol, spec.timeFrame, current, spec.size)
		if err != nil {
			data.Errors[key] = err
			s.logger.Warn("window fetch failed", zap.String("source", key), zap.Error(err))
			continue
		}
		data.Windows[key] = bars
	}
	return data
}

// maybeSnapshot writes a portfolio snapshot on the configured cadence:
// every iteration, or once per elapsed day.
func (s *Scheduler) maybeSnapshot(current time.Time, data *pricefeed.MarketData) error {
	if s.cfg.SnapshotDaily && !s.lastSnapshot.IsZero() && current.Sub(s.lastSnapshot) < 24*time.Hour {
		return nil
	}

	ledger := s.engine.Ledger()
	portfolio, err := ledger.GetPortfolio(s.cfg.PortfolioID)
	if err != nil {
		return err
	}
	positions, err := ledger.GetPositions(portfolio.ID)
	if err != nil {
		return err
	}

	var allocated float64
	for i := range positions {
		p := &positions[i]
		if p.Symbol == portfolio.TradingSymbol || p.Amount <= 0 {
			continue
		}
		allocated += p.Amount * s.lastPrice(data, p.Symbol)
	}

	snapshot := &models.PortfolioSnapshot{
		PortfolioID:  portfolio.ID,
		Unallocated:  portfolio.Unallocated,
		Allocated:    allocated,
		TotalValue:   portfolio.Unallocated + allocated,
		TotalCost:    portfolio.TotalCost,
		TotalNetGain: portfolio.TotalNetGain,
		CreatedAt:    current,
	}
	if err := ledger.CreateSnapshot(snapshot); err != nil {
		return err
	}
	s.lastSnapshot = current
	return nil
}

// lastPrice values a position from this iteration's fetched data; a
// symbol without coverage contributes zero.
func (s *Scheduler) lastPrice(data *pricefeed.MarketData, symbol string) float64 {
	if quote := data.Quote(symbol); quote != nil && quote.Last > 0 {
		return quote.Last
	}
	if bars := data.AnyWindow(symbol); len(bars) > 0 {
		return bars[len(bars)-1].Close
	}
	return 0
}
