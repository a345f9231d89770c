package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/pricefeed"
	"github.com/tradecore/internal/store"
	"github.com/tradecore/internal/strategy"
	"go.uber.org/zap"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// countingFeed serves canned quotes and bars while counting fetches.
type countingFeed struct {
	mu          sync.Mutex
	quoteCalls  map[string]int
	windowCalls map[string]int
	nowSeen     []time.Time
}

func newCountingFeed() *countingFeed {
	return &countingFeed{
		quoteCalls:  make(map[string]int),
		windowCalls: make(map[string]int),
	}
}

func (f *countingFeed) GetLatest(_ context.Context, symbol string) (*pricefeed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls[symbol]++
	return &pricefeed.Quote{Symbol: symbol, Last: 100, Timestamp: start}, nil
}

func (f *countingFeed) GetOHLCVWindow(_ context.Context, symbol, timeFrame string, end time.Time, size int) ([]pricefeed.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowCalls[pricefeed.WindowKey(symbol, timeFrame)]++
	return []pricefeed.Candle{{Datetime: end, Open: 100, High: 101, Low: 99, Close: 100}}, nil
}

func (f *countingFeed) SetNow(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowSeen = append(f.nowSeen, now)
}

// recordingEvaluator remembers the MarketData it was handed.
type recordingEvaluator struct {
	calls int
	data  *pricefeed.MarketData
}

func (e *recordingEvaluator) Evaluate(_ context.Context, _ uint, data *pricefeed.MarketData) error {
	e.calls++
	e.data = data
	return nil
}

// stubStrategy runs on a fixed cadence and records what it received.
type stubStrategy struct {
	name     string
	unit     strategy.TimeUnit
	interval int
	sources  []strategy.DataSource

	runs []time.Time
	data []*pricefeed.MarketData
}

func (s *stubStrategy) Name() string                       { return s.name }
func (s *stubStrategy) TimeUnit() strategy.TimeUnit        { return s.unit }
func (s *stubStrategy) Interval() int                      { return s.interval }
func (s *stubStrategy) DataSources() []strategy.DataSource { return s.sources }

func (s *stubStrategy) Run(_ context.Context, _ *strategy.Context, data *pricefeed.MarketData) error {
	s.runs = append(s.runs, time.Time{})
	s.data = append(s.data, data)
	return nil
}

func newTestScheduler(t *testing.T, strategies []strategy.Strategy, cfg Config) (*Scheduler, *engine.Engine, *countingFeed, *recordingEvaluator, *SimulatedClock) {
	t.Helper()
	eng := engine.New(store.NewMemoryStore(), nil, zap.NewNop())

	portfolio, err := eng.CreatePortfolio("sched-test", "binance", "EUR", 10000)
	require.NoError(t, err)
	cfg.PortfolioID = portfolio.ID

	registry := strategy.NewRegistry()
	for _, s := range strategies {
		registry.Register(s)
	}

	feed := newCountingFeed()
	evaluator := &recordingEvaluator{}
	clock := NewSimulatedClock(start)
	sched := New(eng, registry, feed, evaluator, clock, zap.NewNop(), cfg)
	return sched, eng, feed, evaluator, clock
}

func TestDueSelectionAdvancesNextRun(t *testing.T) {
	st := &stubStrategy{name: "every-two-minutes", unit: strategy.UnitMinute, interval: 2}
	sched, _, _, evaluator, clock := newTestScheduler(t, []strategy.Strategy{st}, Config{})

	require.NoError(t, sched.RunIteration(context.Background()))
	assert.Len(t, st.runs, 1)

	clock.Advance(time.Minute)
	require.NoError(t, sched.RunIteration(context.Background()))
	assert.Len(t, st.runs, 1)

	clock.Advance(time.Minute)
	require.NoError(t, sched.RunIteration(context.Background()))
	assert.Len(t, st.runs, 2)

	// The evaluator runs every iteration regardless of due strategies.
	assert.Equal(t, 3, evaluator.calls)
}

func TestSingleFetchSharedAcrossConsumers(t *testing.T) {
	source := strategy.DataSource{Symbol: "BTC", TimeFrame: "1h", WindowSize: 5}
	first := &stubStrategy{name: "first", unit: strategy.UnitMinute, interval: 1, sources: []strategy.DataSource{source}}
	second := &stubStrategy{name: "second", unit: strategy.UnitMinute, interval: 1, sources: []strategy.DataSource{source}}
	sched, _, feed, evaluator, _ := newTestScheduler(t, []strategy.Strategy{first, second}, Config{})

	require.NoError(t, sched.RunIteration(context.Background()))

	assert.Equal(t, 1, feed.quoteCalls["BTC"])
	assert.Equal(t, 1, feed.windowCalls[pricefeed.WindowKey("BTC", "1h")])

	// Both strategies and the evaluator saw the same MarketData.
	require.Len(t, first.data, 1)
	require.Len(t, second.data, 1)
	assert.Same(t, first.data[0], second.data[0])
	assert.Same(t, evaluator.data, first.data[0])
}

func TestOpenPositionsExtendCoverage(t *testing.T) {
	sched, eng, feed, _, _ := newTestScheduler(t, nil, Config{RiskTimeFrame: "1h", RiskWindowSize: 3})

	// An open order on a symbol no strategy targets.
	_, err := eng.CreateOrder(context.Background(), engine.OrderRequest{
		PortfolioID:  sched.cfg.PortfolioID,
		TargetSymbol: "ETH",
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeLimit,
		Amount:       1,
		Price:        50,
	}, engine.CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	require.NoError(t, sched.RunIteration(context.Background()))

	assert.Equal(t, 1, feed.quoteCalls["ETH"])
	assert.Equal(t, 1, feed.windowCalls[pricefeed.WindowKey("ETH", "1h")])
}

func TestSnapshotCadenceDaily(t *testing.T) {
	sched, eng, _, _, clock := newTestScheduler(t, nil, Config{SnapshotDaily: true})

	// Three iterations inside one day produce a single snapshot beyond
	// the one written at portfolio creation.
	for i := 0; i < 3; i++ {
		require.NoError(t, sched.RunIteration(context.Background()))
		clock.Advance(time.Hour)
	}
	snapshots, err := eng.Ledger().GetSnapshots(sched.cfg.PortfolioID, 100)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)

	clock.Advance(24 * time.Hour)
	require.NoError(t, sched.RunIteration(context.Background()))
	snapshots, err = eng.Ledger().GetSnapshots(sched.cfg.PortfolioID, 100)
	require.NoError(t, err)
	assert.Len(t, snapshots, 3)
}

func TestSnapshotEveryIteration(t *testing.T) {
	sched, eng, _, _, clock := newTestScheduler(t, nil, Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, sched.RunIteration(context.Background()))
		clock.Advance(time.Minute)
	}
	snapshots, err := eng.Ledger().GetSnapshots(sched.cfg.PortfolioID, 100)
	require.NoError(t, err)
	assert.Len(t, snapshots, 4)
}

func TestBacktestStepsSimulatedTime(t *testing.T) {
	st := &stubStrategy{name: "hourly", unit: strategy.UnitHour, interval: 1}
	sched, _, feed, _, _ := newTestScheduler(t, []strategy.Strategy{st}, Config{})

	end := start.Add(3 * time.Hour)
	require.NoError(t, sched.RunBacktest(context.Background(), start, end, time.Hour))

	// Iterations at t0, +1h, +2h, +3h; the feed saw each simulated time.
	assert.Len(t, st.runs, 4)
	require.Len(t, feed.nowSeen, 4)
	assert.Equal(t, start, feed.nowSeen[0])
	assert.Equal(t, end, feed.nowSeen[3])
}
