// Package builtins ships ready-made strategies registered at startup.
package builtins

import (
	"context"
	"fmt"

	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/pricefeed"
	"github.com/tradecore/internal/sizing"
	"github.com/tradecore/internal/strategy"
	"go.uber.org/zap"
)

// Rebalance buys toward a fixed percentage weight per symbol on every
// run, funding the buys from the portfolio's unallocated balance. When
// the combined shortfall exceeds the free balance every order is scaled
// down by the same factor.
type Rebalance struct {
	unit        strategy.TimeUnit
	interval    int
	timeFrame   string
	weights     map[string]float64
	minNotional float64

	// Optional risk attachment for every opened trade.
	StopLossPercent  float64
	StopLossTrailing bool
	SellPercentage   float64
}

// NewRebalance creates a rebalance strategy targeting the given
// percentage weights (symbol to percent of total portfolio value).
func NewRebalance(unit strategy.TimeUnit, interval int, timeFrame string, weights map[string]float64, minNotional float64) *Rebalance {
	return &Rebalance{
		unit:        unit,
		interval:    interval,
		timeFrame:   timeFrame,
		weights:     weights,
		minNotional: minNotional,
	}
}

func (s *Rebalance) Name() string                { return "rebalance" }
func (s *Rebalance) TimeUnit() strategy.TimeUnit { return s.unit }
func (s *Rebalance) Interval() int               { return s.interval }

func (s *Rebalance) DataSources() []strategy.DataSource {
	sources := make([]strategy.DataSource, 0, len(s.weights))
	for symbol := range s.weights {
		sources = append(sources, strategy.DataSource{Symbol: symbol, TimeFrame: s.timeFrame, WindowSize: 1})
	}
	return sources
}

// Run computes the notional shortfall per symbol against the target
// weight, scales all shortfalls through the position sizer and emits
// marketable LIMIT BUY orders for the survivors.
func (s *Rebalance) Run(ctx context.Context, app *strategy.Context, data *pricefeed.MarketData) error {
	ledger := app.Engine.Ledger()

	portfolio, err := ledger.GetPortfolio(app.PortfolioID)
	if err != nil {
		return err
	}

	prices := make(map[string]float64, len(s.weights))
	totalValue := portfolio.Unallocated
	for symbol := range s.weights {
		price, err := latestPrice(data, symbol)
		if err != nil {
			app.Logger.Warn("no price coverage, symbol skipped",
				zap.String("strategy", s.Name()), zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		prices[symbol] = price

		position, err := ledger.GetPosition(portfolio.ID, symbol)
		if err == nil {
			totalValue += position.Amount * price
		}
	}

	var desired []sizing.Allocation
	for symbol, weight := range s.weights {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		target := totalValue * weight / 100

		var held float64
		if position, err := ledger.GetPosition(portfolio.ID, symbol); err == nil {
			held = position.Amount * price
		}
		if shortfall := target - held; shortfall > 0 {
			desired = append(desired, sizing.Allocation{Symbol: symbol, Amount: shortfall})
		}
	}
	if len(desired) == 0 {
		return nil
	}

	result := sizing.Scale(desired, portfolio.Unallocated, totalValue, s.minNotional)
	for _, sized := range result.Allocations {
		price := prices[sized.Symbol]

		// Marketable LIMIT at the observed price: the notional converts
		// to units and the reservation covers exactly units times price.
		order, err := app.Engine.CreateOrder(ctx, engine.OrderRequest{
			PortfolioID:  portfolio.ID,
			TargetSymbol: sized.Symbol,
			Side:         models.OrderSideBuy,
			Type:         models.OrderTypeLimit,
			Amount:       sized.Notional / price,
			Price:        price,
		}, engine.CreateOptions{Execute: true, Validate: true, Sync: true})
		if err != nil {
			app.Logger.Warn("rebalance order rejected",
				zap.String("symbol", sized.Symbol), zap.Error(err))
			continue
		}

		if s.StopLossPercent > 0 {
			if err := s.attachStopLoss(app, order.ID); err != nil {
				app.Logger.Warn("stop-loss attachment failed",
					zap.Uint("order_id", order.ID), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Rebalance) attachStopLoss(app *strategy.Context, orderID uint) error {
	trade, err := app.Engine.Ledger().GetTradeByBuyOrder(orderID)
	if err != nil {
		return err
	}
	riskType := models.RiskTypeFixed
	if s.StopLossTrailing {
		riskType = models.RiskTypeTrailing
	}
	sellPct := s.SellPercentage
	if sellPct <= 0 {
		sellPct = 100
	}
	_, err = app.Engine.AddRiskRule(trade.ID, models.RiskRuleStopLoss, riskType, s.StopLossPercent, sellPct)
	return err
}

func latestPrice(data *pricefeed.MarketData, symbol string) (float64, error) {
	if quote := data.Quote(symbol); quote != nil && quote.Last > 0 {
		return quote.Last, nil
	}
	if bars := data.AnyWindow(symbol); len(bars) > 0 {
		return bars[len(bars)-1].Close, nil
	}
	return 0, fmt.Errorf("%s: %w", symbol, pricefeed.ErrNoData)
}
