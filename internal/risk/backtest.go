package risk

import (
	"context"

	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/pricefeed"
	"go.uber.org/zap"
)

// BacktestEvaluator drives fills and risk triggers from OHLCV bars. No
// venue is involved: pending MARKET orders fill at the newest bar's
// close, pending LIMIT orders fill once the newest bar crosses the limit
// price, and risk rules are checked against bar lows and highs so
// intrabar crossings are detected.
type BacktestEvaluator struct {
	core
}

// NewBacktestEvaluator creates a backtest evaluator. Emitted SELL orders
// stay in the ledger and fill on a later bar.
func NewBacktestEvaluator(eng *engine.Engine, logger *zap.Logger) *BacktestEvaluator {
	return &BacktestEvaluator{core: core{engine: eng, logger: logger, execute: false}}
}

// Evaluate fills pending orders from the newest bar, then runs the risk
// rules over every bar not yet evaluated.
func (e *BacktestEvaluator) Evaluate(ctx context.Context, portfolioID uint, data *pricefeed.MarketData) error {
	if err := e.fillPending(ctx, portfolioID, data); err != nil {
		return err
	}

	return e.evaluateTrades(ctx, portfolioID, func(symbol string) []Observation {
		bars := data.AnyWindow(symbol)
		obs := make([]Observation, 0, len(bars))
		for _, bar := range bars {
			obs = append(obs, Observation{
				Time: bar.Datetime,
				Last: bar.Close,
				Low:  bar.Low,
				High: bar.High,
			})
		}
		return obs
	})
}

// fillPending applies the newest bar to every open order. The scheduler
// advances one bar per iteration, so checking only the newest bar covers
// the whole series without replaying history an order predates.
func (e *BacktestEvaluator) fillPending(ctx context.Context, portfolioID uint, data *pricefeed.MarketData) error {
	orders, err := e.engine.Ledger().GetOpenOrders(portfolioID)
	if err != nil {
		return err
	}

	for i := range orders {
		order := &orders[i]
		bar, ok := newestBar(data, order.TargetSymbol)
		if !ok {
			continue
		}

		var fillPrice float64
		switch order.Type {
		case models.OrderTypeMarket:
			fillPrice = bar.Close
		case models.OrderTypeLimit:
			if !limitCrossed(order.Side, order.Price, bar) {
				continue
			}
			fillPrice = order.Price
		default:
			continue
		}

		filled := order.Amount
		status := models.OrderStatusClosed
		patch := engine.OrderPatch{Filled: &filled, Status: &status}
		if fillPrice > 0 {
			patch.Price = &fillPrice
		}
		if _, err := e.engine.UpdateOrder(ctx, order.ID, patch); err != nil {
			return err
		}

		e.logger.Debug("simulated fill",
			zap.Uint("order_id", order.ID),
			zap.String("symbol", order.TargetSymbol),
			zap.String("type", string(order.Type)),
			zap.Float64("price", fillPrice))
	}
	return nil
}

func newestBar(data *pricefeed.MarketData, symbol string) (pricefeed.Candle, bool) {
	bars := data.AnyWindow(symbol)
	if len(bars) == 0 {
		return pricefeed.Candle{}, false
	}
	return bars[len(bars)-1], true
}

// limitCrossed reports whether a bar traded through a limit price: a BUY
// fills once the low touches the limit, a SELL once the high does.
func limitCrossed(side models.OrderSide, limit float64, bar pricefeed.Candle) bool {
	if side == models.OrderSideBuy {
		return bar.Low <= limit
	}
	return bar.High >= limit
}
