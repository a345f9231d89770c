package risk

import (
	"context"

	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/pricefeed"
	"go.uber.org/zap"
)

// LiveEvaluator polls the exchange gateway for pending order status and
// compares risk rules against the latest ticker quote.
type LiveEvaluator struct {
	core
}

// NewLiveEvaluator creates a live evaluator. Emitted SELL orders are
// forwarded to the engine's gateway.
func NewLiveEvaluator(eng *engine.Engine, logger *zap.Logger) *LiveEvaluator {
	return &LiveEvaluator{core: core{engine: eng, logger: logger, execute: true}}
}

// Evaluate reconciles every open order against the venue, then runs the
// risk rules on the latest quotes.
func (e *LiveEvaluator) Evaluate(ctx context.Context, portfolioID uint, data *pricefeed.MarketData) error {
	if err := e.reconcilePending(ctx, portfolioID); err != nil {
		return err
	}

	return e.evaluateTrades(ctx, portfolioID, func(symbol string) []Observation {
		quote := data.Quote(symbol)
		if quote == nil || quote.Last <= 0 {
			return nil
		}
		return []Observation{{
			Time: quote.Timestamp,
			Last: quote.Last,
			Low:  quote.Last,
			High: quote.Last,
		}}
	})
}

func (e *LiveEvaluator) reconcilePending(ctx context.Context, portfolioID uint) error {
	orders, err := e.engine.Ledger().GetOpenOrders(portfolioID)
	if err != nil {
		return err
	}
	for i := range orders {
		if orders[i].ExternalID == "" {
			continue
		}
		if _, err := e.engine.Reconcile(ctx, orders[i].ID); err != nil {
			e.logger.Warn("order reconciliation failed",
				zap.Uint("order_id", orders[i].ID), zap.Error(err))
		}
	}
	return nil
}
