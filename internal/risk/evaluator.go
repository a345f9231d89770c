// Package risk evaluates stop-loss and take-profit rules against price
// data and turns triggered rules into SELL orders. Two evaluators share
// the trigger logic: the live one compares the latest ticker and polls
// the venue for pending orders, the backtest one scans OHLCV bars so
// intrabar crossings are not missed.
package risk

import (
	"context"
	"time"

	"github.com/tradecore/internal/engine"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/pricefeed"
	"go.uber.org/zap"
)

// Evaluator runs one evaluation pass for a portfolio: reconcile pending
// orders against fills, then evaluate risk rules on open trades.
type Evaluator interface {
	Evaluate(ctx context.Context, portfolioID uint, data *pricefeed.MarketData) error
}

// Observation is one normalized price observation. Live tickers collapse
// to Last == Low == High; OHLCV bars keep their intrabar extremes.
type Observation struct {
	Time time.Time
	Last float64
	Low  float64
	High float64
}

// core holds the trigger-and-emit logic shared by both evaluators.
type core struct {
	engine *engine.Engine
	logger *zap.Logger

	// execute forwards emitted SELL orders to the gateway. Off in
	// backtests, where the pending-order filler applies the fill.
	execute bool
}

// evaluateTrades walks the portfolio's open trades, resolves the price
// observations for each trade's symbol and evaluates every active rule.
func (c *core) evaluateTrades(ctx context.Context, portfolioID uint, observe func(symbol string) []Observation) error {
	ledger := c.engine.Ledger()

	trades, err := ledger.GetOpenTrades(portfolioID)
	if err != nil {
		return err
	}

	for i := range trades {
		trade := &trades[i]
		obs := observe(trade.TargetSymbol)
		if len(obs) == 0 {
			continue
		}

		rules, err := ledger.GetActiveRiskRules(trade.ID)
		if err != nil {
			return err
		}

		// Rules liquidate independently, but their combined emissions
		// never exceed what the trade still holds. A SELL emitted earlier
		// and still pending has already reserved its position units, so
		// the position balance caps the pass as well.
		available := trade.Remaining
		if pos, err := ledger.GetPosition(trade.PortfolioID, trade.TargetSymbol); err == nil && pos.Amount < available {
			available = pos.Amount
		}
		for j := range rules {
			sold, err := c.evaluateRule(ctx, trade, &rules[j], obs, available)
			if err != nil {
				return err
			}
			available -= sold
		}

		if err := c.markTrade(trade.ID, obs); err != nil {
			return err
		}
	}
	return nil
}

// evaluateRule runs one rule over the observations in time order. The
// high-water mark is extended before the trigger comparison, so a single
// observation both moves the mark and is judged against the moved
// trigger. Returns the units liquidated by this rule during the pass.
func (c *core) evaluateRule(ctx context.Context, trade *models.Trade, rule *models.RiskRule, obs []Observation, available float64) (float64, error) {
	ledger := c.engine.Ledger()
	var sold float64

	for _, o := range obs {
		if rule.LastEvaluatedAt != nil && !o.Time.After(*rule.LastEvaluatedAt) {
			continue
		}

		if rule.RiskType == models.RiskTypeTrailing {
			extendMark(rule, o)
		}

		trigger := rule.TriggerPrice()
		crossed := false
		switch rule.Kind {
		case models.RiskRuleStopLoss:
			crossed = o.Low <= trigger
		case models.RiskRuleTakeProfit:
			crossed = o.High >= trigger
		}
		if !crossed {
			seen := o.Time
			rule.LastEvaluatedAt = &seen
			continue
		}

		amount := rule.RemainingSellAmount()
		if amount > available {
			amount = available
		}
		if amount <= 0 {
			// The units are tied up, typically by a pending SELL that may
			// still be canceled. Leave the rule active and the observation
			// unconsumed so a later pass retries the trigger.
			break
		}

		order, err := c.engine.CreateOrder(ctx, engine.OrderRequest{
			PortfolioID:  trade.PortfolioID,
			TargetSymbol: trade.TargetSymbol,
			Side:         models.OrderSideSell,
			Type:         models.OrderTypeMarket,
			Amount:       amount,
			Price:        o.Last,
		}, engine.CreateOptions{Execute: c.execute, Validate: true, Sync: true})
		if err != nil {
			// The triggering observation stays unconsumed so the next pass
			// retries the emission; the mark movement is idempotent. Persist
			// the rule and surface the error.
			if uerr := ledger.UpdateRiskRule(rule); uerr != nil {
				c.logger.Error("failed to persist risk rule", zap.Uint("rule_id", rule.ID), zap.Error(uerr))
			}
			return sold, err
		}

		seen := o.Time
		rule.LastEvaluatedAt = &seen
		rule.SoldAmount += amount
		if rule.SoldAmount >= rule.SellAmount {
			rule.Active = false
		}
		sold += amount

		c.logger.Info("risk rule triggered",
			zap.Uint("rule_id", rule.ID),
			zap.Uint("trade_id", trade.ID),
			zap.String("kind", string(rule.Kind)),
			zap.String("risk_type", string(rule.RiskType)),
			zap.Float64("trigger_price", trigger),
			zap.Float64("observed", o.Last),
			zap.Float64("sell_amount", amount),
			zap.Uint("sell_order_id", order.ID))
		break
	}

	return sold, ledger.UpdateRiskRule(rule)
}

// extendMark moves the trailing mark in the trader's favor only. A
// stop-loss anchors to the best price seen so its trigger ratchets up; a
// take-profit anchors to the worst dip so its trigger ratchets down.
func extendMark(rule *models.RiskRule, o Observation) {
	switch rule.Kind {
	case models.RiskRuleStopLoss:
		if o.High > rule.HighWaterMark {
			rule.HighWaterMark = o.High
		}
	case models.RiskRuleTakeProfit:
		if rule.HighWaterMark == 0 || o.Low < rule.HighWaterMark {
			rule.HighWaterMark = o.Low
		}
	}
}

// markTrade keeps the trade's reporting high-water mark at the best
// price observed since open. The trade is reloaded first: an emitted
// SELL may have filled synchronously during this pass, and writing back
// the copy read at the start of the pass would revert the fill.
func (c *core) markTrade(tradeID uint, obs []Observation) error {
	ledger := c.engine.Ledger()
	trade, err := ledger.GetTrade(tradeID)
	if err != nil {
		return err
	}
	if !trade.IsOpen() {
		return nil
	}

	best := trade.HighWaterMark
	for _, o := range obs {
		if o.High > best {
			best = o.High
		}
	}
	if best == trade.HighWaterMark {
		return nil
	}
	trade.HighWaterMark = best
	return ledger.UpdateTrade(trade)
}
