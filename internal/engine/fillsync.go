package engine

import (
	"github.com/tradecore/internal/models"
	"go.uber.org/zap"
)

// applyPatchLocked applies a partial order update and drives the
// fill-sync and release routines. Must run under the portfolio lock.
// Every order mutation in the system flows through here, so no fill or
// cancellation can bypass balance accounting.
func (e *Engine) applyPatchLocked(order *models.Order, patch OrderPatch) error {
	oldFilled := order.Filled
	oldStatus := order.Status

	if patch.ExternalID != nil && *patch.ExternalID != "" {
		order.ExternalID = *patch.ExternalID
	}
	if patch.Price != nil && *patch.Price > 0 {
		order.Price = *patch.Price
	}
	if patch.Filled != nil {
		order.Filled = *patch.Filled
	}
	order.Remaining = order.Amount - order.Filled
	if order.Remaining < 0 {
		order.Remaining = 0
	}
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if order.Filled >= order.Amount && !order.IsTerminal() {
		order.Status = models.OrderStatusClosed
	}

	// A re-applied patch with an unchanged filled value produces a zero
	// difference and therefore no double-counted sync effects.
	if diff := order.Filled - oldFilled; diff > 0 {
		if err := e.syncFill(order, diff); err != nil {
			return err
		}
	}

	if order.Status != oldStatus && releasesFunds(order.Status) {
		if err := e.release(order); err != nil {
			return err
		}
	}

	return e.ledger.UpdateOrder(order)
}

func releasesFunds(status models.OrderStatus) bool {
	return status == models.OrderStatusCanceled ||
		status == models.OrderStatusExpired ||
		status == models.OrderStatusRejected
}

// syncFill propagates a positive filled difference into positions,
// portfolio counters and (for SELLs) the FIFO trade-closing matcher.
func (e *Engine) syncFill(order *models.Order, diff float64) error {
	portfolio, err := e.ledger.GetPortfolio(order.PortfolioID)
	if err != nil {
		return err
	}
	target, err := e.ledger.GetPositionByID(order.PositionID)
	if err != nil {
		return err
	}

	notional := diff * order.Price

	switch order.Side {
	case models.OrderSideBuy:
		target.Amount += diff
		target.Cost += notional
		if err := e.ledger.UpdatePosition(target); err != nil {
			return err
		}

		// A LIMIT BUY reservation already equals the fill notional. A
		// MARKET BUY reserved one trading-symbol unit per target unit, so
		// the filled slice of that reservation is swapped for what the
		// fill actually cost.
		if order.Reserved && order.Type == models.OrderTypeMarket {
			cash, err := e.ledger.GetPosition(portfolio.ID, portfolio.TradingSymbol)
			if err != nil {
				return err
			}
			portfolio.Unallocated += diff - notional
			cash.Amount += diff - notional
			if err := e.ledger.UpdatePosition(cash); err != nil {
				return err
			}
		}

		portfolio.TotalCost += notional
		portfolio.TotalTradeVolume += notional
		if err := e.ledger.UpdatePortfolio(portfolio); err != nil {
			return err
		}

		trade, err := e.ledger.GetTradeByBuyOrder(order.ID)
		if err != nil {
			return err
		}
		if trade.OpenPrice == 0 {
			trade.OpenPrice = order.Price
			trade.HighWaterMark = order.Price
		}
		trade.Status = models.TradeStatusOpen
		if err := e.ledger.UpdateTrade(trade); err != nil {
			return err
		}

	case models.OrderSideSell:
		cash, err := e.ledger.GetPosition(portfolio.ID, portfolio.TradingSymbol)
		if err != nil {
			return err
		}
		portfolio.Unallocated += notional
		cash.Amount += notional
		portfolio.TotalTradeVolume += notional
		if err := e.ledger.UpdatePosition(cash); err != nil {
			return err
		}

		gain, costClosed, err := e.matchTrades(order, diff, order.Price)
		if err != nil {
			return err
		}

		portfolio.TotalNetGain += gain
		portfolio.TotalCost -= costClosed
		if err := e.ledger.UpdatePortfolio(portfolio); err != nil {
			return err
		}

		target.Cost -= costClosed
		if target.Cost < 0 {
			target.Cost = 0
		}
		if err := e.ledger.UpdatePosition(target); err != nil {
			return err
		}
	}

	e.logger.Debug("fill synced",
		zap.Uint("order_id", order.ID),
		zap.String("side", string(order.Side)),
		zap.Float64("filled_difference", diff),
		zap.Float64("price", order.Price))

	return nil
}

// release returns the unfilled remainder of a reserved order: the
// trading symbol for BUYs, position units for SELLs.
func (e *Engine) release(order *models.Order) error {
	if !order.Reserved {
		return nil
	}
	unfilled := order.Amount - order.Filled
	if unfilled <= 0 {
		return nil
	}

	portfolio, err := e.ledger.GetPortfolio(order.PortfolioID)
	if err != nil {
		return err
	}

	switch order.Side {
	case models.OrderSideBuy:
		credit := unfilled
		if order.Type == models.OrderTypeLimit {
			credit = unfilled * order.Price
		}
		cash, err := e.ledger.GetPosition(portfolio.ID, portfolio.TradingSymbol)
		if err != nil {
			return err
		}
		portfolio.Unallocated += credit
		cash.Amount += credit
		if err := e.ledger.UpdatePortfolio(portfolio); err != nil {
			return err
		}
		if err := e.ledger.UpdatePosition(cash); err != nil {
			return err
		}

		// Shrink the trade to what actually filled; a never-filled BUY
		// leaves a closed, empty trade.
		trade, err := e.ledger.GetTradeByBuyOrder(order.ID)
		if err != nil {
			return err
		}
		trade.Amount = order.Filled
		trade.Remaining = order.Filled - order.TradeClosedAmount
		if trade.Remaining <= 0 {
			trade.Remaining = 0
			trade.Status = models.TradeStatusClosed
			closedAt := now()
			trade.ClosedAt = &closedAt
		}
		if err := e.ledger.UpdateTrade(trade); err != nil {
			return err
		}

	case models.OrderSideSell:
		target, err := e.ledger.GetPositionByID(order.PositionID)
		if err != nil {
			return err
		}
		target.Amount += unfilled
		if err := e.ledger.UpdatePosition(target); err != nil {
			return err
		}
	}

	e.logger.Info("reservation released",
		zap.Uint("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.Float64("unfilled", unfilled))

	return nil
}
