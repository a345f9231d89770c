package engine

import (
	"github.com/tradecore/internal/models"
	"go.uber.org/zap"
)

// matchTrades closes open BUY orders against a SELL fill, oldest BUY
// first. The ledger's GetUnmatchedBuyOrders is the explicit FIFO index:
// BUY orders with unmatched filled units ordered by creation time.
//
// Returns the aggregate net gain and the aggregate cost basis closed, so
// the caller can adjust portfolio counters in a single update.
func (e *Engine) matchTrades(sellOrder *models.Order, units, sellPrice float64) (gain, costClosed float64, err error) {
	buys, err := e.ledger.GetUnmatchedBuyOrders(sellOrder.PortfolioID, sellOrder.TargetSymbol)
	if err != nil {
		return 0, 0, err
	}

	remaining := units
	for i := range buys {
		if remaining <= 0 {
			break
		}
		buy := &buys[i]

		available := buy.AvailableToClose()
		if available <= 0 {
			continue
		}
		chunk := available
		if remaining < chunk {
			chunk = remaining
		}

		chunkGain := (sellPrice - buy.Price) * chunk

		buy.TradeClosedAmount += chunk
		buy.TradeClosedPrice = sellPrice
		closedAt := now()
		buy.TradeClosedAt = &closedAt
		buy.NetGain += chunkGain
		if err := e.ledger.UpdateOrder(buy); err != nil {
			return 0, 0, err
		}

		trade, err := e.ledger.GetTradeByBuyOrder(buy.ID)
		if err != nil {
			return 0, 0, err
		}
		trade.Remaining -= chunk
		trade.NetGain += chunkGain
		trade.ClosedPrice = sellPrice
		if trade.Remaining <= 0 {
			trade.Remaining = 0
			trade.Status = models.TradeStatusClosed
			trade.ClosedAt = &closedAt
		}
		if err := e.ledger.UpdateTrade(trade); err != nil {
			return 0, 0, err
		}

		gain += chunkGain
		costClosed += buy.Price * chunk
		remaining -= chunk

		e.logger.Debug("trade chunk closed",
			zap.Uint("buy_order_id", buy.ID),
			zap.Uint("sell_order_id", sellOrder.ID),
			zap.Float64("units", chunk),
			zap.Float64("buy_price", buy.Price),
			zap.Float64("sell_price", sellPrice),
			zap.Float64("net_gain", chunkGain))
	}

	// The SELL order records how much it closed and at what price. A
	// remainder with no open BUYs left stays unmatched.
	matched := units - remaining
	if matched > 0 {
		sellOrder.TradeClosedAmount += matched
		sellOrder.TradeClosedPrice = sellPrice
		closedAt := now()
		sellOrder.TradeClosedAt = &closedAt
		sellOrder.NetGain += gain
	}
	return gain, costClosed, nil
}
