package engine

import (
	"fmt"

	"github.com/tradecore/internal/models"
)

// validateOrder enforces the pre-persist rules. It never mutates the
// ledger: a failed order leaves no trace.
func (e *Engine) validateOrder(portfolio *models.Portfolio, cash, target *models.Position, req OrderRequest) error {
	if req.Amount <= 0 {
		return fmt.Errorf("%w: got %f", ErrInvalidAmount, req.Amount)
	}
	if req.Type == models.OrderTypeLimit && req.Price <= 0 {
		return fmt.Errorf("%w: got %f", ErrInvalidPrice, req.Price)
	}

	switch req.Side {
	case models.OrderSideSell:
		// A SELL requires an existing position holding at least the
		// requested amount.
		if target == nil {
			return fmt.Errorf("%w: %s", ErrNoPosition, req.TargetSymbol)
		}
		if target.Amount < req.Amount {
			return fmt.Errorf("%w: have %f %s, want to sell %f",
				ErrInsufficientPosition, target.Amount, req.TargetSymbol, req.Amount)
		}

	case models.OrderSideBuy:
		if req.TradingSymbol != "" && req.TradingSymbol != portfolio.TradingSymbol {
			return fmt.Errorf("%w: order %s, portfolio %s",
				ErrSymbolMismatch, req.TradingSymbol, portfolio.TradingSymbol)
		}
		if req.Type == models.OrderTypeLimit {
			if notional := req.Amount * req.Price; notional > cash.Amount {
				return fmt.Errorf("%w: need %f %s, cash position holds %f",
					ErrInsufficientBalance, notional, portfolio.TradingSymbol, cash.Amount)
			}
		} else {
			if req.Amount > portfolio.Unallocated {
				return fmt.Errorf("%w: need %f %s, unallocated %f",
					ErrInsufficientBalance, req.Amount, portfolio.TradingSymbol, portfolio.Unallocated)
			}
		}

	default:
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	return nil
}

// reserve decrements funds (BUY) or position units (SELL) optimistically
// at creation time, before the venue confirms.
func (e *Engine) reserve(portfolio *models.Portfolio, cash, target *models.Position, order *models.Order) error {
	switch order.Side {
	case models.OrderSideBuy:
		reserved := order.Amount
		if order.Type == models.OrderTypeLimit {
			reserved = order.Amount * order.Price
		}
		portfolio.Unallocated -= reserved
		cash.Amount -= reserved
		if err := e.ledger.UpdatePortfolio(portfolio); err != nil {
			return err
		}
		return e.ledger.UpdatePosition(cash)

	case models.OrderSideSell:
		target.Amount -= order.Amount
		return e.ledger.UpdatePosition(target)
	}
	return nil
}
