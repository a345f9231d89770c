package engine

import (
	"errors"
	"fmt"
)

// Validation errors: the order is rejected before any ledger mutation.
var (
	ErrInsufficientBalance  = errors.New("insufficient unallocated balance")
	ErrInsufficientPosition = errors.New("insufficient position amount")
	ErrNoPosition           = errors.New("no position for symbol")
	ErrSymbolMismatch       = errors.New("trading symbol does not match portfolio")
	ErrInvalidAmount        = errors.New("order amount must be positive")
	ErrInvalidPrice         = errors.New("limit order requires a positive price")
	ErrPortfolioHalted      = errors.New("portfolio halted pending consistency resolution")
	ErrTradeNotOpen         = errors.New("trade is not open")
)

// ExecutionError wraps a gateway failure. By the time it surfaces the
// order has been forced to REJECTED and its reserved funds released.
type ExecutionError struct {
	OrderID uint
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("order %d execution failed: %v", e.OrderID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports a ledger/venue balance mismatch beyond
// tolerance. It is fatal for the portfolio: no further orders are placed
// until an operator resolves it.
type ConsistencyError struct {
	PortfolioID uint
	Symbol      string
	Ledger      float64
	Venue       float64
	Tolerance   float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("portfolio %d: ledger %s balance %.8f disagrees with venue %.8f (tolerance %.8f)",
		e.PortfolioID, e.Symbol, e.Ledger, e.Venue, e.Tolerance)
}
