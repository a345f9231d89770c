// Package exchange defines the gateway interface the reconciliation
// engine uses to place, cancel and query orders on a venue.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/tradecore/internal/models"
)

var (
	ErrOrderNotFound    = errors.New("order not found on venue")
	ErrPlacementFailed  = errors.New("order placement failed")
	ErrNotConnected     = errors.New("gateway not connected")
	ErrUnsupportedOrder = errors.New("unsupported order type")
)

// OrderSnapshot is the venue's normalized view of an order.
type OrderSnapshot struct {
	ExternalID string             `json:"external_id"`
	Symbol     string             `json:"symbol"`
	Status     models.OrderStatus `json:"status"`
	Price      float64            `json:"price"`
	Amount     float64            `json:"amount"`
	Filled     float64            `json:"filled"`
	Remaining  float64            `json:"remaining"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Balance is the free/used split of one asset on the venue.
type Balance struct {
	Free float64 `json:"free"`
	Used float64 `json:"used"`
}

// PlaceOrderRequest carries everything a venue needs to accept an order.
type PlaceOrderRequest struct {
	Symbol        string
	Side          models.OrderSide
	Type          models.OrderType
	Amount        float64
	Price         float64
	ClientOrderID string
}

// Gateway abstracts venue operations. The engine is its only consumer:
// placement and cancellation flow through it in live mode, and the live
// risk evaluator polls GetOrder for fills.
type Gateway interface {
	// Name returns the venue identifier (e.g. "binance", "paper").
	Name() string

	// PlaceOrder submits the order and returns the venue's snapshot.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderSnapshot, error)

	// CancelOrder requests cancellation of a working order.
	CancelOrder(ctx context.Context, externalID, symbol string) error

	// GetOrder returns the venue's current view of an order, or
	// ErrOrderNotFound if the venue does not know it.
	GetOrder(ctx context.Context, externalID, symbol string) (*OrderSnapshot, error)

	// GetBalance returns free/used balances per asset.
	GetBalance(ctx context.Context) (map[string]Balance, error)
}
