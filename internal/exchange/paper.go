package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tradecore/internal/models"
	"go.uber.org/zap"
)

// Compile-time interface check.
var _ Gateway = (*PaperGateway)(nil)

// PriceFunc resolves the current price of a symbol. The paper gateway
// uses it to fill market orders and to cross resting limit orders.
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

type paperOrder struct {
	snapshot OrderSnapshot
	side     models.OrderSide
}

// PaperGateway simulates a venue in memory. Market orders fill
// immediately at the current price; limit orders rest until a GetOrder
// poll observes the price crossing the limit.
type PaperGateway struct {
	price  PriceFunc
	logger *zap.Logger

	mu       sync.RWMutex
	orders   map[string]*paperOrder
	balances map[string]Balance
	nextID   int64
}

// NewPaperGateway creates a PaperGateway funded with the given balances.
func NewPaperGateway(price PriceFunc, balances map[string]float64, logger *zap.Logger) *PaperGateway {
	g := &PaperGateway{
		price:    price,
		logger:   logger,
		orders:   make(map[string]*paperOrder),
		balances: make(map[string]Balance),
	}
	for symbol, free := range balances {
		g.balances[symbol] = Balance{Free: free}
	}
	return g
}

// Name returns "paper".
func (g *PaperGateway) Name() string {
	return "paper"
}

// PlaceOrder accepts the order and fills market orders at once.
func (g *PaperGateway) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderSnapshot, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount %f", ErrPlacementFailed, req.Amount)
	}

	snapshot := OrderSnapshot{
		Symbol:    req.Symbol,
		Status:    models.OrderStatusOpen,
		Price:     req.Price,
		Amount:    req.Amount,
		Remaining: req.Amount,
		CreatedAt: time.Now(),
	}

	switch req.Type {
	case models.OrderTypeMarket:
		price, err := g.price(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlacementFailed, err)
		}
		snapshot.Price = price
		snapshot.Filled = req.Amount
		snapshot.Remaining = 0
		snapshot.Status = models.OrderStatusClosed
	case models.OrderTypeLimit:
		if req.Price <= 0 {
			return nil, fmt.Errorf("%w: limit order without price", ErrPlacementFailed)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOrder, req.Type)
	}

	g.mu.Lock()
	g.nextID++
	snapshot.ExternalID = strconv.FormatInt(g.nextID, 10)
	g.orders[snapshot.ExternalID] = &paperOrder{snapshot: snapshot, side: req.Side}
	g.mu.Unlock()

	g.logger.Debug("paper order placed",
		zap.String("external_id", snapshot.ExternalID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.Float64("amount", req.Amount))

	return &snapshot, nil
}

// CancelOrder cancels a resting order.
func (g *PaperGateway) CancelOrder(_ context.Context, externalID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[externalID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.snapshot.Status == models.OrderStatusOpen {
		order.snapshot.Status = models.OrderStatusCanceled
	}
	return nil
}

// GetOrder returns the current snapshot, crossing resting limit orders
// against the latest price first.
func (g *PaperGateway) GetOrder(ctx context.Context, externalID, symbol string) (*OrderSnapshot, error) {
	g.mu.RLock()
	order, ok := g.orders[externalID]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}

	if order.snapshot.Status == models.OrderStatusOpen {
		price, err := g.price(ctx, symbol)
		if err == nil && crossed(order.side, order.snapshot.Price, price) {
			g.mu.Lock()
			order.snapshot.Filled = order.snapshot.Amount
			order.snapshot.Remaining = 0
			order.snapshot.Status = models.OrderStatusClosed
			g.mu.Unlock()
		}
	}

	g.mu.RLock()
	cp := order.snapshot
	g.mu.RUnlock()
	return &cp, nil
}

// GetBalance returns the simulated balances.
func (g *PaperGateway) GetBalance(_ context.Context) (map[string]Balance, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]Balance, len(g.balances))
	for symbol, balance := range g.balances {
		out[symbol] = balance
	}
	return out, nil
}

// SetBalance overrides one asset balance. Used when mirroring the
// ledger's unallocated funds into the simulated venue.
func (g *PaperGateway) SetBalance(symbol string, free, used float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[symbol] = Balance{Free: free, Used: used}
}

func crossed(side models.OrderSide, limit, price float64) bool {
	if side == models.OrderSideBuy {
		return price <= limit
	}
	return price >= limit
}
