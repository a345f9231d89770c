// Package engine owns the order lifecycle: validation, optimistic fund
// reservation, gateway placement, fill synchronization, the FIFO
// trade-closing matcher and portfolio consistency checks. Every ledger
// mutation for a portfolio is serialized through a single per-portfolio
// lock; network calls never happen inside that critical section.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradecore/internal/exchange"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/store"
	"go.uber.org/zap"
)

const defaultBalanceTolerance = 0.01

// Engine is the order/trade reconciliation engine.
type Engine struct {
	ledger    store.Ledger
	gateway   exchange.Gateway
	logger    *zap.Logger
	tolerance float64

	locksMux sync.Mutex
	locks    map[uint]*sync.Mutex
}

// New creates an Engine. The gateway may be nil in backtests, where
// fills are applied directly through UpdateOrder.
func New(ledger store.Ledger, gateway exchange.Gateway, logger *zap.Logger) *Engine {
	return &Engine{
		ledger:    ledger,
		gateway:   gateway,
		logger:    logger,
		tolerance: defaultBalanceTolerance,
		locks:     make(map[uint]*sync.Mutex),
	}
}

// SetBalanceTolerance overrides the consistency-check tolerance.
func (e *Engine) SetBalanceTolerance(tolerance float64) {
	e.tolerance = tolerance
}

// portfolioLock returns the single-writer lock for a portfolio.
func (e *Engine) portfolioLock(portfolioID uint) *sync.Mutex {
	e.locksMux.Lock()
	defer e.locksMux.Unlock()
	lock, ok := e.locks[portfolioID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[portfolioID] = lock
	}
	return lock
}

// CreatePortfolio registers a portfolio, its cash position and the
// initial snapshot.
func (e *Engine) CreatePortfolio(identifier, market, tradingSymbol string, initialBalance float64) (*models.Portfolio, error) {
	if initialBalance < 0 {
		return nil, fmt.Errorf("%w: initial balance %f", ErrInvalidAmount, initialBalance)
	}

	portfolio := &models.Portfolio{
		Identifier:     identifier,
		Market:         market,
		TradingSymbol:  tradingSymbol,
		Unallocated:    initialBalance,
		InitialBalance: initialBalance,
	}
	if err := e.ledger.CreatePortfolio(portfolio); err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}

	cash := &models.Position{
		PortfolioID: portfolio.ID,
		Symbol:      tradingSymbol,
		Amount:      initialBalance,
	}
	if err := e.ledger.CreatePosition(cash); err != nil {
		return nil, fmt.Errorf("failed to create cash position: %w", err)
	}

	snapshot := &models.PortfolioSnapshot{
		PortfolioID: portfolio.ID,
		Unallocated: initialBalance,
		TotalValue:  initialBalance,
		CashFlow:    initialBalance,
	}
	if err := e.ledger.CreateSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("failed to create initial snapshot: %w", err)
	}

	e.logger.Info("portfolio created",
		zap.String("identifier", identifier),
		zap.String("market", market),
		zap.String("trading_symbol", tradingSymbol),
		zap.Float64("initial_balance", initialBalance))

	return portfolio, nil
}

// OrderRequest describes an order to be created.
type OrderRequest struct {
	PortfolioID  uint
	TargetSymbol string
	Side         models.OrderSide
	Type         models.OrderType
	Amount       float64
	Price        float64

	// Optional; when set it must equal the portfolio's trading symbol.
	TradingSymbol string
}

// CreateOptions control the create flow.
type CreateOptions struct {
	// Execute forwards the order to the exchange gateway.
	Execute bool
	// Validate runs the pre-persist validation rules.
	Validate bool
	// Sync reserves funds (BUY) or position units (SELL) immediately,
	// before the venue confirms, so a second concurrent order cannot
	// over-allocate the same funds.
	Sync bool
}

// CreateOrder validates, persists and optionally executes an order. The
// gateway call happens after the portfolio lock is released; a placement
// failure forces the order to REJECTED, releases the reservation and
// returns an ExecutionError.
func (e *Engine) CreateOrder(ctx context.Context, req OrderRequest, opts CreateOptions) (*models.Order, error) {
	lock := e.portfolioLock(req.PortfolioID)
	lock.Lock()

	order, err := e.createOrderLocked(req, opts)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	if !opts.Execute || e.gateway == nil {
		return order, nil
	}

	snapshot, err := e.gateway.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        order.TargetSymbol,
		Side:          order.Side,
		Type:          order.Type,
		Amount:        order.Amount,
		Price:         order.Price,
		ClientOrderID: order.ClientOrderID,
	})
	if err != nil {
		lock.Lock()
		rejectErr := e.rejectOrderLocked(order.ID)
		lock.Unlock()
		if rejectErr != nil {
			e.logger.Error("failed to reject order after placement failure",
				zap.Uint("order_id", order.ID), zap.Error(rejectErr))
		}
		return nil, &ExecutionError{OrderID: order.ID, Err: err}
	}

	status := snapshot.Status
	patch := OrderPatch{ExternalID: &snapshot.ExternalID, Status: &status}
	if snapshot.Filled > 0 {
		patch.Filled = &snapshot.Filled
	}
	if snapshot.Price > 0 {
		patch.Price = &snapshot.Price
	}
	return e.UpdateOrder(ctx, order.ID, patch)
}

// createOrderLocked runs validation, lazy position creation, persistence
// and the optimistic reservation under the portfolio lock.
func (e *Engine) createOrderLocked(req OrderRequest, opts CreateOptions) (*models.Order, error) {
	portfolio, err := e.ledger.GetPortfolio(req.PortfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio.Halted {
		return nil, fmt.Errorf("%w: portfolio %d", ErrPortfolioHalted, portfolio.ID)
	}

	cash, err := e.ledger.GetPosition(portfolio.ID, portfolio.TradingSymbol)
	if err != nil {
		return nil, fmt.Errorf("cash position missing: %w", err)
	}

	target, err := e.ledger.GetPosition(portfolio.ID, req.TargetSymbol)
	if err != nil && !errors.Is(err, store.ErrPositionNotFound) {
		return nil, err
	}

	if opts.Validate {
		if err := e.validateOrder(portfolio, cash, target, req); err != nil {
			return nil, err
		}
	}

	// Lazily create the target position on the first order for the
	// symbol. Happens after validation so a rejected order leaves the
	// ledger untouched.
	if target == nil {
		target = &models.Position{PortfolioID: portfolio.ID, Symbol: req.TargetSymbol}
		if err := e.ledger.CreatePosition(target); err != nil {
			return nil, fmt.Errorf("failed to create position: %w", err)
		}
	}

	order := &models.Order{
		PortfolioID:   portfolio.ID,
		PositionID:    target.ID,
		ClientOrderID: uuid.New().String(),
		TargetSymbol:  req.TargetSymbol,
		TradingSymbol: portfolio.TradingSymbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Amount:        req.Amount,
		Remaining:     req.Amount,
		Status:        models.OrderStatusOpen,
	}
	if err := e.ledger.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	// Every BUY order opens a trade; SELL fills close trades through
	// the FIFO matcher.
	if order.Side == models.OrderSideBuy {
		trade := &models.Trade{
			PortfolioID:   portfolio.ID,
			BuyOrderID:    order.ID,
			TargetSymbol:  order.TargetSymbol,
			TradingSymbol: order.TradingSymbol,
			Amount:        order.Amount,
			Remaining:     order.Amount,
			OpenPrice:     order.Price,
			HighWaterMark: order.Price,
			Status:        models.TradeStatusCreated,
			OpenedAt:      order.CreatedAt,
		}
		if err := e.ledger.CreateTrade(trade); err != nil {
			return nil, fmt.Errorf("failed to create trade: %w", err)
		}
	}

	if opts.Sync {
		if err := e.reserve(portfolio, cash, target, order); err != nil {
			return nil, err
		}
		order.Reserved = true
		if err := e.ledger.UpdateOrder(order); err != nil {
			return nil, err
		}
	}

	e.logger.Info("order created",
		zap.Uint("order_id", order.ID),
		zap.Uint("portfolio_id", portfolio.ID),
		zap.String("symbol", order.TargetSymbol),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.Float64("amount", order.Amount),
		zap.Float64("price", order.Price))

	return order, nil
}

// rejectOrderLocked forces an order to REJECTED and releases its
// reservation. Runs under the portfolio lock.
func (e *Engine) rejectOrderLocked(orderID uint) error {
	order, err := e.ledger.GetOrder(orderID)
	if err != nil {
		return err
	}
	status := models.OrderStatusRejected
	return e.applyPatchLocked(order, OrderPatch{Status: &status})
}

// OrderPatch is a partial update applied by UpdateOrder. Nil fields are
// left untouched.
type OrderPatch struct {
	Status     *models.OrderStatus
	Filled     *float64
	Price      *float64
	ExternalID *string
}

// UpdateOrder applies the patch under the portfolio lock. A positive
// filled difference runs the fill-sync routine; a transition into
// CANCELED/EXPIRED/REJECTED runs the release routine. Re-applying a
// patch with an unchanged filled value has no fill-sync effect.
func (e *Engine) UpdateOrder(_ context.Context, orderID uint, patch OrderPatch) (*models.Order, error) {
	order, err := e.ledger.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	lock := e.portfolioLock(order.PortfolioID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock; the first read only resolved the portfolio.
	order, err = e.ledger.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if err := e.applyPatchLocked(order, patch); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder first forces a reconciliation pass so an order that has
// actually filled is not canceled, then cancels on the venue and lets
// the resulting status update drive the release routine.
func (e *Engine) CancelOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	order, err := e.ledger.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	if e.gateway != nil && order.ExternalID != "" {
		if _, err := e.Reconcile(ctx, orderID); err != nil {
			return nil, fmt.Errorf("pre-cancel reconciliation failed: %w", err)
		}
		order, err = e.ledger.GetOrder(orderID)
		if err != nil {
			return nil, err
		}
	}

	if !order.IsOpen() {
		return order, nil
	}

	if e.gateway != nil && order.ExternalID != "" {
		if err := e.gateway.CancelOrder(ctx, order.ExternalID, order.TargetSymbol); err != nil {
			return nil, fmt.Errorf("gateway cancel failed: %w", err)
		}
		return e.Reconcile(ctx, orderID)
	}

	// No venue involved: cancel directly in the ledger.
	status := models.OrderStatusCanceled
	return e.UpdateOrder(ctx, orderID, OrderPatch{Status: &status})
}

// Reconcile fetches the venue's snapshot of the order and applies it as
// a patch. The network call happens before the critical section.
func (e *Engine) Reconcile(ctx context.Context, orderID uint) (*models.Order, error) {
	order, err := e.ledger.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if e.gateway == nil || order.ExternalID == "" || order.IsTerminal() {
		return order, nil
	}

	snapshot, err := e.gateway.GetOrder(ctx, order.ExternalID, order.TargetSymbol)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			return order, nil
		}
		return nil, err
	}

	status := snapshot.Status
	patch := OrderPatch{Status: &status, Filled: &snapshot.Filled}
	if snapshot.Price > 0 {
		patch.Price = &snapshot.Price
	}
	return e.UpdateOrder(ctx, orderID, patch)
}

// CheckConsistency compares the ledger's unallocated balance with the
// venue's free balance. A mismatch beyond tolerance halts the portfolio
// and returns a ConsistencyError; it is not retried.
func (e *Engine) CheckConsistency(ctx context.Context, portfolioID uint) error {
	if e.gateway == nil {
		return nil
	}

	balances, err := e.gateway.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch venue balances: %w", err)
	}

	lock := e.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	portfolio, err := e.ledger.GetPortfolio(portfolioID)
	if err != nil {
		return err
	}

	venue, ok := balances[portfolio.TradingSymbol]
	if !ok {
		return nil
	}
	diff := portfolio.Unallocated - venue.Free
	if diff < 0 {
		diff = -diff
	}
	if diff <= e.tolerance {
		return nil
	}

	portfolio.Halted = true
	if err := e.ledger.UpdatePortfolio(portfolio); err != nil {
		return err
	}
	e.logger.Error("portfolio halted on balance mismatch",
		zap.Uint("portfolio_id", portfolioID),
		zap.Float64("ledger", portfolio.Unallocated),
		zap.Float64("venue", venue.Free))

	return &ConsistencyError{
		PortfolioID: portfolioID,
		Symbol:      portfolio.TradingSymbol,
		Ledger:      portfolio.Unallocated,
		Venue:       venue.Free,
		Tolerance:   e.tolerance,
	}
}

// AddRiskRule attaches a stop-loss or take-profit rule to an open trade.
// SellAmount is derived from the trade's amount and the rule's sell
// percentage at attach time.
func (e *Engine) AddRiskRule(tradeID uint, kind models.RiskRuleKind, riskType models.RiskRuleType, percentage, sellPercentage float64) (*models.RiskRule, error) {
	trade, err := e.ledger.GetTrade(tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsOpen() {
		return nil, fmt.Errorf("%w: trade %d", ErrTradeNotOpen, tradeID)
	}

	lock := e.portfolioLock(trade.PortfolioID)
	lock.Lock()
	defer lock.Unlock()

	rule := &models.RiskRule{
		TradeID:        trade.ID,
		Kind:           kind,
		RiskType:       riskType,
		Percentage:     percentage,
		SellPercentage: sellPercentage,
		OpenPrice:      trade.OpenPrice,
		HighWaterMark:  trade.OpenPrice,
		SellAmount:     trade.Amount * sellPercentage / 100,
		Active:         true,
	}
	if err := e.ledger.CreateRiskRule(rule); err != nil {
		return nil, fmt.Errorf("failed to create risk rule: %w", err)
	}
	return rule, nil
}

// Ledger exposes the underlying store to read-side consumers.
func (e *Engine) Ledger() store.Ledger {
	return e.ledger
}

// Gateway exposes the configured venue gateway, nil in backtests.
func (e *Engine) Gateway() exchange.Gateway {
	return e.gateway
}

// now is separated for test override.
var now = time.Now
