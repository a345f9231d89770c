package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradecore/internal/exchange"
	"github.com/tradecore/internal/models"
	"github.com/tradecore/internal/store"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, gateway exchange.Gateway) (*Engine, *models.Portfolio) {
	t.Helper()
	eng := New(store.NewMemoryStore(), gateway, zap.NewNop())
	portfolio, err := eng.CreatePortfolio("engine-test", "binance", "EUR", 1000)
	require.NoError(t, err)
	return eng, portfolio
}

func limitBuy(portfolioID uint, amount, price float64) OrderRequest {
	return OrderRequest{
		PortfolioID:  portfolioID,
		TargetSymbol: "BTC",
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeLimit,
		Amount:       amount,
		Price:        price,
	}
}

func fillOrder(t *testing.T, eng *Engine, orderID uint, filled float64) *models.Order {
	t.Helper()
	order, err := eng.UpdateOrder(context.Background(), orderID, OrderPatch{Filled: &filled})
	require.NoError(t, err)
	return order
}

func TestCreatePortfolioSeedsCashAndSnapshot(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	cash, err := eng.Ledger().GetPosition(portfolio.ID, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cash.Amount)

	snapshots, err := eng.Ledger().GetSnapshots(portfolio.ID, 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 1000.0, snapshots[0].TotalValue)
}

func TestValidationFailuresLeaveLedgerUntouched(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)
	opts := CreateOptions{Validate: true, Sync: true}

	cases := []struct {
		name string
		req  OrderRequest
		want error
	}{
		{
			name: "sell without position",
			req: OrderRequest{
				PortfolioID: portfolio.ID, TargetSymbol: "BTC",
				Side: models.OrderSideSell, Type: models.OrderTypeMarket, Amount: 1,
			},
			want: ErrNoPosition,
		},
		{
			name: "limit buy beyond cash",
			req:  limitBuy(portfolio.ID, 20, 100),
			want: ErrInsufficientBalance,
		},
		{
			name: "market buy beyond unallocated",
			req: OrderRequest{
				PortfolioID: portfolio.ID, TargetSymbol: "BTC",
				Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Amount: 1500,
			},
			want: ErrInsufficientBalance,
		},
		{
			name: "zero amount",
			req:  limitBuy(portfolio.ID, 0, 100),
			want: ErrInvalidAmount,
		},
		{
			name: "limit without price",
			req:  limitBuy(portfolio.ID, 1, 0),
			want: ErrInvalidPrice,
		},
		{
			name: "trading symbol mismatch",
			req: OrderRequest{
				PortfolioID: portfolio.ID, TargetSymbol: "BTC", TradingSymbol: "USD",
				Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Amount: 1, Price: 100,
			},
			want: ErrSymbolMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.CreateOrder(context.Background(), tc.req, opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			orders, err := eng.Ledger().GetOrders(portfolio.ID)
			require.NoError(t, err)
			assert.Empty(t, orders)

			reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
			require.NoError(t, err)
			assert.Equal(t, 1000.0, reloaded.Unallocated)
		})
	}
}

func TestSyncReservesFundsAndMarksOrder(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)
	assert.True(t, order.Reserved)
	assert.Equal(t, models.OrderStatusOpen, order.Status)

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 800.0, reloaded.Unallocated)

	cash, err := eng.Ledger().GetPosition(portfolio.ID, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 800.0, cash.Amount)

	// A second order can only claim what is left.
	_, err = eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 9, 100),
		CreateOptions{Validate: true, Sync: true})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestBuyOrderOpensTrade(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	trade, err := eng.Ledger().GetTradeByBuyOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusCreated, trade.Status)
	assert.Equal(t, 2.0, trade.Amount)

	fillOrder(t, eng, order.ID, 2)

	trade, err = eng.Ledger().GetTradeByBuyOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, trade.Status)
}

func TestFillSyncIdempotence(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	fillOrder(t, eng, order.ID, 1)
	// Re-applying the same patch must not double-count.
	fillOrder(t, eng, order.ID, 1)

	position, err := eng.Ledger().GetPosition(portfolio.ID, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1.0, position.Amount)
	assert.Equal(t, 100.0, position.Cost)

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, reloaded.TotalCost)
	assert.Equal(t, 100.0, reloaded.TotalTradeVolume)
}

func TestPartialFillThenCancelReleasesRemainder(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	fillOrder(t, eng, order.ID, 1)

	canceled, err := eng.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, canceled.Status)

	// The unfilled half of the reservation comes back.
	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 900.0, reloaded.Unallocated)

	// The trade shrinks to what actually filled.
	trade, err := eng.Ledger().GetTradeByBuyOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, trade.Amount)
	assert.Equal(t, 1.0, trade.Remaining)
	assert.Equal(t, models.TradeStatusOpen, trade.Status)

	// Canceling a terminal order is a no-op.
	again, err := eng.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, again.Status)
	reloaded, err = eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 900.0, reloaded.Unallocated)
}

func TestNeverFilledCancelClosesEmptyTrade(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	_, err = eng.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)

	trade, err := eng.Ledger().GetTradeByBuyOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, trade.Status)
	assert.Equal(t, 0.0, trade.Remaining)

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, reloaded.Unallocated)
}

func TestFIFOMatcherClosesOldestBuyFirst(t *testing.T) {
	eng := New(store.NewMemoryStore(), nil, zap.NewNop())
	portfolio, err := eng.CreatePortfolio("fifo-test", "binance", "EUR", 2000)
	require.NoError(t, err)
	opts := CreateOptions{Validate: true, Sync: true}

	buy1, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 5, 100), opts)
	require.NoError(t, err)
	fillOrder(t, eng, buy1.ID, 5)

	buy2, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 5, 110), opts)
	require.NoError(t, err)
	fillOrder(t, eng, buy2.ID, 5)

	sell, err := eng.CreateOrder(context.Background(), OrderRequest{
		PortfolioID:  portfolio.ID,
		TargetSymbol: "BTC",
		Side:         models.OrderSideSell,
		Type:         models.OrderTypeLimit,
		Amount:       7,
		Price:        120,
	}, opts)
	require.NoError(t, err)
	fillOrder(t, eng, sell.ID, 7)

	// BUY1 closes fully, BUY2 partially, in that order.
	buy1Reloaded, err := eng.Ledger().GetOrder(buy1.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, buy1Reloaded.TradeClosedAmount)
	assert.Equal(t, 100.0, buy1Reloaded.NetGain)

	buy2Reloaded, err := eng.Ledger().GetOrder(buy2.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, buy2Reloaded.TradeClosedAmount)
	assert.Equal(t, 20.0, buy2Reloaded.NetGain)

	trade1, err := eng.Ledger().GetTradeByBuyOrder(buy1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, trade1.Status)
	assert.Equal(t, 0.0, trade1.Remaining)

	trade2, err := eng.Ledger().GetTradeByBuyOrder(buy2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, trade2.Status)
	assert.Equal(t, 3.0, trade2.Remaining)

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, reloaded.TotalNetGain, 1e-9)

	// No value created or destroyed: unallocated plus remaining cost
	// basis equals the initial balance plus realized gains.
	assert.InDelta(t, 2000.0+120.0, reloaded.Unallocated+reloaded.TotalCost, 1e-9)

	position, err := eng.Ledger().GetPosition(portfolio.ID, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 330.0, position.Cost, 1e-9)
}

// failingGateway rejects every placement.
type failingGateway struct{}

func (failingGateway) Name() string { return "failing" }
func (failingGateway) PlaceOrder(context.Context, exchange.PlaceOrderRequest) (*exchange.OrderSnapshot, error) {
	return nil, exchange.ErrPlacementFailed
}
func (failingGateway) CancelOrder(context.Context, string, string) error { return nil }
func (failingGateway) GetOrder(context.Context, string, string) (*exchange.OrderSnapshot, error) {
	return nil, exchange.ErrOrderNotFound
}
func (failingGateway) GetBalance(context.Context) (map[string]exchange.Balance, error) {
	return nil, nil
}

func TestPlacementFailureRejectsAndReleases(t *testing.T) {
	eng, portfolio := newTestEngine(t, failingGateway{})

	_, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Execute: true, Validate: true, Sync: true})
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.ErrorIs(t, err, exchange.ErrPlacementFailed)

	order, err := eng.Ledger().GetOrder(execErr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, order.Status)

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, reloaded.Unallocated)
}

// fixedBalanceGateway reports a fixed free balance.
type fixedBalanceGateway struct {
	failingGateway
	free map[string]float64
}

func (g fixedBalanceGateway) GetBalance(context.Context) (map[string]exchange.Balance, error) {
	out := make(map[string]exchange.Balance, len(g.free))
	for symbol, free := range g.free {
		out[symbol] = exchange.Balance{Free: free}
	}
	return out, nil
}

func TestConsistencyCheckHaltsPortfolio(t *testing.T) {
	eng, portfolio := newTestEngine(t, fixedBalanceGateway{free: map[string]float64{"EUR": 500}})

	err := eng.CheckConsistency(context.Background(), portfolio.ID)
	require.Error(t, err)

	var consErr *ConsistencyError
	require.True(t, errors.As(err, &consErr))
	assert.Equal(t, 1000.0, consErr.Ledger)
	assert.Equal(t, 500.0, consErr.Venue)

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Halted)

	// A halted portfolio accepts no further placement.
	_, err = eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 1, 100),
		CreateOptions{Validate: true, Sync: true})
	assert.ErrorIs(t, err, ErrPortfolioHalted)
}

func TestConsistencyCheckWithinTolerance(t *testing.T) {
	eng, portfolio := newTestEngine(t, fixedBalanceGateway{free: map[string]float64{"EUR": 999.995}})

	eng.SetBalanceTolerance(0.01)
	require.NoError(t, eng.CheckConsistency(context.Background(), portfolio.ID))

	reloaded, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Halted)
}

func TestAddRiskRuleRequiresOpenTrade(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), limitBuy(portfolio.ID, 2, 100),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	trade, err := eng.Ledger().GetTradeByBuyOrder(order.ID)
	require.NoError(t, err)

	_, err = eng.AddRiskRule(trade.ID, models.RiskRuleStopLoss, models.RiskTypeFixed, 10, 50)
	assert.ErrorIs(t, err, ErrTradeNotOpen)

	fillOrder(t, eng, order.ID, 2)

	rule, err := eng.AddRiskRule(trade.ID, models.RiskRuleStopLoss, models.RiskTypeFixed, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rule.SellAmount)
	assert.Equal(t, 100.0, rule.OpenPrice)
	assert.Equal(t, 90.0, rule.TriggerPrice())
}

func marketBuy(portfolioID uint, amount float64) OrderRequest {
	return OrderRequest{
		PortfolioID:  portfolioID,
		TargetSymbol: "BTC",
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeMarket,
		Amount:       amount,
	}
}

func TestMarketBuyFillConservesValue(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), marketBuy(portfolio.ID, 2),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	// Until the venue reports a price, the reservation holds one trading
	// symbol unit per target unit.
	reserved, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.InDelta(t, 998.0, reserved.Unallocated, 1e-9)

	filled, price := 2.0, 100.0
	_, err = eng.UpdateOrder(context.Background(), order.ID, OrderPatch{Filled: &filled, Price: &price})
	require.NoError(t, err)

	after, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.InDelta(t, 800.0, after.Unallocated, 1e-9)
	assert.InDelta(t, 200.0, after.TotalCost, 1e-9)
	assert.InDelta(t, 1000.0, after.Unallocated+after.TotalCost+after.TotalNetGain, 1e-9)

	cash, err := eng.Ledger().GetPosition(portfolio.ID, "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 800.0, cash.Amount, 1e-9)

	position, err := eng.Ledger().GetPosition(portfolio.ID, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 2.0, position.Amount)
	assert.InDelta(t, 200.0, position.Cost, 1e-9)
}

func TestMarketBuyPartialFillCancelConservesValue(t *testing.T) {
	eng, portfolio := newTestEngine(t, nil)

	order, err := eng.CreateOrder(context.Background(), marketBuy(portfolio.ID, 2),
		CreateOptions{Validate: true, Sync: true})
	require.NoError(t, err)

	filled, price := 1.0, 100.0
	_, err = eng.UpdateOrder(context.Background(), order.ID, OrderPatch{Filled: &filled, Price: &price})
	require.NoError(t, err)

	mid, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.InDelta(t, 899.0, mid.Unallocated, 1e-9)

	// Canceling the remainder credits the unfilled slice back at the
	// per-unit reservation rate.
	_, err = eng.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)

	after, err := eng.Ledger().GetPortfolio(portfolio.ID)
	require.NoError(t, err)
	assert.InDelta(t, 900.0, after.Unallocated, 1e-9)
	assert.InDelta(t, 100.0, after.TotalCost, 1e-9)
	assert.InDelta(t, 1000.0, after.Unallocated+after.TotalCost+after.TotalNetGain, 1e-9)
}
