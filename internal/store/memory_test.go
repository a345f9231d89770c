package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradecore/internal/models"
)

func newPortfolio(t *testing.T, s *MemoryStore) *models.Portfolio {
	t.Helper()
	p := &models.Portfolio{
		Identifier:    "mem-test",
		Market:        "binance",
		TradingSymbol: "EUR",
		Unallocated:   1000,
	}
	require.NoError(t, s.CreatePortfolio(p))
	return p
}

func buyOrder(portfolioID uint, symbol string, status models.OrderStatus, filled, closed float64, createdAt time.Time) *models.Order {
	return &models.Order{
		PortfolioID:       portfolioID,
		TargetSymbol:      symbol,
		TradingSymbol:     "EUR",
		Side:              models.OrderSideBuy,
		Type:              models.OrderTypeLimit,
		Amount:            filled,
		Filled:            filled,
		TradeClosedAmount: closed,
		Status:            status,
		CreatedAt:         createdAt,
	}
}

func TestNotFoundSentinels(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetPortfolio(1)
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
	_, err = s.GetPortfolioByIdentifier("nope")
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
	_, err = s.GetPosition(1, "BTC")
	assert.ErrorIs(t, err, ErrPositionNotFound)
	_, err = s.GetOrder(1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = s.GetTrade(1)
	assert.ErrorIs(t, err, ErrTradeNotFound)
	_, err = s.GetRiskRule(1)
	assert.ErrorIs(t, err, ErrRiskRuleNotFound)

	assert.ErrorIs(t, s.UpdatePortfolio(&models.Portfolio{ID: 1}), ErrPortfolioNotFound)
	assert.ErrorIs(t, s.UpdateOrder(&models.Order{ID: 1}), ErrOrderNotFound)
	assert.ErrorIs(t, s.UpdateTrade(&models.Trade{ID: 1}), ErrTradeNotFound)
	assert.ErrorIs(t, s.UpdateRiskRule(&models.RiskRule{ID: 1}), ErrRiskRuleNotFound)
}

func TestUnmatchedBuyOrdersOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	p := newPortfolio(t, s)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	newer := buyOrder(p.ID, "BTC", models.OrderStatusClosed, 5, 0, base.Add(time.Hour))
	require.NoError(t, s.CreateOrder(newer))
	older := buyOrder(p.ID, "BTC", models.OrderStatusOpen, 3, 1, base)
	require.NoError(t, s.CreateOrder(older))

	// Excluded: fully matched, wrong symbol, SELL side, non-open statuses.
	require.NoError(t, s.CreateOrder(buyOrder(p.ID, "BTC", models.OrderStatusClosed, 4, 4, base)))
	require.NoError(t, s.CreateOrder(buyOrder(p.ID, "ETH", models.OrderStatusClosed, 4, 0, base)))
	sell := buyOrder(p.ID, "BTC", models.OrderStatusClosed, 4, 0, base)
	sell.Side = models.OrderSideSell
	require.NoError(t, s.CreateOrder(sell))
	require.NoError(t, s.CreateOrder(buyOrder(p.ID, "BTC", models.OrderStatusCanceled, 4, 0, base)))
	require.NoError(t, s.CreateOrder(buyOrder(p.ID, "BTC", models.OrderStatusCreated, 0, 0, base)))

	out, err := s.GetUnmatchedBuyOrders(p.ID, "BTC")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, older.ID, out[0].ID)
	assert.Equal(t, newer.ID, out[1].ID)
	assert.Equal(t, 2.0, out[0].AvailableToClose())
}

func TestUnmatchedBuyOrdersIDBreaksTies(t *testing.T) {
	s := NewMemoryStore()
	p := newPortfolio(t, s)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := buyOrder(p.ID, "BTC", models.OrderStatusClosed, 2, 0, at)
	require.NoError(t, s.CreateOrder(first))
	second := buyOrder(p.ID, "BTC", models.OrderStatusClosed, 2, 0, at)
	require.NoError(t, s.CreateOrder(second))

	out, err := s.GetUnmatchedBuyOrders(p.ID, "BTC")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, first.ID, out[0].ID)
	assert.Equal(t, second.ID, out[1].ID)
}

func TestGetOpenOrdersFiltersStatus(t *testing.T) {
	s := NewMemoryStore()
	p := newPortfolio(t, s)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	open := buyOrder(p.ID, "BTC", models.OrderStatusOpen, 0, 0, at)
	require.NoError(t, s.CreateOrder(open))
	require.NoError(t, s.CreateOrder(buyOrder(p.ID, "BTC", models.OrderStatusClosed, 2, 0, at)))
	require.NoError(t, s.CreateOrder(buyOrder(p.ID, "BTC", models.OrderStatusCreated, 0, 0, at)))

	out, err := s.GetOpenOrders(p.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, open.ID, out[0].ID)
}

func TestActiveRiskRulesFilter(t *testing.T) {
	s := NewMemoryStore()

	active := &models.RiskRule{TradeID: 7, Kind: models.RiskRuleStopLoss, Active: true}
	require.NoError(t, s.CreateRiskRule(active))
	require.NoError(t, s.CreateRiskRule(&models.RiskRule{TradeID: 7, Kind: models.RiskRuleTakeProfit, Active: false}))
	require.NoError(t, s.CreateRiskRule(&models.RiskRule{TradeID: 8, Kind: models.RiskRuleStopLoss, Active: true}))

	out, err := s.GetActiveRiskRules(7)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, active.ID, out[0].ID)
}

func TestOpenTradesExcludeClosed(t *testing.T) {
	s := NewMemoryStore()
	p := newPortfolio(t, s)

	open := &models.Trade{PortfolioID: p.ID, TargetSymbol: "BTC", BuyOrderID: 101, Status: models.TradeStatusOpen}
	require.NoError(t, s.CreateTrade(open))
	created := &models.Trade{PortfolioID: p.ID, TargetSymbol: "ETH", BuyOrderID: 102, Status: models.TradeStatusCreated}
	require.NoError(t, s.CreateTrade(created))
	require.NoError(t, s.CreateTrade(&models.Trade{PortfolioID: p.ID, TargetSymbol: "SOL", BuyOrderID: 103, Status: models.TradeStatusClosed}))

	out, err := s.GetOpenTrades(p.ID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, open.ID, out[0].ID)
	assert.Equal(t, created.ID, out[1].ID)
}

func TestSnapshotsNewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	p := newPortfolio(t, s)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 3; day++ {
		require.NoError(t, s.CreateSnapshot(&models.PortfolioSnapshot{
			PortfolioID: p.ID,
			Unallocated: float64(1000 + day),
			CreatedAt:   base.AddDate(0, 0, day),
		}))
	}

	out, err := s.GetSnapshots(p.ID, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, base.AddDate(0, 0, 2), out[0].CreatedAt)
	assert.Equal(t, base.AddDate(0, 0, 1), out[1].CreatedAt)
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewMemoryStore()
	p := newPortfolio(t, s)

	got, err := s.GetPortfolio(p.ID)
	require.NoError(t, err)
	got.Unallocated = 0

	again, err := s.GetPortfolio(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, again.Unallocated)
}
