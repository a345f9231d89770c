// Package store defines the ledger persistence interfaces and provides
// a SQL-backed implementation for live trading and an in-memory
// implementation for backtests and tests.
package store

import (
	"errors"

	"github.com/tradecore/internal/models"
)

var (
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrPositionNotFound  = errors.New("position not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrTradeNotFound     = errors.New("trade not found")
	ErrRiskRuleNotFound  = errors.New("risk rule not found")
)

// PortfolioStore persists portfolios.
type PortfolioStore interface {
	CreatePortfolio(p *models.Portfolio) error
	UpdatePortfolio(p *models.Portfolio) error
	GetPortfolio(id uint) (*models.Portfolio, error)
	GetPortfolioByIdentifier(identifier string) (*models.Portfolio, error)
	GetPortfolios() ([]models.Portfolio, error)
}

// PositionStore persists positions.
type PositionStore interface {
	CreatePosition(p *models.Position) error
	UpdatePosition(p *models.Position) error
	GetPositionByID(id uint) (*models.Position, error)
	GetPosition(portfolioID uint, symbol string) (*models.Position, error)
	GetPositions(portfolioID uint) ([]models.Position, error)
}

// OrderStore persists orders.
type OrderStore interface {
	CreateOrder(o *models.Order) error
	UpdateOrder(o *models.Order) error
	GetOrder(id uint) (*models.Order, error)
	GetOrderByExternalID(portfolioID uint, externalID string) (*models.Order, error)
	GetOrders(portfolioID uint) ([]models.Order, error)
	GetOpenOrders(portfolioID uint) ([]models.Order, error)

	// GetUnmatchedBuyOrders returns BUY orders with filled units not yet
	// matched against SELL fills, oldest first. This ordering is the FIFO
	// index the trade-closing matcher walks.
	GetUnmatchedBuyOrders(portfolioID uint, symbol string) ([]models.Order, error)
}

// TradeStore persists trades.
type TradeStore interface {
	CreateTrade(t *models.Trade) error
	UpdateTrade(t *models.Trade) error
	GetTrade(id uint) (*models.Trade, error)
	GetTradeByBuyOrder(buyOrderID uint) (*models.Trade, error)
	GetOpenTrades(portfolioID uint) ([]models.Trade, error)
}

// RiskRuleStore persists stop-loss and take-profit rules.
type RiskRuleStore interface {
	CreateRiskRule(r *models.RiskRule) error
	UpdateRiskRule(r *models.RiskRule) error
	GetRiskRule(id uint) (*models.RiskRule, error)
	GetActiveRiskRules(tradeID uint) ([]models.RiskRule, error)
}

// SnapshotStore persists portfolio snapshots.
type SnapshotStore interface {
	CreateSnapshot(s *models.PortfolioSnapshot) error
	GetSnapshots(portfolioID uint, limit int) ([]models.PortfolioSnapshot, error)
}

// Ledger is the full persistence surface consumed by the reconciliation
// engine, the risk evaluator and the scheduler.
type Ledger interface {
	PortfolioStore
	PositionStore
	OrderStore
	TradeStore
	RiskRuleStore
	SnapshotStore
}
