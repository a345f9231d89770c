package store

import (
	"errors"

	"github.com/tradecore/internal/models"
	"gorm.io/gorm"
)

// Compile-time interface check.
var _ Ledger = (*SQLStore)(nil)

// SQLStore implements Ledger on top of gorm.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// AutoMigrate creates or updates the ledger schema.
func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Portfolio{},
		&models.Position{},
		&models.Order{},
		&models.Trade{},
		&models.RiskRule{},
		&models.PortfolioSnapshot{},
	)
}

// --- portfolios ---

func (s *SQLStore) CreatePortfolio(p *models.Portfolio) error {
	return s.db.Create(p).Error
}

func (s *SQLStore) UpdatePortfolio(p *models.Portfolio) error {
	return s.db.Save(p).Error
}

func (s *SQLStore) GetPortfolio(id uint) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	result := s.db.First(&portfolio, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, result.Error
	}
	return &portfolio, nil
}

func (s *SQLStore) GetPortfolioByIdentifier(identifier string) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	result := s.db.Where("identifier = ?", identifier).First(&portfolio)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, result.Error
	}
	return &portfolio, nil
}

func (s *SQLStore) GetPortfolios() ([]models.Portfolio, error) {
	var portfolios []models.Portfolio
	result := s.db.Find(&portfolios)
	return portfolios, result.Error
}

// --- positions ---

func (s *SQLStore) CreatePosition(p *models.Position) error {
	return s.db.Create(p).Error
}

func (s *SQLStore) UpdatePosition(p *models.Position) error {
	return s.db.Save(p).Error
}

func (s *SQLStore) GetPositionByID(id uint) (*models.Position, error) {
	var position models.Position
	result := s.db.First(&position, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

func (s *SQLStore) GetPosition(portfolioID uint, symbol string) (*models.Position, error) {
	var position models.Position
	result := s.db.Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).First(&position)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, result.Error
	}
	return &position, nil
}

func (s *SQLStore) GetPositions(portfolioID uint) ([]models.Position, error) {
	var positions []models.Position
	result := s.db.Where("portfolio_id = ?", portfolioID).Find(&positions)
	return positions, result.Error
}

// --- orders ---

func (s *SQLStore) CreateOrder(o *models.Order) error {
	return s.db.Create(o).Error
}

func (s *SQLStore) UpdateOrder(o *models.Order) error {
	return s.db.Save(o).Error
}

func (s *SQLStore) GetOrder(id uint) (*models.Order, error) {
	var order models.Order
	result := s.db.First(&order, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, result.Error
	}
	return &order, nil
}

func (s *SQLStore) GetOrderByExternalID(portfolioID uint, externalID string) (*models.Order, error) {
	var order models.Order
	result := s.db.Where("portfolio_id = ? AND external_id = ?", portfolioID, externalID).First(&order)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, result.Error
	}
	return &order, nil
}

func (s *SQLStore) GetOrders(portfolioID uint) ([]models.Order, error) {
	var orders []models.Order
	result := s.db.Where("portfolio_id = ?", portfolioID).Order("created_at DESC").Find(&orders)
	return orders, result.Error
}

func (s *SQLStore) GetOpenOrders(portfolioID uint) ([]models.Order, error) {
	var orders []models.Order
	result := s.db.Where("portfolio_id = ? AND status = ?", portfolioID, models.OrderStatusOpen).
		Find(&orders)
	return orders, result.Error
}

func (s *SQLStore) GetUnmatchedBuyOrders(portfolioID uint, symbol string) ([]models.Order, error) {
	var orders []models.Order
	result := s.db.Where(
		"portfolio_id = ? AND target_symbol = ? AND side = ? AND status IN ? AND filled > trade_closed_amount",
		portfolioID, symbol, models.OrderSideBuy,
		[]models.OrderStatus{models.OrderStatusOpen, models.OrderStatusClosed},
	).Order("created_at ASC").Find(&orders)
	return orders, result.Error
}

// --- trades ---

func (s *SQLStore) CreateTrade(t *models.Trade) error {
	return s.db.Create(t).Error
}

func (s *SQLStore) UpdateTrade(t *models.Trade) error {
	return s.db.Save(t).Error
}

func (s *SQLStore) GetTrade(id uint) (*models.Trade, error) {
	var trade models.Trade
	result := s.db.First(&trade, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

func (s *SQLStore) GetTradeByBuyOrder(buyOrderID uint) (*models.Trade, error) {
	var trade models.Trade
	result := s.db.Where("buy_order_id = ?", buyOrderID).First(&trade)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

func (s *SQLStore) GetOpenTrades(portfolioID uint) ([]models.Trade, error) {
	var trades []models.Trade
	result := s.db.Where("portfolio_id = ? AND status IN ?", portfolioID,
		[]models.TradeStatus{models.TradeStatusCreated, models.TradeStatusOpen}).
		Order("opened_at ASC").Find(&trades)
	return trades, result.Error
}

// --- risk rules ---

func (s *SQLStore) CreateRiskRule(r *models.RiskRule) error {
	return s.db.Create(r).Error
}

func (s *SQLStore) UpdateRiskRule(r *models.RiskRule) error {
	return s.db.Save(r).Error
}

func (s *SQLStore) GetRiskRule(id uint) (*models.RiskRule, error) {
	var rule models.RiskRule
	result := s.db.First(&rule, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRiskRuleNotFound
		}
		return nil, result.Error
	}
	return &rule, nil
}

func (s *SQLStore) GetActiveRiskRules(tradeID uint) ([]models.RiskRule, error) {
	var rules []models.RiskRule
	result := s.db.Where("trade_id = ? AND active = ?", tradeID, true).
		Order("created_at ASC").Find(&rules)
	return rules, result.Error
}

// --- snapshots ---

func (s *SQLStore) CreateSnapshot(snapshot *models.PortfolioSnapshot) error {
	return s.db.Create(snapshot).Error
}

func (s *SQLStore) GetSnapshots(portfolioID uint, limit int) ([]models.PortfolioSnapshot, error) {
	var snapshots []models.PortfolioSnapshot
	query := s.db.Where("portfolio_id = ?", portfolioID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&snapshots)
	return snapshots, result.Error
}
