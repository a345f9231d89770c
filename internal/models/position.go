package models

import (
	"time"

	"gorm.io/gorm"
)

// Position represents the units held of one symbol within a portfolio.
// The trading symbol itself is held as a "cash" position, so every
// portfolio has at least one position after its first order.
type Position struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	PortfolioID uint           `gorm:"index:idx_positions_portfolio_symbol,unique;not null" json:"portfolio_id"`
	Symbol      string         `gorm:"index:idx_positions_portfolio_symbol,unique;size:20;not null" json:"symbol"`
	Amount      float64        `gorm:"type:decimal(20,8);default:0" json:"amount"`
	Cost        float64        `gorm:"type:decimal(20,8);default:0" json:"cost"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Portfolio Portfolio `gorm:"foreignKey:PortfolioID" json:"-"`
	Orders    []Order   `gorm:"foreignKey:PositionID" json:"orders,omitempty"`
}

// TableName specifies the table name for Position model
func (Position) TableName() string {
	return "positions"
}
