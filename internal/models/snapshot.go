package models

import (
	"time"
)

// PortfolioSnapshot is an immutable point-in-time rollup of portfolio
// state, written at portfolio creation and on the scheduler cadence.
type PortfolioSnapshot struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PortfolioID  uint      `gorm:"index;not null" json:"portfolio_id"`
	Unallocated  float64   `gorm:"type:decimal(20,8);not null" json:"unallocated"`
	Allocated    float64   `gorm:"type:decimal(20,8);not null" json:"allocated"`
	TotalValue   float64   `gorm:"type:decimal(20,8);not null" json:"total_value"`
	TotalCost    float64   `gorm:"type:decimal(20,8)" json:"total_cost"`
	TotalNetGain float64   `gorm:"type:decimal(20,8)" json:"total_net_gain"`
	CashFlow     float64   `gorm:"type:decimal(20,8)" json:"cash_flow"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`

	// Relations
	Portfolio Portfolio `gorm:"foreignKey:PortfolioID" json:"-"`
}

// TableName specifies the table name for PortfolioSnapshot model
func (PortfolioSnapshot) TableName() string {
	return "portfolio_snapshots"
}
