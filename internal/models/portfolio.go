package models

import (
	"time"

	"gorm.io/gorm"
)

// Portfolio is the top-level accounting unit: one venue, one trading
// symbol, one pool of unallocated funds. Unallocated never goes
// negative; only the reconciliation engine mutates it, under the
// portfolio lock.
type Portfolio struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Identifier    string `gorm:"size:50;uniqueIndex;not null" json:"identifier"`
	Market        string `gorm:"size:30;not null" json:"market"`
	TradingSymbol string `gorm:"size:20;not null" json:"trading_symbol"`

	Unallocated      float64 `gorm:"type:decimal(20,8);not null;default:0" json:"unallocated"`
	TotalCost        float64 `gorm:"type:decimal(20,8);default:0" json:"total_cost"`
	TotalNetGain     float64 `gorm:"type:decimal(20,8);default:0" json:"total_net_gain"`
	TotalTradeVolume float64 `gorm:"type:decimal(20,8);default:0" json:"total_trade_volume"`
	InitialBalance   float64 `gorm:"type:decimal(20,8);not null" json:"initial_balance"`

	// Halted is set when a consistency check fails; a halted portfolio
	// accepts no further order placement until resolved.
	Halted bool `gorm:"default:false" json:"halted"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Portfolio model
func (Portfolio) TableName() string {
	return "portfolios"
}
