package models

import (
	"time"
)

// TradeStatus represents the trade status
type TradeStatus string

const (
	TradeStatusCreated TradeStatus = "CREATED"
	TradeStatusOpen    TradeStatus = "OPEN"
	TradeStatusClosed  TradeStatus = "CLOSED"
)

// Trade is the denormalized view of one originating BUY order plus the
// SELL fills that close it. It exists from the moment the BUY order is
// created and closes when Remaining reaches zero.
type Trade struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	PortfolioID   uint        `gorm:"index;not null" json:"portfolio_id"`
	BuyOrderID    uint        `gorm:"uniqueIndex;not null" json:"buy_order_id"`
	TargetSymbol  string      `gorm:"size:20;not null;index" json:"target_symbol"`
	TradingSymbol string      `gorm:"size:20;not null" json:"trading_symbol"`
	Amount        float64     `gorm:"type:decimal(20,8);not null" json:"amount"`
	Remaining     float64     `gorm:"type:decimal(20,8);not null" json:"remaining"`
	OpenPrice     float64     `gorm:"type:decimal(20,8);not null" json:"open_price"`
	ClosedPrice   float64     `gorm:"type:decimal(20,8)" json:"closed_price"`
	NetGain       float64     `gorm:"type:decimal(20,8);default:0" json:"net_gain"`
	Status        TradeStatus `gorm:"size:10;not null;default:'CREATED'" json:"status"`

	// Best price seen since open; trailing risk rules key off this.
	HighWaterMark float64 `gorm:"type:decimal(20,8)" json:"high_water_mark"`

	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Relations
	Portfolio Portfolio  `gorm:"foreignKey:PortfolioID" json:"-"`
	BuyOrder  Order      `gorm:"foreignKey:BuyOrderID" json:"-"`
	RiskRules []RiskRule `gorm:"foreignKey:TradeID" json:"risk_rules,omitempty"`
}

// TableName specifies the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// IsOpen returns true while the trade still has units to close.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusCreated || t.Status == TradeStatusOpen
}
