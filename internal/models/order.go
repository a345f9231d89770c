package models

import (
	"time"

	"gorm.io/gorm"
)

// OrderType represents the order type
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderSide represents the order side
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus represents the order status
type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "CREATED"
	OrderStatusOpen     OrderStatus = "OPEN"
	OrderStatusClosed   OrderStatus = "CLOSED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// Order represents a trading order in the local ledger
type Order struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	PortfolioID   uint        `gorm:"index;not null" json:"portfolio_id"`
	PositionID    uint        `gorm:"index;not null" json:"position_id"`
	ClientOrderID string      `gorm:"size:50;index" json:"client_order_id"`
	ExternalID    string      `gorm:"size:50;index" json:"external_id"`
	TargetSymbol  string      `gorm:"size:20;not null;index" json:"target_symbol"`
	TradingSymbol string      `gorm:"size:20;not null" json:"trading_symbol"`
	Side          OrderSide   `gorm:"size:10;not null" json:"side"`
	Type          OrderType   `gorm:"size:10;not null" json:"type"`
	Price         float64     `gorm:"type:decimal(20,8)" json:"price"`
	Amount        float64     `gorm:"type:decimal(20,8);not null" json:"amount"`
	Filled        float64     `gorm:"type:decimal(20,8);default:0" json:"filled"`
	Remaining     float64     `gorm:"type:decimal(20,8);default:0" json:"remaining"`
	Status        OrderStatus `gorm:"size:20;not null;default:'CREATED'" json:"status"`

	// Reserved marks orders whose funds were decremented optimistically
	// at creation; only those get the remainder credited back on
	// cancellation/expiry/rejection.
	Reserved bool `gorm:"default:false" json:"reserved"`

	// Trade-closing bookkeeping: how much of a BUY has been matched
	// against SELL fills by the FIFO matcher.
	TradeClosedAmount float64    `gorm:"type:decimal(20,8);default:0" json:"trade_closed_amount"`
	TradeClosedPrice  float64    `gorm:"type:decimal(20,8)" json:"trade_closed_price"`
	TradeClosedAt     *time.Time `json:"trade_closed_at,omitempty"`
	NetGain           float64    `gorm:"type:decimal(20,8);default:0" json:"net_gain"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Portfolio Portfolio `gorm:"foreignKey:PortfolioID" json:"-"`
	Position  Position  `gorm:"foreignKey:PositionID" json:"-"`
}

// TableName specifies the table name for Order model
func (Order) TableName() string {
	return "orders"
}

// IsTerminal returns true once the order can no longer change state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusClosed || o.Status == OrderStatusCanceled ||
		o.Status == OrderStatusExpired || o.Status == OrderStatusRejected
}

// IsOpen returns true while the order is still working on the venue.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// AvailableToClose returns the filled units of a BUY order not yet
// matched against SELL fills.
func (o *Order) AvailableToClose() float64 {
	return o.Filled - o.TradeClosedAmount
}
