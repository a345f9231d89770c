package models

import (
	"time"
)

// RiskRuleKind represents the rule direction
type RiskRuleKind string

const (
	RiskRuleStopLoss   RiskRuleKind = "STOP_LOSS"
	RiskRuleTakeProfit RiskRuleKind = "TAKE_PROFIT"
)

// RiskRuleType represents how the trigger price is derived
type RiskRuleType string

const (
	RiskTypeFixed    RiskRuleType = "FIXED"
	RiskTypeTrailing RiskRuleType = "TRAILING"
)

// RiskRuleState is derived from SoldAmount relative to SellAmount.
type RiskRuleState string

const (
	RiskStateInactive           RiskRuleState = "INACTIVE"
	RiskStateActive             RiskRuleState = "ACTIVE"
	RiskStatePartiallyTriggered RiskRuleState = "PARTIALLY_TRIGGERED"
	RiskStateTriggered          RiskRuleState = "TRIGGERED"
)

// RiskRule is a stop-loss or take-profit rule attached to an open trade.
// A trade may carry any number of rules of either kind; each liquidates
// its own slice of the trade independently.
type RiskRule struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	TradeID        uint         `gorm:"index;not null" json:"trade_id"`
	Kind           RiskRuleKind `gorm:"size:15;not null" json:"kind"`
	RiskType       RiskRuleType `gorm:"size:10;not null;default:'FIXED'" json:"risk_type"`
	Percentage     float64      `gorm:"type:decimal(10,4);not null" json:"percentage"`
	SellPercentage float64      `gorm:"type:decimal(10,4);not null" json:"sell_percentage"`
	OpenPrice      float64      `gorm:"type:decimal(20,8);not null" json:"open_price"`

	// TRAILING only; moves exclusively in the trader's favor.
	HighWaterMark float64 `gorm:"type:decimal(20,8)" json:"high_water_mark"`

	SellAmount      float64    `gorm:"type:decimal(20,8);not null" json:"sell_amount"`
	SoldAmount      float64    `gorm:"type:decimal(20,8);default:0" json:"sold_amount"`
	Active          bool       `gorm:"default:true" json:"active"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Trade Trade `gorm:"foreignKey:TradeID" json:"-"`
}

// TableName specifies the table name for RiskRule model
func (RiskRule) TableName() string {
	return "risk_rules"
}

// State reports the rule's position in its lifecycle.
func (r *RiskRule) State() RiskRuleState {
	switch {
	case !r.Active && r.SoldAmount >= r.SellAmount:
		return RiskStateTriggered
	case !r.Active:
		return RiskStateInactive
	case r.SoldAmount > 0:
		return RiskStatePartiallyTriggered
	default:
		return RiskStateActive
	}
}

// TriggerPrice computes the price at which the rule fires. FIXED rules
// offset from the open price; TRAILING rules offset from the high-water
// mark so the trigger follows the market in the trader's favor.
func (r *RiskRule) TriggerPrice() float64 {
	base := r.OpenPrice
	if r.RiskType == RiskTypeTrailing && r.HighWaterMark > 0 {
		base = r.HighWaterMark
	}
	if r.Kind == RiskRuleStopLoss {
		return base * (1 - r.Percentage/100)
	}
	return base * (1 + r.Percentage/100)
}

// RemainingSellAmount returns the units this rule may still liquidate.
func (r *RiskRule) RemainingSellAmount() float64 {
	if rem := r.SellAmount - r.SoldAmount; rem > 0 {
		return rem
	}
	return 0
}
