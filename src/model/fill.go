package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"
)

const (
	FillDirectionEntry = "entry"
	FillDirectionExit  = "exit"
)

const (
	FillStatusNew             = "NEW"
	FillStatusPartiallyFilled = "PARTIALLY_FILLED"
	FillStatusFilled          = "FILLED"
	FillStatusCanceled        = "CANCELED"
	FillStatusRejected        = "REJECTED"
	FillStatusExpired         = "EXPIRED"
)

// Fill is one execution report from the exchange, keyed by exchange order id.
// PARTIALLY_FILLED rows update in place as more quantity fills; FILLED rows
// are immutable.
type Fill struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	AccountID       uint   `gorm:"not null;uniqueIndex:ux_fills_account_symbol_order,priority:1;index" json:"account_id"`
	StrategyID      uint   `gorm:"not null;index" json:"strategy_id"`
	Symbol          string `gorm:"type:varchar(50);not null;uniqueIndex:ux_fills_account_symbol_order,priority:2" json:"symbol"`
	ExchangeOrderID string `gorm:"size:64;not null;uniqueIndex:ux_fills_account_symbol_order,priority:3" json:"exchange_order_id"`
	ClientOrderID   string `gorm:"size:40;index" json:"client_order_id"`
	// SignalID links the fill back to the external trading signal that
	// produced it, so a signal is acted on at most once per direction.
	SignalID     *uint  `gorm:"index" json:"signal_id,omitempty"`
	Side         string `gorm:"size:8;not null" json:"side"`
	PositionSide string `gorm:"size:8;not null" json:"pos_side"`

	// Direction is the caller's entry/exit hint. The matcher trusts
	// PositionSide plus Side, not this field.
	Direction        string              `gorm:"size:10" json:"direction"`
	OrderType        string              `gorm:"size:20;not null;default:MARKET" json:"order_type"`
	Price            decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"price,omitempty"`
	AvgPrice         decimal.Decimal     `gorm:"type:numeric(32,12);not null" json:"avg_price"`
	OrigQuantity     decimal.Decimal     `gorm:"type:numeric(32,12);not null" json:"orig_quantity"`
	ExecutedQuantity decimal.Decimal     `gorm:"type:numeric(32,12);not null" json:"executed_quantity"`
	Fee              decimal.Decimal     `gorm:"type:numeric(32,12);not null" json:"fee"`
	FeeAsset         string              `gorm:"size:20" json:"fee_asset"`
	Leverage         int                 `gorm:"not null;default:1" json:"leverage"`
	MarginMode       string              `gorm:"size:20;not null;default:cross" json:"margin_mode"`
	ReduceOnly       bool                `gorm:"not null;default:false" json:"reduce_only"`
	Status           string              `gorm:"size:30;not null;default:NEW" json:"status"`
	ExitReason       *string             `gorm:"size:50" json:"exit_reason,omitempty"`
	FilledAt         *time.Time          `json:"filled_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`

	// One-to-many relation: every create/update appends an audit event
	Events []FillEvent `gorm:"foreignKey:FillID" json:"events,omitempty"`
}

func (Fill) TableName() string {
	return "fills"
}

// RemainingQuantity is the unfilled part of the order, zero once terminal.
func (f *Fill) RemainingQuantity() decimal.Decimal {
	remaining := f.OrigQuantity.Sub(f.ExecutedQuantity)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// EntrySideFor returns the order side that opens a position on the given
// position side (LONG entries are BUY, SHORT entries are SELL).
func EntrySideFor(positionSide string) string {
	if positionSide == PositionSideShort {
		return SideSell
	}
	return SideBuy
}

// IsFillable reports whether the status still carries executed quantity that
// the matcher may consume.
func IsFillable(status string) bool {
	return status == FillStatusFilled || status == FillStatusPartiallyFilled
}

// IsTerminal reports whether the exchange will never change this status again.
func IsTerminal(status string) bool {
	switch status {
	case FillStatusFilled, FillStatusCanceled, FillStatusRejected, FillStatusExpired:
		return true
	}
	return false
}
