package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeRoleEntry = "ENTRY"
	TradeRoleExit  = "EXIT"
)

// CompletedTrade is one matched round trip: an exit fill (or a slice of one)
// allocated against one entry fill FIFO. CloseEventID is the idempotency
// anchor; re-running the same match returns the existing row.
type CompletedTrade struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CloseEventID   string          `gorm:"size:64;not null;uniqueIndex:ux_completed_trades_close_event" json:"close_event_id"`
	AccountID      uint            `gorm:"not null;index" json:"account_id"`
	StrategyID     uint            `gorm:"not null;index" json:"strategy_id"`
	Symbol         string          `gorm:"type:varchar(50);not null;index" json:"symbol"`
	PositionSide   string          `gorm:"size:8;not null" json:"pos_side"`
	Quantity       decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"quantity"`
	EntryPrice     decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"entry_price"`
	ExitPrice      decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"exit_price"`
	EntryTime      time.Time       `gorm:"not null;index" json:"entry_time"`
	ExitTime       time.Time       `gorm:"not null;index" json:"exit_time"`
	RealizedPnL    decimal.Decimal `gorm:"column:realized_pnl;type:numeric(32,12);not null" json:"realized_pnl"`
	RealizedPnLPct decimal.Decimal `gorm:"column:realized_pnl_pct;type:numeric(32,12);not null" json:"realized_pnl_pct"`
	FeePaid        decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"fee_paid"`
	// FundingFee is signed: negative means the position paid funding.
	FundingFee decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"funding_fee"`
	Leverage   int             `gorm:"not null;default:1" json:"leverage"`
	MarginMode string          `gorm:"size:20;not null;default:cross" json:"margin_mode"`
	ExitReason *string         `gorm:"size:50" json:"exit_reason,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	Orders []CompletedTradeOrder `gorm:"foreignKey:CompletedTradeID" json:"orders,omitempty"`
}

func (CompletedTrade) TableName() string {
	return "completed_trades"
}

// CompletedTradeOrder links a CompletedTrade to one Fill with the quantity
// that fill contributed in the given role. Per trade, sum(ENTRY) and
// sum(EXIT) both equal the trade quantity; per fill and role, the sum across
// all trades never exceeds the fill's executed quantity.
type CompletedTradeOrder struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CompletedTradeID uint            `gorm:"not null;uniqueIndex:ux_trade_fill_role,priority:1" json:"completed_trade_id"`
	FillID           uint            `gorm:"not null;uniqueIndex:ux_trade_fill_role,priority:2;index:idx_trade_orders_fill_role,priority:1" json:"fill_id"`
	Role             string          `gorm:"size:10;not null;uniqueIndex:ux_trade_fill_role,priority:3;index:idx_trade_orders_fill_role,priority:2" json:"role"`
	Quantity         decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"quantity"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (CompletedTradeOrder) TableName() string {
	return "completed_trade_orders"
}
