// Package externalmodel holds rows owned by other services. The engine never
// writes these tables; they arrive through the read-only database connection.
package externalmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position labels used by TradingView-style strategy alerts.
const (
	MarketPositionLong  = "long"
	MarketPositionShort = "short"
	MarketPositionFlat  = "flat"
)

// TradingSignal is one strategy alert ingested by the webhook service. Action
// is the order side (buy/sell); MarketPosition and PrevMarketPosition describe
// the position the strategy holds after and before the order, which is what
// distinguishes an entry from an exit from a flip.
type TradingSignal struct {
	ID                     uint                `gorm:"primaryKey;column:id" json:"id"`
	Exchange               string              `gorm:"column:exchange" json:"exchange"`
	Symbol                 string              `gorm:"column:symbol" json:"symbol"`
	Action                 string              `gorm:"column:action" json:"action"`
	OrderType              string              `gorm:"column:order_type" json:"order_type"`
	Quantity               decimal.Decimal     `gorm:"column:qty;type:numeric(32,12)" json:"qty"`
	Price                  decimal.NullDecimal `gorm:"column:price;type:numeric(32,12)" json:"price,omitempty"`
	MarketPosition         string              `gorm:"column:market_position" json:"market_position"`
	PrevMarketPosition     string              `gorm:"column:prev_market_position" json:"prev_market_position"`
	MarketPositionSize     decimal.Decimal     `gorm:"column:market_position_size;type:numeric(32,12)" json:"market_position_size"`
	PrevMarketPositionSize decimal.Decimal     `gorm:"column:prev_market_position_size;type:numeric(32,12)" json:"prev_market_position_size"`
	Comment                string              `gorm:"column:comment" json:"comment"`
	ReceivedAt             *time.Time          `gorm:"column:received_at" json:"received_at,omitempty"`
}

// TableName ensures GORM uses the ingester's exact table name.
func (TradingSignal) TableName() string {
	return "trading_signals"
}
