package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one exchange account trading one or more strategies. API
// credentials are stored encrypted (see security package); the raw values
// never touch the database.
type Account struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"size:255;not null" json:"name"`
	Exchange     string `gorm:"size:50;not null;default:binance" json:"exchange"`
	APIKeyEnc    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretEnc string `gorm:"column:api_secret;type:text" json:"-"`
	Testnet      bool   `gorm:"not null;default:false" json:"testnet"`

	// StartingBalance anchors drawdown: peak balance is reconstructed from
	// it plus cumulative realized PnL.
	StartingBalance decimal.Decimal     `gorm:"type:numeric(32,12);not null;default:0" json:"starting_balance"`
	MaxExposure     decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_exposure,omitempty"`
	MaxDailyLoss    decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_daily_loss,omitempty"`
	MaxWeeklyLoss   decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_weekly_loss,omitempty"`
	MaxDrawdownPct  decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_drawdown_pct,omitempty"`
	AutoReduce      bool                `gorm:"not null;default:false" json:"auto_reduce"`

	// Daily PnL resets at DailyResetHour in ResetTimezone; weekly PnL resets
	// at the same hour on WeeklyResetWeekday (time.Weekday numbering).
	DailyResetHour     int    `gorm:"not null;default:0" json:"daily_reset_hour"`
	WeeklyResetWeekday int    `gorm:"not null;default:1" json:"weekly_reset_weekday"`
	ResetTimezone      string `gorm:"size:60;not null;default:UTC" json:"reset_timezone"`

	// Circuit breaker thresholds. RapidLossPct zero disables the rapid-loss
	// trigger; MaxConsecutiveLosses zero disables the loss-run trigger.
	MaxConsecutiveLosses int             `gorm:"not null;default:3" json:"max_consecutive_losses"`
	RapidLossPct         decimal.Decimal `gorm:"type:numeric(32,12);not null;default:0" json:"rapid_loss_pct"`
	RapidLossWindowMin   int             `gorm:"not null;default:60" json:"rapid_loss_window_min"`
	BreakerCooldownMin   int             `gorm:"not null;default:60" json:"breaker_cooldown_min"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Strategies []Strategy `gorm:"foreignKey:AccountID" json:"strategies,omitempty"`
}

func (Account) TableName() string {
	return "accounts"
}

// RapidLossWindow returns the rolling window for the rapid-loss trigger.
func (a *Account) RapidLossWindow() time.Duration {
	if a.RapidLossWindowMin < 1 {
		return time.Hour
	}
	return time.Duration(a.RapidLossWindowMin) * time.Minute
}

// BreakerCooldown returns how long a tripped breaker stays active before it
// may resolve.
func (a *Account) BreakerCooldown() time.Duration {
	if a.BreakerCooldownMin < 1 {
		return time.Hour
	}
	return time.Duration(a.BreakerCooldownMin) * time.Minute
}
