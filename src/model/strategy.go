package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StrategyStatusRunning      = "running"
	StrategyStatusPausedByRisk = "paused_by_risk"
	StrategyStatusStopped      = "stopped"
)

const (
	LimitModeOverride        = "override"
	LimitModeMoreRestrictive = "more_restrictive"
	LimitModeStrategyOnly    = "strategy_only"
)

// Strategy is one trading loop bound to an account and a symbol. Risk limit
// columns are nullable: an unset value means "no limit at this level", which
// is distinct from a limit of zero.
type Strategy struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"not null;index" json:"account_id"`
	Name      string `gorm:"size:255;not null" json:"name"`
	Symbol    string `gorm:"size:50;not null" json:"symbol"`
	Status    string `gorm:"size:30;not null;default:stopped;index" json:"status"`

	// LimitMode selects how strategy limits combine with account limits:
	// override, more_restrictive, or strategy_only.
	LimitMode       string              `gorm:"size:30;not null;default:more_restrictive" json:"limit_mode"`
	MaxExposure     decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_exposure,omitempty"`
	MaxDailyLoss    decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_daily_loss,omitempty"`
	MaxWeeklyLoss   decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_weekly_loss,omitempty"`
	MaxDrawdownPct  decimal.NullDecimal `gorm:"type:numeric(32,12)" json:"max_drawdown_pct,omitempty"`
	AutoReduce      bool                `gorm:"not null;default:false" json:"auto_reduce"`
	Leverage        int                 `gorm:"not null;default:1" json:"leverage"`
	MarginMode      string              `gorm:"size:20;not null;default:cross" json:"margin_mode"`
	LoopIntervalSec int                 `gorm:"not null;default:30" json:"loop_interval_sec"`
	LastExecutedAt  *time.Time          `json:"last_executed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`

	Account *Account `gorm:"constraint:OnDelete:CASCADE" json:"account,omitempty"`
}

func (Strategy) TableName() string {
	return "strategies"
}

// LoopInterval returns the polling period with a floor of one second.
func (s *Strategy) LoopInterval() time.Duration {
	if s.LoopIntervalSec < 1 {
		return time.Second
	}
	return time.Duration(s.LoopIntervalSec) * time.Second
}
