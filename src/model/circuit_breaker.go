package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BreakerTypeConsecutiveLosses = "consecutive_losses"
	BreakerTypeRapidLoss         = "rapid_loss"
)

const (
	BreakerScopeAccount  = "account"
	BreakerScopeStrategy = "strategy"
)

const (
	BreakerStatusActive           = "active"
	BreakerStatusResolved         = "resolved"
	BreakerStatusManuallyResolved = "manually_resolved"
)

// breakerTransitions defines the allowed status changes. A resolved breaker
// never mutates again; a re-trigger creates a fresh row.
var breakerTransitions = map[string][]string{
	BreakerStatusActive: {BreakerStatusResolved, BreakerStatusManuallyResolved},
}

// CanTransitionBreaker reports whether status may move from one value to
// another.
func CanTransitionBreaker(from, to string) bool {
	for _, allowed := range breakerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CircuitBreakerState is one trip of the supervisory breaker. StrategyID is
// nil for account-wide trips. While status is active every order check for
// the affected scope is refused.
type CircuitBreakerState struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	AccountID  uint   `gorm:"not null;index" json:"account_id"`
	StrategyID *uint  `gorm:"index" json:"strategy_id,omitempty"`
	Type       string `gorm:"size:30;not null" json:"type"`
	Scope      string `gorm:"size:20;not null" json:"scope"`
	Status     string `gorm:"size:30;not null;default:active;index" json:"status"`

	// TriggerValue is the observed value at trip time (loss run length or
	// realized loss); ThresholdValue is the configured limit it crossed.
	TriggerValue   decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"trigger_value"`
	ThresholdValue decimal.Decimal `gorm:"type:numeric(32,12);not null" json:"threshold_value"`
	Reason         string          `gorm:"size:512;not null" json:"reason"`
	TriggeredAt    time.Time       `gorm:"not null" json:"triggered_at"`
	CooldownUntil  time.Time       `gorm:"not null" json:"cooldown_until"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy     string          `gorm:"size:100" json:"resolved_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (CircuitBreakerState) TableName() string {
	return "circuit_breaker_states"
}

// Covers reports whether this breaker blocks the given strategy. An
// account-scoped breaker covers every strategy on the account.
func (s *CircuitBreakerState) Covers(strategyID uint) bool {
	if s.Scope == BreakerScopeAccount || s.StrategyID == nil {
		return true
	}
	return *s.StrategyID == strategyID
}
