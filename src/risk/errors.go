package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Check labels used in rejection reasons.
const (
	CheckExposure   = "exposure"
	CheckDailyLoss  = "daily loss"
	CheckWeeklyLoss = "weekly loss"
	CheckDrawdown   = "drawdown"
)

// Pause scope markers carried by rejections and breaker trips.
const (
	ScopeAccount  = "account"
	ScopeStrategy = "strategy"
)

// LimitExceededError is the structured rejection a failed limit check
// surfaces to the orchestrator. Scope tells the caller whether to pause one
// strategy or the whole account.
type LimitExceededError struct {
	Check    string
	Scope    string
	Limit    decimal.Decimal
	Observed decimal.Decimal
	// Suggested is the auto-reduced quantity that would pass, zero when
	// auto-reduce is off or no positive size fits.
	Suggested decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: observed %s against limit %s (%s scope)",
		e.Check, e.Observed.String(), e.Limit.String(), e.Scope)
}

// AsLimitExceeded unwraps err into a LimitExceededError if one is present.
func AsLimitExceeded(err error) (*LimitExceededError, bool) {
	var limitErr *LimitExceededError
	if errors.As(err, &limitErr) {
		return limitErr, true
	}
	return nil, false
}

// BreakerActiveError is returned while a circuit breaker covers the
// requesting strategy.
type BreakerActiveError struct {
	BreakerID     uint
	Scope         string
	Reason        string
	CooldownUntil time.Time
}

func (e *BreakerActiveError) Error() string {
	return fmt.Sprintf("circuit breaker %d active (%s scope): %s", e.BreakerID, e.Scope, e.Reason)
}

// AsBreakerActive unwraps err into a BreakerActiveError if one is present.
func AsBreakerActive(err error) (*BreakerActiveError, bool) {
	var breakerErr *BreakerActiveError
	if errors.As(err, &breakerErr) {
		return breakerErr, true
	}
	return nil, false
}

// NewsWindowError is returned when an entry order falls inside a high-impact
// news block window.
type NewsWindowError struct {
	EventTitle  string
	WindowFrom  time.Time
	WindowTo    time.Time
	NextAllowed time.Time
}

func (e *NewsWindowError) Error() string {
	return fmt.Sprintf("entry blocked by news window around %q until %s",
		e.EventTitle, e.NextAllowed.Format(time.RFC3339))
}
