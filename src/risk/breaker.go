package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/events"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// TaskCanceler stops in-flight execution tasks when a breaker trips. The
// engine runner implements it; a nil canceler skips cancellation, which is
// fine before the runner starts.
type TaskCanceler interface {
	CancelStrategy(strategyID uint)
	CancelAccount(accountID uint)
}

// ---------------------------------------------------

// Supervisor watches completed trades for abnormal loss patterns and trips
// circuit breakers, independently of the per-order limit checks.
//
// A trip persists the breaker state before touching anything else, so a
// crash right after cannot leave a running strategy without its breaker on
// record. Resolution happens after the cooldown elapses or by operator
// action, and always leaves strategies stopped rather than running.
type Supervisor struct {
	breakers   *repository.CircuitBreakerRepository
	strategies *repository.StrategyRepository
	trades     *repository.CompletedTradeRepository
	bus        *events.Bus
	canceler   TaskCanceler

	now func() time.Time
}

func NewSupervisor(
	breakers *repository.CircuitBreakerRepository,
	strategies *repository.StrategyRepository,
	trades *repository.CompletedTradeRepository,
	bus *events.Bus,
	canceler TaskCanceler,
) *Supervisor {
	return &Supervisor{
		breakers:   breakers,
		strategies: strategies,
		trades:     trades,
		bus:        bus,
		canceler:   canceler,
		now:        time.Now,
	}
}

// SetCanceler attaches the loop canceler. The runner is built after the
// supervisor, so wiring happens in two steps.
func (s *Supervisor) SetCanceler(canceler TaskCanceler) {
	s.canceler = canceler
}

// Gate refuses the order attempt while an unexpired breaker covers the
// strategy. Breakers whose cooldown has elapsed are resolved on the way
// through, leaving their strategies stopped.
func (s *Supervisor) Gate(ctx context.Context, accountID, strategyID uint) error {
	states, err := s.breakers.FindActive(ctx, accountID, strategyID)
	if err != nil {
		return err
	}

	for i := range states {
		state := &states[i]
		if !state.CooldownUntil.After(s.now()) {
			if err := s.resolve(ctx, state, model.BreakerStatusResolved, "cooldown"); err != nil {
				return err
			}
			continue
		}
		return &BreakerActiveError{
			BreakerID:     state.ID,
			Scope:         state.Scope,
			Reason:        state.Reason,
			CooldownUntil: state.CooldownUntil,
		}
	}
	return nil
}

// IsActive reports whether any active breaker currently covers the
// strategy. Pure read: no expiry resolution, no writes.
func (s *Supervisor) IsActive(ctx context.Context, accountID, strategyID uint) (bool, error) {
	states, err := s.breakers.FindActive(ctx, accountID, strategyID)
	if err != nil {
		return false, err
	}
	return len(states) > 0, nil
}

// OnTradeCompleted evaluates the breaker triggers after the matcher records
// a trade. Winning trades cannot start a trip: the loss run is broken and
// the window loss shrank.
func (s *Supervisor) OnTradeCompleted(ctx context.Context, account *model.Account, trade *model.CompletedTrade) error {
	if account == nil || trade == nil || !trade.RealizedPnL.IsNegative() {
		return nil
	}

	if err := s.checkConsecutiveLosses(ctx, account, trade.StrategyID); err != nil {
		return err
	}
	return s.checkRapidLoss(ctx, account)
}

// checkConsecutiveLosses trips on a run of losing trades, first at strategy
// scope, then account-wide.
func (s *Supervisor) checkConsecutiveLosses(ctx context.Context, account *model.Account, strategyID uint) error {
	threshold := account.MaxConsecutiveLosses
	if threshold < 1 {
		return nil
	}

	run, err := s.lossRun(ctx, account.ID, &strategyID, threshold)
	if err != nil {
		return err
	}
	if run >= threshold {
		// Pausing the offending strategy is enough for this round; the
		// account-wide run only matters when losses spread across
		// strategies without any single one hitting the threshold.
		return s.trip(ctx, account, &strategyID, tripParams{
			breakerType: model.BreakerTypeConsecutiveLosses,
			scope:       model.BreakerScopeStrategy,
			trigger:     decimal.NewFromInt(int64(run)),
			threshold:   decimal.NewFromInt(int64(threshold)),
			reason:      fmt.Sprintf("%d consecutive losing trades on strategy %d", run, strategyID),
		})
	}

	run, err = s.lossRun(ctx, account.ID, nil, threshold)
	if err != nil {
		return err
	}
	if run >= threshold {
		return s.trip(ctx, account, nil, tripParams{
			breakerType: model.BreakerTypeConsecutiveLosses,
			scope:       model.BreakerScopeAccount,
			trigger:     decimal.NewFromInt(int64(run)),
			threshold:   decimal.NewFromInt(int64(threshold)),
			reason:      fmt.Sprintf("%d consecutive losing trades across account %d", run, account.ID),
		})
	}
	return nil
}

// lossRun returns how many of the most recent trades, up to limit, are an
// unbroken run of losses.
func (s *Supervisor) lossRun(ctx context.Context, accountID uint, strategyID *uint, limit int) (int, error) {
	trades, err := s.trades.LastTrades(ctx, accountID, strategyID, limit)
	if err != nil {
		return 0, err
	}
	run := 0
	for i := range trades {
		if !trades[i].RealizedPnL.IsNegative() {
			break
		}
		run++
	}
	return run, nil
}

// checkRapidLoss trips account-wide when the realized loss inside the
// rolling window exceeds the configured percentage of the balance the
// account entered the window with.
func (s *Supervisor) checkRapidLoss(ctx context.Context, account *model.Account) error {
	if !account.RapidLossPct.IsPositive() {
		return nil
	}

	since := s.now().Add(-account.RapidLossWindow())
	windowPnL, err := s.trades.RealizedPnLSince(ctx, account.ID, nil, since)
	if err != nil {
		return err
	}
	loss := windowPnL.Neg()
	if !loss.IsPositive() {
		return nil
	}

	totalPnL, err := s.trades.RealizedPnLSince(ctx, account.ID, nil, time.Time{})
	if err != nil {
		return err
	}
	current := account.StartingBalance.Add(totalPnL)
	baseline := current.Sub(windowPnL)
	if !baseline.IsPositive() {
		return nil
	}

	lossPct := loss.Div(baseline).Mul(decimal.NewFromInt(100))
	if lossPct.LessThan(account.RapidLossPct) {
		return nil
	}

	return s.trip(ctx, account, nil, tripParams{
		breakerType: model.BreakerTypeRapidLoss,
		scope:       model.BreakerScopeAccount,
		trigger:     lossPct,
		threshold:   account.RapidLossPct,
		reason: fmt.Sprintf("lost %s (%s%% of balance) within %s",
			loss.StringFixed(2), lossPct.StringFixed(2), account.RapidLossWindow()),
	})
}

// ---------------------------------------------------

type tripParams struct {
	breakerType string
	scope       string
	trigger     decimal.Decimal
	threshold   decimal.Decimal
	reason      string
}

// trip activates a breaker: persist first, then pause strategies and cancel
// their tasks. An active breaker of the same type and scope suppresses a
// second trip.
func (s *Supervisor) trip(ctx context.Context, account *model.Account, strategyID *uint, params tripParams) error {
	existing, err := s.breakers.FindActiveForAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	for i := range existing {
		if existing[i].Type == params.breakerType && existing[i].Scope == params.scope &&
			sameStrategy(existing[i].StrategyID, strategyID) {
			return nil
		}
	}

	now := s.now()
	state := &model.CircuitBreakerState{
		AccountID:      account.ID,
		StrategyID:     strategyID,
		Type:           params.breakerType,
		Scope:          params.scope,
		Status:         model.BreakerStatusActive,
		TriggerValue:   params.trigger,
		ThresholdValue: params.threshold,
		Reason:         params.reason,
		TriggeredAt:    now,
		CooldownUntil:  now.Add(account.BreakerCooldown()),
	}
	if err := s.breakers.Create(ctx, state); err != nil {
		return fmt.Errorf("persisting breaker state: %w", err)
	}

	// The persisted breaker is the invariant: Gate refuses every order while
	// it is active, so a failed row flip cannot reopen trading. Log it and
	// carry on; the caller has nothing further to do with the failure.
	paused, err := s.strategies.PauseByRisk(ctx, account.ID, strategyID)
	if err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"account": account.ID,
			"breaker": state.ID,
		}).Error("Breaker persisted but pausing strategies failed")
	}

	if s.canceler != nil {
		if strategyID != nil {
			s.canceler.CancelStrategy(*strategyID)
		} else {
			s.canceler.CancelAccount(account.ID)
		}
	}

	metrics.BreakerTrips.WithLabelValues(params.breakerType, params.scope).Inc()
	metrics.BreakersActive.WithLabelValues(strconv.FormatUint(uint64(account.ID), 10)).Inc()

	logger.WithFields(map[string]interface{}{
		"account":   account.ID,
		"breaker":   state.ID,
		"type":      params.breakerType,
		"scope":     params.scope,
		"trigger":   params.trigger.String(),
		"threshold": params.threshold.String(),
		"paused":    paused,
	}).Warn("Circuit breaker tripped")

	if s.bus != nil {
		s.bus.Publish(&events.Event{
			Type:       events.TypeBreakerTripped,
			AccountID:  account.ID,
			StrategyID: derefID(strategyID),
			Data: map[string]interface{}{
				"breaker_id": state.ID,
				"type":       params.breakerType,
				"scope":      params.scope,
				"reason":     params.reason,
			},
		})
	}
	return nil
}

// ResolveByOperator resolves an active breaker ahead of its cooldown.
// Covered strategies end stopped; nothing auto-resumes.
func (s *Supervisor) ResolveByOperator(ctx context.Context, breakerID uint, operator string) error {
	state, err := s.breakers.FindByID(ctx, breakerID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("circuit breaker %d: %w", breakerID, repository.ErrBreakerNotFound)
	}
	if state.Status != model.BreakerStatusActive {
		return repository.ErrBreakerAlreadyResolved
	}
	return s.resolve(ctx, state, model.BreakerStatusManuallyResolved, operator)
}

// ResolveExpired resolves every active breaker on the account whose
// cooldown has elapsed. Returns how many were resolved.
func (s *Supervisor) ResolveExpired(ctx context.Context, accountID uint) (int, error) {
	states, err := s.breakers.FindActiveForAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range states {
		if states[i].CooldownUntil.After(s.now()) {
			continue
		}
		if err := s.resolve(ctx, &states[i], model.BreakerStatusResolved, "cooldown"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (s *Supervisor) resolve(ctx context.Context, state *model.CircuitBreakerState, newStatus, resolvedBy string) error {
	if err := s.breakers.Resolve(ctx, state.ID, newStatus, resolvedBy); err != nil {
		return err
	}

	if _, err := s.strategies.StopAfterBreaker(ctx, state.AccountID, state.StrategyID); err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"account": state.AccountID,
			"breaker": state.ID,
		}).Error("Breaker resolved but stopping strategies failed")
	}

	metrics.BreakersActive.WithLabelValues(strconv.FormatUint(uint64(state.AccountID), 10)).Dec()

	logger.WithFields(map[string]interface{}{
		"account":     state.AccountID,
		"breaker":     state.ID,
		"status":      newStatus,
		"resolved_by": resolvedBy,
	}).Info("Circuit breaker resolved")

	if s.bus != nil {
		s.bus.Publish(&events.Event{
			Type:       events.TypeBreakerResolved,
			AccountID:  state.AccountID,
			StrategyID: derefID(state.StrategyID),
			Data: map[string]interface{}{
				"breaker_id":  state.ID,
				"status":      newStatus,
				"resolved_by": resolvedBy,
			},
		})
	}
	return nil
}

func sameStrategy(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func derefID(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
