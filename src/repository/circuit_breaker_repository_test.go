package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeengine/src/model"
)

func testBreaker(strategyID *uint, status string, triggeredAt time.Time) model.CircuitBreakerState {
	scope := model.BreakerScopeAccount
	if strategyID != nil {
		scope = model.BreakerScopeStrategy
	}
	return model.CircuitBreakerState{
		AccountID:      1,
		StrategyID:     strategyID,
		Type:           model.BreakerTypeConsecutiveLosses,
		Scope:          scope,
		Status:         status,
		TriggerValue:   dec("4"),
		ThresholdValue: dec("3"),
		Reason:         "4 consecutive losing trades",
		TriggeredAt:    triggeredAt,
		CooldownUntil:  triggeredAt.Add(time.Hour),
	}
}

func TestCircuitBreakerRepositoryFindActive(t *testing.T) {
	db := newTestDB(t, &model.CircuitBreakerState{})
	repo := (&CircuitBreakerRepository{}).WithDB(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)

	accountWide := testBreaker(nil, model.BreakerStatusActive, base)
	strategyTwo := testBreaker(ptrUint(2), model.BreakerStatusActive, base.Add(time.Minute))
	resolved := testBreaker(ptrUint(2), model.BreakerStatusResolved, base.Add(-time.Hour))

	for _, state := range []*model.CircuitBreakerState{&accountWide, &strategyTwo, &resolved} {
		if err := repo.Create(ctx, state); err != nil {
			t.Fatalf("failed to seed breaker: %v", err)
		}
	}

	covering, err := repo.FindActive(ctx, 1, 2)
	if err != nil {
		t.Fatalf("expected active breakers for strategy 2, got error %v", err)
	}
	if len(covering) != 2 {
		t.Fatalf("expected 2 breakers covering strategy 2, got %d", len(covering))
	}

	// Strategy 5 has no scoped trip; only the account-wide one covers it.
	other, err := repo.FindActive(ctx, 1, 5)
	if err != nil {
		t.Fatalf("expected active breakers for strategy 5, got error %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("expected only the account-wide breaker for strategy 5, got %d", len(other))
	}
	if other[0].StrategyID != nil {
		t.Fatalf("expected account-wide breaker, got strategy-scoped %+v", other[0])
	}
}

func TestCircuitBreakerRepositoryResolveGuard(t *testing.T) {
	db := newTestDB(t, &model.CircuitBreakerState{})
	repo := (&CircuitBreakerRepository{}).WithDB(db)
	ctx := context.Background()

	state := testBreaker(ptrUint(2), model.BreakerStatusActive, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC))
	if err := repo.Create(ctx, &state); err != nil {
		t.Fatalf("failed to seed breaker: %v", err)
	}

	if err := repo.Resolve(ctx, state.ID, model.BreakerStatusManuallyResolved, "operator"); err != nil {
		t.Fatalf("expected resolve to succeed, got %v", err)
	}

	resolved, err := repo.FindByID(ctx, state.ID)
	if err != nil || resolved == nil {
		t.Fatalf("expected to reload breaker, got %+v err=%v", resolved, err)
	}
	if resolved.Status != model.BreakerStatusManuallyResolved {
		t.Fatalf("expected manually_resolved, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy != "operator" {
		t.Fatalf("expected resolution metadata, got %+v", resolved)
	}

	// A second resolve must lose against the status guard.
	err = repo.Resolve(ctx, state.ID, model.BreakerStatusResolved, "cooldown")
	if !errors.Is(err, ErrBreakerAlreadyResolved) {
		t.Fatalf("expected ErrBreakerAlreadyResolved, got %v", err)
	}

	if err := repo.Resolve(ctx, state.ID, "active", "nobody"); err == nil {
		t.Fatalf("expected invalid transition to be rejected")
	}
}

func TestStrategyRepositoryPauseByRisk(t *testing.T) {
	db := newTestDB(t, &model.Account{}, &model.Strategy{})
	repo := (&StrategyRepository{}).WithDB(db)
	ctx := context.Background()

	strategies := []model.Strategy{
		{AccountID: 1, Name: "alpha", Symbol: "BTCUSDT", Status: model.StrategyStatusRunning},
		{AccountID: 1, Name: "beta", Symbol: "ETHUSDT", Status: model.StrategyStatusRunning},
		{AccountID: 1, Name: "gamma", Symbol: "SOLUSDT", Status: model.StrategyStatusStopped},
		{AccountID: 9, Name: "delta", Symbol: "BTCUSDT", Status: model.StrategyStatusRunning},
	}
	for i := range strategies {
		if err := db.Create(&strategies[i]).Error; err != nil {
			t.Fatalf("failed to seed strategy: %v", err)
		}
	}

	// Strategy-scoped pause touches exactly one row.
	paused, err := repo.PauseByRisk(ctx, 1, &strategies[0].ID)
	if err != nil {
		t.Fatalf("expected scoped pause to succeed, got %v", err)
	}
	if paused != 1 {
		t.Fatalf("expected 1 strategy paused, got %d", paused)
	}

	// Account-wide pause catches the remaining running strategy only.
	paused, err = repo.PauseByRisk(ctx, 1, nil)
	if err != nil {
		t.Fatalf("expected account pause to succeed, got %v", err)
	}
	if paused != 1 {
		t.Fatalf("expected 1 strategy paused account-wide, got %d", paused)
	}

	var stillRunning int64
	if err := db.Model(&model.Strategy{}).
		Where("account_id = ? AND status = ?", 1, model.StrategyStatusRunning).
		Count(&stillRunning).Error; err != nil {
		t.Fatalf("failed to count running strategies: %v", err)
	}
	if stillRunning != 0 {
		t.Fatalf("expected no running strategies on account 1, got %d", stillRunning)
	}

	var untouched model.Strategy
	if err := db.First(&untouched, strategies[3].ID).Error; err != nil {
		t.Fatalf("failed to reload other account strategy: %v", err)
	}
	if untouched.Status != model.StrategyStatusRunning {
		t.Fatalf("expected other account strategy to stay running, got %s", untouched.Status)
	}
}
