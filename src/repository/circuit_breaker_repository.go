package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrBreakerAlreadyResolved is returned when a resolve races another resolve
// or targets a breaker that is no longer active.
var ErrBreakerAlreadyResolved = errors.New("circuit breaker is not active")

// ErrBreakerNotFound is returned when a resolve targets an id with no row.
var ErrBreakerNotFound = errors.New("circuit breaker not found")

// CircuitBreakerRepository handles persistence for CircuitBreakerState rows.
type CircuitBreakerRepository struct {
	db *gorm.DB
}

// NewCircuitBreakerRepository creates a new repository instance using the main read/write database.
func NewCircuitBreakerRepository() *CircuitBreakerRepository {
	logger.WithField("component", "CircuitBreakerRepository").
		Info("Creating new CircuitBreakerRepository with MainDB")

	return &CircuitBreakerRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *CircuitBreakerRepository) WithDB(db *gorm.DB) *CircuitBreakerRepository {
	logger.WithField("component", "CircuitBreakerRepository").
		Debug("Creating CircuitBreakerRepository with custom DB instance")

	return &CircuitBreakerRepository{db: db}
}

// ---------------------------------------------------
// Basic CRUD methods
// ---------------------------------------------------

// Create persists a freshly tripped breaker. Status must already be active;
// trips are inserted, never updated into existence.
func (r *CircuitBreakerRepository) Create(
	ctx context.Context,
	state *model.CircuitBreakerState,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "CircuitBreakerRepository",
		"op":         "Create",
		"account_id": state.AccountID,
		"scope":      state.Scope,
		"type":       state.Type,
		"reason":     state.Reason,
	}).Warn("Persisting tripped circuit breaker")

	err := r.db.WithContext(ctx).Create(state).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CircuitBreakerRepository",
			"op":         "Create",
			"account_id": state.AccountID,
		}).WithError(err).Error("Failed to persist circuit breaker")

		return err
	}

	return nil
}

// FindByID fetches a single breaker row. Returns (nil, nil) if not found.
func (r *CircuitBreakerRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.CircuitBreakerState, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "CircuitBreakerRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching circuit breaker by ID")

	var state model.CircuitBreakerState

	err := r.db.WithContext(ctx).
		First(&state, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "CircuitBreakerRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch circuit breaker by ID")

		return nil, err
	}

	return &state, nil
}

// ---------------------------------------------------
// Query helpers
// ---------------------------------------------------

// FindActive returns active breakers covering the given strategy: its own
// strategy-scoped trips plus any account-wide trip on the account.
func (r *CircuitBreakerRepository) FindActive(
	ctx context.Context,
	accountID uint,
	strategyID uint,
) ([]model.CircuitBreakerState, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "CircuitBreakerRepository",
		"op":          "FindActive",
		"account_id":  accountID,
		"strategy_id": strategyID,
	}).Debug("Fetching active circuit breakers for strategy")

	var states []model.CircuitBreakerState

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, model.BreakerStatusActive).
		Where("strategy_id IS NULL OR strategy_id = ?", strategyID).
		Order("triggered_at DESC").
		Find(&states).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CircuitBreakerRepository",
			"op":         "FindActive",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch active circuit breakers")

		return nil, err
	}

	return states, nil
}

// FindActiveForAccount returns every active breaker on the account,
// regardless of scope.
func (r *CircuitBreakerRepository) FindActiveForAccount(
	ctx context.Context,
	accountID uint,
) ([]model.CircuitBreakerState, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "CircuitBreakerRepository",
		"op":         "FindActiveForAccount",
		"account_id": accountID,
	}).Debug("Fetching active circuit breakers for account")

	var states []model.CircuitBreakerState

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, model.BreakerStatusActive).
		Order("triggered_at DESC").
		Find(&states).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CircuitBreakerRepository",
			"op":         "FindActiveForAccount",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch active circuit breakers for account")

		return nil, err
	}

	return states, nil
}

// ---------------------------------------------------
// Transitions
// ---------------------------------------------------

// Resolve moves an active breaker to the given resolved status. The update
// is guarded by WHERE status = 'active' so a racing resolve loses cleanly
// with ErrBreakerAlreadyResolved instead of double-writing.
func (r *CircuitBreakerRepository) Resolve(
	ctx context.Context,
	id uint,
	newStatus string,
	resolvedBy string,
) error {

	if !model.CanTransitionBreaker(model.BreakerStatusActive, newStatus) {
		return fmt.Errorf("invalid breaker transition: active -> %s", newStatus)
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "CircuitBreakerRepository",
		"op":          "Resolve",
		"id":          id,
		"new_status":  newStatus,
		"resolved_by": resolvedBy,
	}).Info("Resolving circuit breaker")

	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&model.CircuitBreakerState{}).
		Where("id = ? AND status = ?", id, model.BreakerStatusActive).
		Updates(map[string]interface{}{
			"status":      newStatus,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CircuitBreakerRepository",
			"op":   "Resolve",
			"id":   id,
		}).WithError(result.Error).Error("Failed to resolve circuit breaker")

		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrBreakerAlreadyResolved
	}

	return nil
}

// ---------------------------------------------------
// Search
// ---------------------------------------------------

// BreakerSearchOptions narrows Search results. Zero values mean "no filter".
type BreakerSearchOptions struct {
	AccountID  uint
	StrategyID *uint
	Status     string
	Limit      int
	Offset     int
}

// Search returns breaker rows matching the given options, newest trip first.
func (r *CircuitBreakerRepository) Search(
	ctx context.Context,
	opts BreakerSearchOptions,
) ([]model.CircuitBreakerState, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "CircuitBreakerRepository",
		"op":         "Search",
		"account_id": opts.AccountID,
		"status":     opts.Status,
	}).Debug("Searching circuit breakers")

	query := r.db.WithContext(ctx).Model(&model.CircuitBreakerState{})

	if opts.AccountID != 0 {
		query = query.Where("account_id = ?", opts.AccountID)
	}
	if opts.StrategyID != nil {
		query = query.Where("strategy_id = ?", *opts.StrategyID)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var states []model.CircuitBreakerState

	if err := query.Order("triggered_at DESC, id DESC").Find(&states).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CircuitBreakerRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search circuit breakers")

		return nil, err
	}

	return states, nil
}
