package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// StrategyRepository handles persistence for Strategy entities.
type StrategyRepository struct {
	db *gorm.DB
}

// NewStrategyRepository creates a new repository instance using the main read/write database.
func NewStrategyRepository() *StrategyRepository {
	logger.WithField("component", "StrategyRepository").
		Info("Creating new StrategyRepository with MainDB")

	return &StrategyRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *StrategyRepository) WithDB(db *gorm.DB) *StrategyRepository {
	logger.WithField("component", "StrategyRepository").
		Debug("Creating StrategyRepository with custom DB instance")

	return &StrategyRepository{db: db}
}

// ---------------------------------------------------
// Basic CRUD methods
// ---------------------------------------------------

// FindByID fetches a single Strategy with its Account preloaded.
// Returns (nil, nil) if not found.
func (r *StrategyRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Strategy, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "StrategyRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching strategy by ID")

	var strategy model.Strategy

	err := r.db.WithContext(ctx).
		Preload("Account").
		First(&strategy, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "StrategyRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Strategy not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch strategy by ID")

		return nil, err
	}

	return &strategy, nil
}

// FindRunnable returns every strategy in running status with its Account
// preloaded, oldest first. The engine starts one loop per row.
func (r *StrategyRepository) FindRunnable(
	ctx context.Context,
) ([]model.Strategy, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "StrategyRepository",
		"op":   "FindRunnable",
	}).Debug("Fetching runnable strategies")

	var strategies []model.Strategy

	err := r.db.WithContext(ctx).
		Preload("Account").
		Where("status = ?", model.StrategyStatusRunning).
		Order("id ASC").
		Find(&strategies).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "FindRunnable",
		}).WithError(err).Error("Failed to fetch runnable strategies")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "StrategyRepository",
		"op":          "FindRunnable",
		"rows_return": len(strategies),
	}).Info("Runnable strategies fetched")

	return strategies, nil
}

// StrategySearchOptions narrows List results. Zero values mean "no filter".
type StrategySearchOptions struct {
	AccountID uint
	Status    string
	Limit     int
	Offset    int
}

// List returns strategies matching the given options, oldest first.
func (r *StrategyRepository) List(
	ctx context.Context,
	opts StrategySearchOptions,
) ([]model.Strategy, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "StrategyRepository",
		"op":         "List",
		"account_id": opts.AccountID,
		"status":     opts.Status,
	}).Debug("Listing strategies")

	query := r.db.WithContext(ctx).Model(&model.Strategy{})

	if opts.AccountID != 0 {
		query = query.Where("account_id = ?", opts.AccountID)
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

	var strategies []model.Strategy

	if err := query.Order("id ASC").Find(&strategies).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list strategies")

		return nil, err
	}

	return strategies, nil
}

// ---------------------------------------------------
// Status transitions
// ---------------------------------------------------

// SetStatus updates a single strategy's status.
func (r *StrategyRepository) SetStatus(
	ctx context.Context,
	id uint,
	status string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "StrategyRepository",
		"op":     "SetStatus",
		"id":     id,
		"status": status,
	}).Info("Updating strategy status")

	err := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ?", id).
		Update("status", status).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "SetStatus",
			"id":   id,
		}).WithError(err).Error("Failed to update strategy status")

		return err
	}

	return nil
}

// PauseByRisk moves running strategies into paused_by_risk. A nil strategyID
// pauses every running strategy on the account (account-scoped breaker); a
// concrete ID pauses only that strategy. Returns the number of rows paused.
func (r *StrategyRepository) PauseByRisk(
	ctx context.Context,
	accountID uint,
	strategyID *uint,
) (int64, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "StrategyRepository",
		"op":          "PauseByRisk",
		"account_id":  accountID,
		"strategy_id": strategyID,
	}).Warn("Pausing strategies for risk")

	query := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("account_id = ? AND status = ?", accountID, model.StrategyStatusRunning)

	if strategyID != nil {
		query = query.Where("id = ?", *strategyID)
	}

	result := query.Update("status", model.StrategyStatusPausedByRisk)
	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "StrategyRepository",
			"op":         "PauseByRisk",
			"account_id": accountID,
		}).WithError(result.Error).Error("Failed to pause strategies")

		return 0, result.Error
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "StrategyRepository",
		"op":         "PauseByRisk",
		"account_id": accountID,
		"paused":     result.RowsAffected,
	}).Info("Strategies paused for risk")

	return result.RowsAffected, nil
}

// StopAfterBreaker moves paused_by_risk strategies into stopped once the
// covering breaker resolves. Strategies end stopped, not running, so an
// operator must explicitly restart them. A nil strategyID covers every
// risk-paused strategy on the account.
func (r *StrategyRepository) StopAfterBreaker(
	ctx context.Context,
	accountID uint,
	strategyID *uint,
) (int64, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "StrategyRepository",
		"op":          "StopAfterBreaker",
		"account_id":  accountID,
		"strategy_id": strategyID,
	}).Info("Stopping risk-paused strategies after breaker resolution")

	query := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("account_id = ? AND status = ?", accountID, model.StrategyStatusPausedByRisk)

	if strategyID != nil {
		query = query.Where("id = ?", *strategyID)
	}

	result := query.Update("status", model.StrategyStatusStopped)
	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "StrategyRepository",
			"op":         "StopAfterBreaker",
			"account_id": accountID,
		}).WithError(result.Error).Error("Failed to stop risk-paused strategies")

		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// TouchLastExecuted stamps the strategy's last loop completion time.
func (r *StrategyRepository) TouchLastExecuted(
	ctx context.Context,
	id uint,
	at time.Time,
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ?", id).
		Update("last_executed_at", at).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "TouchLastExecuted",
			"id":   id,
		}).WithError(err).Error("Failed to stamp last execution time")

		return err
	}

	return nil
}
