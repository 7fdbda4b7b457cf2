package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// FillRepository handles persistence for Fill entities and their audit events.
type FillRepository struct {
	db *gorm.DB
}

// NewFillRepository creates a new repository instance using the main read/write database.
func NewFillRepository() *FillRepository {
	logger.WithField("component", "FillRepository").
		Info("Creating new FillRepository with MainDB")

	return &FillRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *FillRepository) WithDB(db *gorm.DB) *FillRepository {
	logger.WithField("component", "FillRepository").
		Debug("Creating FillRepository with custom DB instance")

	return &FillRepository{db: db}
}

// ---------------------------------------------------
// Basic CRUD methods
// ---------------------------------------------------

// Create inserts a new Fill together with its "created" audit event in a
// single transaction. The given entity will be updated with the generated ID
// and timestamps.
func (r *FillRepository) Create(
	ctx context.Context,
	fill *model.Fill,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "FillRepository",
		"op":       "Create",
		"symbol":   fill.Symbol,
		"side":     fill.Side,
		"pos_side": fill.PositionSide,
		"qty":      fill.OrigQuantity,
	}).Debug("Creating new fill")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fill).Error; err != nil {
			logger.WithError(err).Error("Failed to create fill inside transaction")
			return err
		}

		event := &model.FillEvent{
			FillID:     fill.ID,
			StrategyID: &fill.StrategyID,
			Level:      "info",
			Event:      model.FillEventCreated,
			Message:    "fill recorded",
			Metadata: map[string]any{
				"exchange_order_id": fill.ExchangeOrderID,
				"client_order_id":   fill.ClientOrderID,
				"status":            fill.Status,
				"executed_qty":      fill.ExecutedQuantity.String(),
			},
			CreatedAt: time.Now(),
		}

		if err := tx.Create(event).Error; err != nil {
			logger.WithError(err).Error("Failed to create fill audit event")
			return err
		}

		return nil
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "FillRepository",
			"op":     "Create",
			"symbol": fill.Symbol,
			"side":   fill.Side,
		}).WithError(err).Error("Failed to create fill")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "FillRepository",
		"op":      "Create",
		"fill_id": fill.ID,
		"status":  fill.Status,
	}).Info("Fill created successfully")

	return nil
}

// Update saves the full fill row and appends an audit event describing the
// change, both in one transaction.
func (r *FillRepository) Update(
	ctx context.Context,
	fill *model.Fill,
	event string,
	message string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":    "FillRepository",
		"op":      "Update",
		"fill_id": fill.ID,
		"event":   event,
		"status":  fill.Status,
	}).Info("Updating fill with audit event")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(fill).Error; err != nil {
			logger.WithError(err).Error("Failed to update fill inside transaction")
			return err
		}

		audit := &model.FillEvent{
			FillID:     fill.ID,
			StrategyID: &fill.StrategyID,
			Level:      "info",
			Event:      event,
			Message:    message,
			Metadata: map[string]any{
				"status":        fill.Status,
				"executed_qty":  fill.ExecutedQuantity.String(),
				"remaining_qty": fill.RemainingQuantity().String(),
				"avg_price":     fill.AvgPrice.String(),
			},
			CreatedAt: time.Now(),
		}

		if err := tx.Create(audit).Error; err != nil {
			logger.WithError(err).Error("Failed to create fill audit event on update")
			return err
		}

		return nil
	})
}

// FindByID fetches a single Fill by its primary ID.
// Returns (nil, nil) if not found.
func (r *FillRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Fill, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "FillRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching fill by ID")

	var fill model.Fill

	err := r.db.WithContext(ctx).
		First(&fill, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "FillRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Fill not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "FillRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch fill by ID")

		return nil, err
	}

	return &fill, nil
}

// FindByExchangeOrderID fetches a Fill by the exchange-assigned order ID.
// Returns (nil, nil) if not found.
func (r *FillRepository) FindByExchangeOrderID(
	ctx context.Context,
	accountID uint,
	symbol string,
	exchangeOrderID string,
) (*model.Fill, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "FillRepository",
		"op":          "FindByExchangeOrderID",
		"account_id":  accountID,
		"symbol":      symbol,
		"external_id": exchangeOrderID,
	}).Debug("Fetching fill by exchange order ID")

	var fill model.Fill

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND exchange_order_id = ?",
			accountID, symbol, exchangeOrderID).
		First(&fill).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "FillRepository",
			"op":          "FindByExchangeOrderID",
			"external_id": exchangeOrderID,
		}).WithError(err).Error("Failed to fetch fill by exchange order ID")

		return nil, err
	}

	return &fill, nil
}

// FindByClientOrderID fetches a Fill by the client order ID the executor
// assigned at placement time. Returns (nil, nil) if not found.
func (r *FillRepository) FindByClientOrderID(
	ctx context.Context,
	accountID uint,
	clientOrderID string,
) (*model.Fill, error) {

	logger.WithFields(map[string]interface{}{
		"repo":            "FillRepository",
		"op":              "FindByClientOrderID",
		"account_id":      accountID,
		"client_order_id": clientOrderID,
	}).Debug("Fetching fill by client order ID")

	var fill model.Fill

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND client_order_id = ?", accountID, clientOrderID).
		First(&fill).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":            "FillRepository",
			"op":              "FindByClientOrderID",
			"client_order_id": clientOrderID,
		}).WithError(err).Error("Failed to fetch fill by client order ID")

		return nil, err
	}

	return &fill, nil
}

// FindBySignalID fetches the fill an external trading signal already produced
// for the given account and direction, if any. The engine uses it to skip
// signals it has acted on. Returns (nil, nil) if not found.
func (r *FillRepository) FindBySignalID(
	ctx context.Context,
	accountID uint,
	signalID uint,
	direction string,
) (*model.Fill, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "FillRepository",
		"op":         "FindBySignalID",
		"account_id": accountID,
		"signal_id":  signalID,
		"direction":  direction,
	}).Debug("Fetching fill by signal ID")

	var fill model.Fill

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND signal_id = ? AND direction = ?",
			accountID, signalID, direction).
		Order("id DESC").
		First(&fill).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "FillRepository",
			"op":        "FindBySignalID",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to fetch fill by signal ID")

		return nil, err
	}

	return &fill, nil
}

// ---------------------------------------------------
// Matching queries
// ---------------------------------------------------

// FindOpenEntriesForUpdate returns entry fills that can still absorb exit
// quantity for the given strategy, symbol and position side, oldest first.
// On PostgreSQL the rows are locked with FOR UPDATE SKIP LOCKED so that
// concurrent matchers never allocate against the same entry; call it through
// WithDB(tx) inside the matching transaction.
func (r *FillRepository) FindOpenEntriesForUpdate(
	ctx context.Context,
	strategyID uint,
	symbol string,
	positionSide string,
) ([]model.Fill, error) {

	entrySide := model.EntrySideFor(positionSide)

	logger.WithFields(map[string]interface{}{
		"repo":        "FillRepository",
		"op":          "FindOpenEntriesForUpdate",
		"strategy_id": strategyID,
		"symbol":      symbol,
		"pos_side":    positionSide,
		"entry_side":  entrySide,
	}).Debug("Fetching open entry fills for matching")

	var fills []model.Fill

	query := r.db.WithContext(ctx).
		Where("strategy_id = ? AND symbol = ? AND position_side = ? AND side = ?",
			strategyID, symbol, positionSide, entrySide).
		Where("status IN ?", []string{model.FillStatusFilled, model.FillStatusPartiallyFilled}).
		Where("executed_quantity > 0").
		Order("filled_at ASC, id ASC")

	// SQLite (used by tests) has no row locks; skip the clause there.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	if err := query.Find(&fills).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "FillRepository",
			"op":          "FindOpenEntriesForUpdate",
			"strategy_id": strategyID,
			"symbol":      symbol,
		}).WithError(err).Error("Failed to fetch open entry fills")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "FillRepository",
		"op":          "FindOpenEntriesForUpdate",
		"strategy_id": strategyID,
		"symbol":      symbol,
		"rows_return": len(fills),
	}).Debug("Open entry fills fetched")

	return fills, nil
}

// ---------------------------------------------------
// Search
// ---------------------------------------------------

// FillSearchOptions narrows Search results. Zero values mean "no filter".
type FillSearchOptions struct {
	AccountID  uint
	StrategyID *uint
	Symbol     string
	Status     string
	Side       string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Search returns fills matching the given options, newest first.
func (r *FillRepository) Search(
	ctx context.Context,
	opts FillSearchOptions,
) ([]model.Fill, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "FillRepository",
		"op":         "Search",
		"account_id": opts.AccountID,
		"symbol":     opts.Symbol,
		"status":     opts.Status,
	}).Debug("Searching fills")

	query := r.db.WithContext(ctx).Model(&model.Fill{})

	if opts.AccountID != 0 {
		query = query.Where("account_id = ?", opts.AccountID)
	}
	if opts.StrategyID != nil {
		query = query.Where("strategy_id = ?", *opts.StrategyID)
	}
	if opts.Symbol != "" {
		query = query.Where("symbol = ?", opts.Symbol)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Side != "" {
		query = query.Where("side = ?", opts.Side)
	}
	if opts.From != nil {
		query = query.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		query = query.Where("created_at <= ?", *opts.To)
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var fills []model.Fill

	if err := query.Order("id DESC").Find(&fills).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FillRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search fills")

		return nil, err
	}

	return fills, nil
}
