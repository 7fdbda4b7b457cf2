package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/externalmodel"
)

// TradingSignalRepository reads external trading signals from the read-only
// database. The engine never writes this table.
type TradingSignalRepository struct {
	db *gorm.DB
}

// NewTradingSignalRepository creates a new repository instance. It uses the
// ReadOnlyDB connection by default.
func NewTradingSignalRepository() *TradingSignalRepository {
	logger.WithField("component", "TradingSignalRepository").
		Info("Creating new TradingSignalRepository with ReadOnlyDB")

	return &TradingSignalRepository{
		db: database.ReadOnlyDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions (even if read-only).
func (r *TradingSignalRepository) WithDB(db *gorm.DB) *TradingSignalRepository {
	logger.WithField("component", "TradingSignalRepository").
		Debug("Creating new TradingSignalRepository with custom DB instance")

	return &TradingSignalRepository{db: db}
}

// FindByID fetches a single trading signal by its primary ID.
// Returns (nil, nil) if not found.
func (r *TradingSignalRepository) FindByID(
	ctx context.Context,
	id uint,
) (*externalmodel.TradingSignal, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "TradingSignalRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching trading signal by ID")

	var signal externalmodel.TradingSignal

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "TradingSignalRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Trading signal not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TradingSignalRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trading signal by ID")

		return nil, err
	}

	return &signal, nil
}

// FindLatest fetches the latest signals for a symbol on an exchange, newest
// first. The strategy runner asks for one row per cycle.
func (r *TradingSignalRepository) FindLatest(
	ctx context.Context,
	symbol string,
	exchange string,
	limit int,
) ([]externalmodel.TradingSignal, error) {

	if limit <= 0 {
		limit = 10
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradingSignalRepository",
		"op":       "FindLatest",
		"symbol":   symbol,
		"exchange": exchange,
		"limit":    limit,
	}).Debug("Fetching latest trading signals")

	var signals []externalmodel.TradingSignal

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND exchange = ?", symbol, exchange).
		Order("id DESC").
		Limit(limit).
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradingSignalRepository",
			"op":     "FindLatest",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch latest trading signals")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "TradingSignalRepository",
		"op":          "FindLatest",
		"symbol":      symbol,
		"rows_return": len(signals),
	}).Debug("Latest trading signals fetched")

	return signals, nil
}

// FindAfterID fetches signals with ID greater than lastID, oldest first.
// Ideal for incremental polling every N seconds.
func (r *TradingSignalRepository) FindAfterID(
	ctx context.Context,
	lastID uint,
	limit int,
) ([]externalmodel.TradingSignal, error) {

	if limit <= 0 {
		limit = 100
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradingSignalRepository",
		"op":     "FindAfterID",
		"lastID": lastID,
		"limit":  limit,
	}).Debug("Fetching trading signals after ID")

	var signals []externalmodel.TradingSignal

	err := r.db.WithContext(ctx).
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(limit).
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradingSignalRepository",
			"op":     "FindAfterID",
			"lastID": lastID,
		}).WithError(err).Error("Failed to fetch trading signals after ID")

		return nil, err
	}

	return signals, nil
}
