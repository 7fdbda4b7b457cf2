package repository

import (
	"context"
	"encoding/json"
	"runtime/debug"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// Capture records a system exception with the current stack. A persistence
// failure is logged and swallowed; capturing must never mask the original
// error.
func (r *ExceptionRepository) Capture(
	ctx context.Context,
	module string,
	method string,
	level string,
	cause error,
	contextData map[string]interface{},
) {

	if cause == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, err := json.Marshal(contextData); err == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service: "trade_engine",
		Module:  module,
		Method:  method,
		Message: cause.Error(),
		Stack:   string(debug.Stack()),
		Level:   level,
		Context: ctxJSON,
	}

	if err := r.Create(ctx, exc); err != nil {
		logger.WithFields(map[string]interface{}{
			"module": module,
			"method": method,
		}).WithError(err).Warn("Failed to persist system exception")
	}
}

// FindRecent returns the newest captured exceptions, most recent first.
func (r *ExceptionRepository) FindRecent(
	ctx context.Context,
	limit int,
) ([]model.Exception, error) {

	if limit <= 0 {
		limit = 50
	}

	var excs []model.Exception

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&excs).Error

	if err != nil {
		logger.WithError(err).Error("Failed to fetch recent exceptions")
		return nil, err
	}

	return excs, nil
}
