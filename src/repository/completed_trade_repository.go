package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// ErrDuplicateCloseEvent is returned by CreateWithOrders when a trade with
// the same close event ID already exists. Callers treat it as "already done"
// and fetch the existing row.
var ErrDuplicateCloseEvent = errors.New("completed trade with this close event id already exists")

// ErrAllocationMismatch is returned when the per-role quantity sums of a
// freshly inserted trade do not equal the trade quantity. The transaction is
// rolled back before it surfaces.
var ErrAllocationMismatch = errors.New("trade order quantities do not sum to trade quantity")

// Sums are compared under a small epsilon because SQLite aggregates
// numeric columns as floats.
var allocationTolerance = decimal.New(1, -8)

// CompletedTradeRepository handles persistence for CompletedTrade entities
// and their fill allocations.
type CompletedTradeRepository struct {
	db *gorm.DB
}

// NewCompletedTradeRepository creates a new repository instance using the main read/write database.
func NewCompletedTradeRepository() *CompletedTradeRepository {
	logger.WithField("component", "CompletedTradeRepository").
		Info("Creating new CompletedTradeRepository with MainDB")

	return &CompletedTradeRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *CompletedTradeRepository) WithDB(db *gorm.DB) *CompletedTradeRepository {
	logger.WithField("component", "CompletedTradeRepository").
		Debug("Creating CompletedTradeRepository with custom DB instance")

	return &CompletedTradeRepository{db: db}
}

// ---------------------------------------------------
// Basic CRUD methods
// ---------------------------------------------------

// FindByCloseEventID fetches a CompletedTrade by its deterministic close
// event ID, with its fill allocations preloaded. Returns (nil, nil) if not
// found.
func (r *CompletedTradeRepository) FindByCloseEventID(
	ctx context.Context,
	closeEventID string,
) (*model.CompletedTrade, error) {

	logger.WithFields(map[string]interface{}{
		"repo":           "CompletedTradeRepository",
		"op":             "FindByCloseEventID",
		"close_event_id": closeEventID,
	}).Debug("Fetching completed trade by close event ID")

	var trade model.CompletedTrade

	err := r.db.WithContext(ctx).
		Preload("Orders").
		Where("close_event_id = ?", closeEventID).
		First(&trade).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":           "CompletedTradeRepository",
			"op":             "FindByCloseEventID",
			"close_event_id": closeEventID,
		}).WithError(err).Error("Failed to fetch completed trade by close event ID")

		return nil, err
	}

	return &trade, nil
}

// CreateWithOrders inserts a CompletedTrade and its CompletedTradeOrder rows
// in one transaction, then verifies inside the same transaction that the
// ENTRY and EXIT allocations both sum to the trade quantity. Any mismatch
// rolls the whole insert back. A close-event-id collision is reported as
// ErrDuplicateCloseEvent.
func (r *CompletedTradeRepository) CreateWithOrders(
	ctx context.Context,
	trade *model.CompletedTrade,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":           "CompletedTradeRepository",
		"op":             "CreateWithOrders",
		"close_event_id": trade.CloseEventID,
		"symbol":         trade.Symbol,
		"qty":            trade.Quantity,
		"pnl":            trade.RealizedPnL,
	}).Info("Creating completed trade with fill allocations")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateCloseEvent
			}

			logger.WithError(err).Error("Failed to create completed trade inside transaction")
			return err
		}

		var sums []struct {
			Role  string
			Total decimal.Decimal
		}

		err := tx.Model(&model.CompletedTradeOrder{}).
			Select("role, COALESCE(SUM(quantity), 0) AS total").
			Where("completed_trade_id = ?", trade.ID).
			Group("role").
			Scan(&sums).Error
		if err != nil {
			logger.WithError(err).Error("Failed to verify trade allocations inside transaction")
			return err
		}

		byRole := map[string]decimal.Decimal{}
		for _, s := range sums {
			byRole[s.Role] = s.Total
		}

		for _, role := range []string{model.TradeRoleEntry, model.TradeRoleExit} {
			if byRole[role].Sub(trade.Quantity).Abs().GreaterThan(allocationTolerance) {
				logger.WithFields(map[string]interface{}{
					"repo":           "CompletedTradeRepository",
					"op":             "CreateWithOrders",
					"close_event_id": trade.CloseEventID,
					"role":           role,
					"allocated":      byRole[role],
					"expected":       trade.Quantity,
				}).Error("Trade allocation invariant violated, rolling back")

				return ErrAllocationMismatch
			}
		}

		return nil
	})

	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":           "CompletedTradeRepository",
		"op":             "CreateWithOrders",
		"trade_id":       trade.ID,
		"close_event_id": trade.CloseEventID,
	}).Info("Completed trade created successfully")

	return nil
}

// ---------------------------------------------------
// Allocation queries
// ---------------------------------------------------

// AllocatedQuantities returns, per fill ID, the total quantity already
// consumed from that fill in the given role across all completed trades.
// Fills with no allocations are simply absent from the map.
func (r *CompletedTradeRepository) AllocatedQuantities(
	ctx context.Context,
	fillIDs []uint,
	role string,
) (map[uint]decimal.Decimal, error) {

	if len(fillIDs) == 0 {
		return map[uint]decimal.Decimal{}, nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "CompletedTradeRepository",
		"op":    "AllocatedQuantities",
		"fills": len(fillIDs),
		"role":  role,
	}).Debug("Fetching allocated quantities for fills")

	var rows []struct {
		FillID uint
		Total  decimal.Decimal
	}

	err := r.db.WithContext(ctx).
		Model(&model.CompletedTradeOrder{}).
		Select("fill_id, COALESCE(SUM(quantity), 0) AS total").
		Where("fill_id IN ? AND role = ?", fillIDs, role).
		Group("fill_id").
		Scan(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CompletedTradeRepository",
			"op":   "AllocatedQuantities",
			"role": role,
		}).WithError(err).Error("Failed to fetch allocated quantities")

		return nil, err
	}

	allocated := make(map[uint]decimal.Decimal, len(rows))
	for _, row := range rows {
		allocated[row.FillID] = row.Total
	}

	return allocated, nil
}

// ---------------------------------------------------
// Risk queries
// ---------------------------------------------------

// RealizedPnLSince sums the realized PnL of completed trades that exited at
// or after the given time. A nil strategyID aggregates the whole account.
func (r *CompletedTradeRepository) RealizedPnLSince(
	ctx context.Context,
	accountID uint,
	strategyID *uint,
	since time.Time,
) (decimal.Decimal, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "CompletedTradeRepository",
		"op":         "RealizedPnLSince",
		"account_id": accountID,
		"since":      since,
	}).Debug("Summing realized PnL since reset boundary")

	query := r.db.WithContext(ctx).
		Model(&model.CompletedTrade{}).
		Where("account_id = ? AND exit_time >= ?", accountID, since)

	if strategyID != nil {
		query = query.Where("strategy_id = ?", *strategyID)
	}

	var row struct {
		Total decimal.Decimal
	}

	err := query.
		Select("COALESCE(SUM(realized_pnl), 0) AS total").
		Scan(&row).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CompletedTradeRepository",
			"op":         "RealizedPnLSince",
			"account_id": accountID,
		}).WithError(err).Error("Failed to sum realized PnL")

		return decimal.Zero, err
	}

	return row.Total, nil
}

// LastTrades returns the most recent completed trades for the scope, newest
// first. Used for consecutive-loss counting.
func (r *CompletedTradeRepository) LastTrades(
	ctx context.Context,
	accountID uint,
	strategyID *uint,
	limit int,
) ([]model.CompletedTrade, error) {

	if limit <= 0 {
		limit = 20
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "CompletedTradeRepository",
		"op":         "LastTrades",
		"account_id": accountID,
		"limit":      limit,
	}).Debug("Fetching most recent completed trades")

	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID)

	if strategyID != nil {
		query = query.Where("strategy_id = ?", *strategyID)
	}

	var trades []model.CompletedTrade

	err := query.
		Order("exit_time DESC, id DESC").
		Limit(limit).
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CompletedTradeRepository",
			"op":         "LastTrades",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch recent completed trades")

		return nil, err
	}

	return trades, nil
}

// PnLPoint is one step of the account's realized balance trajectory.
type PnLPoint struct {
	ExitTime time.Time
	// Realized is the trade's realized PnL plus its signed funding fee,
	// i.e. the full balance impact of closing that slice.
	Realized decimal.Decimal
}

// RealizedSeries returns the account's realized balance impacts ordered by
// exit time ascending. The risk manager folds them over the starting balance
// to recompute the running peak for drawdown checks.
func (r *CompletedTradeRepository) RealizedSeries(
	ctx context.Context,
	accountID uint,
) ([]PnLPoint, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "CompletedTradeRepository",
		"op":         "RealizedSeries",
		"account_id": accountID,
	}).Debug("Fetching realized PnL series")

	var rows []struct {
		ExitTime time.Time
		Realized decimal.Decimal
	}

	err := r.db.WithContext(ctx).
		Model(&model.CompletedTrade{}).
		Select("exit_time, realized_pnl + funding_fee AS realized").
		Where("account_id = ?", accountID).
		Order("exit_time ASC, id ASC").
		Scan(&rows).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "CompletedTradeRepository",
			"op":         "RealizedSeries",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch realized PnL series")

		return nil, err
	}

	points := make([]PnLPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, PnLPoint{ExitTime: row.ExitTime, Realized: row.Realized})
	}

	return points, nil
}

// TradesForFill returns every completed trade that consumed the given fill
// in the given role, oldest first. The matcher uses it to hand back the
// existing result when an already-fully-matched exit is redelivered.
func (r *CompletedTradeRepository) TradesForFill(
	ctx context.Context,
	fillID uint,
	role string,
) ([]model.CompletedTrade, error) {

	logger.WithFields(map[string]interface{}{
		"repo":    "CompletedTradeRepository",
		"op":      "TradesForFill",
		"fill_id": fillID,
		"role":    role,
	}).Debug("Fetching completed trades for fill")

	var trades []model.CompletedTrade

	err := r.db.WithContext(ctx).
		Joins("JOIN completed_trade_orders ON completed_trade_orders.completed_trade_id = completed_trades.id").
		Where("completed_trade_orders.fill_id = ? AND completed_trade_orders.role = ?", fillID, role).
		Order("completed_trades.id ASC").
		Preload("Orders").
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "CompletedTradeRepository",
			"op":      "TradesForFill",
			"fill_id": fillID,
		}).WithError(err).Error("Failed to fetch completed trades for fill")

		return nil, err
	}

	return trades, nil
}

// ---------------------------------------------------
// Search
// ---------------------------------------------------

// TradeSearchOptions narrows Search results. Zero values mean "no filter".
type TradeSearchOptions struct {
	AccountID  uint
	StrategyID *uint
	Symbol     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Search returns completed trades matching the given options, newest first.
func (r *CompletedTradeRepository) Search(
	ctx context.Context,
	opts TradeSearchOptions,
) ([]model.CompletedTrade, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "CompletedTradeRepository",
		"op":         "Search",
		"account_id": opts.AccountID,
		"symbol":     opts.Symbol,
	}).Debug("Searching completed trades")

	query := r.db.WithContext(ctx).Model(&model.CompletedTrade{})

	if opts.AccountID != 0 {
		query = query.Where("account_id = ?", opts.AccountID)
	}
	if opts.StrategyID != nil {
		query = query.Where("strategy_id = ?", *opts.StrategyID)
	}
	if opts.Symbol != "" {
		query = query.Where("symbol = ?", opts.Symbol)
	}
	if opts.From != nil {
		query = query.Where("exit_time >= ?", *opts.From)
	}
	if opts.To != nil {
		query = query.Where("exit_time <= ?", *opts.To)
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var trades []model.CompletedTrade

	if err := query.Order("exit_time DESC, id DESC").Find(&trades).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CompletedTradeRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search completed trades")

		return nil, err
	}

	return trades, nil
}
