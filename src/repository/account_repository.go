package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// AccountRepository handles persistence for Account entities.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new repository instance using the main read/write database.
func NewAccountRepository() *AccountRepository {
	logger.WithField("component", "AccountRepository").
		Info("Creating new AccountRepository with MainDB")

	return &AccountRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	logger.WithField("component", "AccountRepository").
		Debug("Creating AccountRepository with custom DB instance")

	return &AccountRepository{db: db}
}

// ---------------------------------------------------
// Basic CRUD methods
// ---------------------------------------------------

// FindByID fetches a single Account by its primary ID.
// Returns (nil, nil) if not found.
func (r *AccountRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Account, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "AccountRepository",
		"op":   "FindByID",
		"id":   id,
	}).Debug("Fetching account by ID")

	var account model.Account

	err := r.db.WithContext(ctx).
		First(&account, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "AccountRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Account not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch account by ID")

		return nil, err
	}

	return &account, nil
}

// List returns every account, oldest first.
func (r *AccountRepository) List(
	ctx context.Context,
) ([]model.Account, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "AccountRepository",
		"op":   "List",
	}).Debug("Fetching all accounts")

	var accounts []model.Account

	err := r.db.WithContext(ctx).
		Order("id ASC").
		Find(&accounts).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to fetch accounts")

		return nil, err
	}

	return accounts, nil
}

// UpdateCredentials replaces the stored encrypted API credentials.
func (r *AccountRepository) UpdateCredentials(
	ctx context.Context,
	id uint,
	apiKeyEnc string,
	apiSecretEnc string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo": "AccountRepository",
		"op":   "UpdateCredentials",
		"id":   id,
	}).Info("Updating account credentials")

	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"api_key":    apiKeyEnc,
			"api_secret": apiSecretEnc,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "UpdateCredentials",
			"id":   id,
		}).WithError(err).Error("Failed to update account credentials")

		return err
	}

	return nil
}
