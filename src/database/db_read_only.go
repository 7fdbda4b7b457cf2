package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradeengine/src/externalmodel"
)

// ReadOnlyDB is the connection used to poll external trading signals. The
// database user on it should have SELECT-only permissions.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB initializes the read-only connection. It runs no migrations;
// the signals table belongs to the webhook ingester.
func InitReadOnlyDB() error {
	config := GetConfig()

	url := config.DatabaseURLReadOnly
	if url == "" {
		url = config.DatabaseURLMain
	}

	db, err := gorm.Open(postgres.Open(url),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	// Fail fast when the signals table is missing or not readable.
	var count int64
	if err := db.Model(&externalmodel.TradingSignal{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access trading_signals: %w", err)
	}

	ReadOnlyDB = db

	logrus.WithField("signals", count).Info("[database] ReadOnlyDB connection established")

	return nil
}
