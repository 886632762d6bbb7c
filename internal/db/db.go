package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kindled-app/kindled/internal/config"
)

// NewDB initializes the database connection using DSN from config.
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	database, err := gorm.Open(mysql.Open(cfg.DB.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// Unique violations must surface as gorm.ErrDuplicatedKey; the
		// message seq allocator retries on them.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := Migrate(database); err != nil {
		return nil, err
	}

	return database, nil
}

// Migrate ensures the schema is in sync with the models. Split out so tests
// can run it against an in-memory SQLite database.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&Profile{}, &Decision{}, &Match{}, &Message{}, &OutboxEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
