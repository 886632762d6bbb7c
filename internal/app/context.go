package app

import (
	"log/slog"

	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/config"
	"gorm.io/gorm"
)

// AppContext holds shared dependencies (DB, Redis, Logger, Clock, Config).
// Engines receive it explicitly at construction, never via globals.
type AppContext struct {
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Clock      clock.Clock
	Config     *config.Config
}

// New creates a new AppContext.
func New(database *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger, clk clock.Clock, cfg *config.Config) *AppContext {
	return &AppContext{
		DB:         database,
		RedisCache: rdb,
		Logger:     logger,
		Clock:      clk,
		Config:     cfg,
	}
}
