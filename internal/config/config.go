package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	HTTP struct {
		Host string
		Port string
	}

	Discovery struct {
		MaxDistanceKm float64
		FeedSize      int
		CacheEntries  int
		CacheTTL      time.Duration
		SnapshotTTL   time.Duration
	}

	Quota struct {
		SwipesPerWindow   int
		MessagesPerWindow int
		Window            time.Duration
		RemoteTimeout     time.Duration
	}

	Chat struct {
		PageSize int
	}

	Outbox struct {
		BackoffBase time.Duration
		BackoffMax  time.Duration
		MaxAttempts int
		PollEvery   time.Duration
	}
}

func New() *Config {
	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "kindled_core")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "kindled")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// HTTP gateway
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "127.0.0.1")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")

	// Discovery / ranking
	cfg.Discovery.MaxDistanceKm = getEnvFloat("MAX_DISTANCE_KM", 50)
	cfg.Discovery.FeedSize = getEnvInt("FEED_SIZE", 25)
	cfg.Discovery.CacheEntries = getEnvInt("RANKING_CACHE_ENTRIES", 50)
	cfg.Discovery.CacheTTL = getEnvDuration("RANKING_CACHE_TTL", time.Minute)
	cfg.Discovery.SnapshotTTL = getEnvDuration("RANKING_SNAPSHOT_TTL", 5*time.Minute)

	// Quotas
	cfg.Quota.SwipesPerWindow = getEnvInt("SWIPE_QUOTA", 100)
	cfg.Quota.MessagesPerWindow = getEnvInt("MESSAGE_QUOTA", 300)
	cfg.Quota.Window = getEnvDuration("QUOTA_WINDOW", 24*time.Hour)
	cfg.Quota.RemoteTimeout = getEnvDuration("QUOTA_REMOTE_TIMEOUT", 2500*time.Millisecond)

	// Chat
	cfg.Chat.PageSize = getEnvInt("CHAT_PAGE_SIZE", 30)

	// Outbox
	cfg.Outbox.BackoffBase = getEnvDuration("OUTBOX_BACKOFF_BASE", 2*time.Second)
	cfg.Outbox.BackoffMax = getEnvDuration("OUTBOX_BACKOFF_MAX", time.Minute)
	cfg.Outbox.MaxAttempts = getEnvInt("OUTBOX_MAX_ATTEMPTS", 5)
	cfg.Outbox.PollEvery = getEnvDuration("OUTBOX_POLL_EVERY", time.Second)

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
