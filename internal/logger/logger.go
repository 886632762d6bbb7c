package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kindled-app/kindled/internal/config"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type Options struct {
	Level      string
	Format     Format
	Component  string
	WithSource bool
}

var (
	mu     sync.RWMutex
	logger *slog.Logger
	opts   = Options{Level: "info", Format: FormatText}
)

// InitFromConfig initializes the global logger from app config.
func InitFromConfig(c *config.Config) {
	if c == nil {
		Init(nil)
		return
	}
	Init(&Options{
		Level:      c.Log.Level,
		Format:     Format(c.Log.Format),
		Component:  c.Log.Component,
		WithSource: c.Log.Source,
	})
}

// Init sets up the global logger. Safe to call multiple times.
func Init(o *Options) {
	mu.Lock()
	defer mu.Unlock()

	if o != nil {
		opts = *o
	}

	hopts := &slog.HandlerOptions{
		Level:     parseLevel(opts.Level),
		AddSource: opts.WithSource,
	}

	var handler slog.Handler
	if strings.EqualFold(string(opts.Format), string(FormatJSON)) {
		handler = slog.NewJSONHandler(os.Stdout, hopts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, hopts)
	}

	base := slog.New(handler)
	if opts.Component != "" {
		base = base.With("component", opts.Component)
	}
	logger = base
}

// L returns the global logger. Always returns a non-nil instance.
func L() *slog.Logger {
	mu.RLock()
	if logger != nil {
		defer mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	Init(nil)

	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With creates a child logger with additional attributes.
func With(args ...any) *slog.Logger { return L().With(args...) }

func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
