// Package config reads server settings from the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Addr string
	// DataDir is where badger keeps its files. Empty runs the store in memory.
	DataDir        string
	AllowedOrigins []string
	LogLevel       zapcore.Level
	Env            string
	// WriteTimeout bounds each store write a move triggers.
	WriteTimeout time.Duration
}

func (c Config) Production() bool {
	return c.Env == "production"
}

// Logger builds the zap logger the config asks for.
func (c Config) Logger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if c.Production() {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return cfg.Build()
}

// Load reads the CHESS_* environment variables, falling back to defaults.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(lookup func(string) string) (Config, error) {
	getenv := func(key, def string) string {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Addr:    getenv("CHESS_ADDR", ":3000"),
		DataDir: getenv("CHESS_DATA_DIR", ""),
		Env:     getenv("CHESS_ENV", "development"),
	}
	for _, o := range strings.Split(getenv("CHESS_ALLOWED_ORIGINS", "http://localhost:5173"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	level, err := zapcore.ParseLevel(getenv("CHESS_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, errors.Wrap(err, "CHESS_LOG_LEVEL")
	}
	cfg.LogLevel = level

	switch cfg.Env {
	case "development", "production":
	default:
		return Config{}, errors.Errorf("CHESS_ENV: unknown environment %q", cfg.Env)
	}

	timeout, err := time.ParseDuration(getenv("CHESS_WRITE_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, errors.Wrap(err, "CHESS_WRITE_TIMEOUT")
	}
	if timeout <= 0 {
		return Config{}, errors.Errorf("CHESS_WRITE_TIMEOUT: must be positive, got %s", timeout)
	}
	cfg.WriteTimeout = timeout
	return cfg, nil
}
