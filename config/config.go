package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"library-circulation/library"
)

type Config struct {
	DBDriver         string `validate:"oneof=sqlite3 pgx postgres"`
	DBDsn            string `validate:"required"`
	HTTPAddr         string `validate:"required"`
	LogLevel         string `validate:"oneof=debug info warn error"`
	LogFormat        string `validate:"oneof=text json"`
	RetryAttempts    int    `validate:"gte=1,lte=50"`
	RetryBaseDelayMs int    `validate:"gte=0"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiEnv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid int env, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		DBDriver:         getenv("LIBRARY_DB_DRIVER", library.DriverSQLite),
		DBDsn:            getenv("LIBRARY_DB_DSN", "library.db"),
		HTTPAddr:         getenv("LIBRARY_HTTP_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getenv("LIBRARY_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getenv("LIBRARY_LOG_FORMAT", "text")),
		RetryAttempts:    atoiEnv("LIBRARY_RETRY_ATTEMPTS", 6),
		RetryBaseDelayMs: atoiEnv("LIBRARY_RETRY_BASE_DELAY_MS", 10),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values against their allowed ranges.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Retry converts the retry settings for the circulation manager.
func (c Config) Retry() library.RetryConfig {
	rc := library.DefaultRetryConfig()
	rc.MaxAttempts = c.RetryAttempts
	rc.BaseDelay = time.Duration(c.RetryBaseDelayMs) * time.Millisecond
	return rc
}

// NewLogger builds the structured logger described by LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
