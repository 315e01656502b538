package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	for _, k := range []string{"LIBRARY_DB_DRIVER", "LIBRARY_DB_DSN", "LIBRARY_HTTP_ADDR",
		"LIBRARY_LOG_LEVEL", "LIBRARY_LOG_FORMAT", "LIBRARY_RETRY_ATTEMPTS", "LIBRARY_RETRY_BASE_DELAY_MS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "library.db", cfg.DBDsn)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 6, cfg.Retry().MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry().BaseDelay)
}

func TestLoadFromEnvAndDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LIBRARY_DB_DSN=from-file.db\nLIBRARY_HTTP_ADDR=:9000\n"), 0o644))
	t.Setenv("LIBRARY_HTTP_ADDR", ":7000")
	t.Setenv("LIBRARY_RETRY_ATTEMPTS", "3")
	t.Setenv("LIBRARY_RETRY_BASE_DELAY_MS", "not-a-number")
	t.Setenv("LIBRARY_LOG_FORMAT", "JSON")
	os.Unsetenv("LIBRARY_DB_DSN")
	t.Cleanup(func() { os.Unsetenv("LIBRARY_DB_DSN") }) // set by godotenv

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.DBDsn)
	assert.Equal(t, ":7000", cfg.HTTPAddr, "process env wins over .env")
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 10, cfg.RetryBaseDelayMs)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejectsBadValues(t *testing.T) {
	inTempDir(t)
	t.Setenv("LIBRARY_DB_DRIVER", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Config{LogLevel: "warn", LogFormat: "json"}.NewLogger(&buf)

	log.Info("hidden")
	log.Warn("shown", "copy_id", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
