package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	unsetEnv(t, "HOST", "PORT", "DB_PATH", "APP_TIMEZONE", "SETTLEMENT_ENABLED", "SETTLEMENT_SCHEDULE",
		"MIDDAY_HOUR", "LOOKAHEAD_MONTHS", "SETTLEMENT_MAX_ATTEMPTS", "SERVER_SHUTDOWN_TIMEOUT")

	cfg := FromEnv()

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "budget.db", cfg.Database.Path)
	assert.True(t, cfg.Settlement.Enabled)
	assert.Equal(t, "@every 1h", cfg.Settlement.Schedule)
	assert.Equal(t, 12, cfg.Settlement.MiddayHour)
	assert.Equal(t, 36, cfg.Settlement.LookaheadMonths)
	assert.Equal(t, 3, cfg.Settlement.MaxAttempts)
	assert.Equal(t, time.Local, cfg.Settlement.Location())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/data/budget.db")
	t.Setenv("APP_TIMEZONE", "Europe/Warsaw")
	t.Setenv("SETTLEMENT_ENABLED", "false")
	t.Setenv("SETTLEMENT_SCHEDULE", "5 * * * *")
	t.Setenv("MIDDAY_HOUR", "30")
	t.Setenv("LOOKAHEAD_MONTHS", "0")
	t.Setenv("CORS_ALLOW_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := FromEnv()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/data/budget.db", cfg.Database.Path)
	assert.Equal(t, "Europe/Warsaw", cfg.Settlement.Location().String())
	assert.False(t, cfg.Settlement.Enabled)
	assert.Equal(t, "5 * * * *", cfg.Settlement.Schedule)
	assert.Equal(t, 23, cfg.Settlement.MiddayHour)
	assert.Equal(t, 1, cfg.Settlement.LookaheadMonths)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("SETTLEMENT_ENABLED", "maybe")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	cfg := FromEnv()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Settlement.Enabled)
	assert.Equal(t, time.Local, cfg.Settlement.Location())
}
