package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "* * * * *", cfg.GeneratorCron)
	assert.Equal(t, 5, cfg.GeneratorMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.GeneratorBackoff)
	assert.Equal(t, 5, cfg.QRDefaultMinutes)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("GENERATOR_CRON", "@midnight")
	t.Setenv("GENERATOR_BACKOFF", "250ms")
	t.Setenv("GENERATOR_LOCK", "true")
	t.Setenv("QR_DEFAULT_MINUTES", "10")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "@midnight", cfg.GeneratorCron)
	assert.Equal(t, 250*time.Millisecond, cfg.GeneratorBackoff)
	assert.True(t, cfg.GeneratorLock)
	assert.Equal(t, 10, cfg.QRDefaultMinutes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigins)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("ACCESS_TTL", "forever")
	t.Setenv("GENERATOR_LOCK", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.GeneratorLock)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresSigningKeyInProduction(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SIGNING_KEY", "a-real-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
