package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "") // getEnv treats "" as unset and falls back to its default
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "PORT", "LOG_LEVEL", "UPSTREAM_HOST", "UPSTREAM_PORT", "CACHE_MAX_BARS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1", cfg.UpstreamHost)
	assert.Equal(t, 7497, cfg.UpstreamPort)
	assert.Equal(t, 2_000_000, cfg.CacheMaxBars)
	assert.Equal(t, 10*time.Second, cfg.CoordinatorRateWindow)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("UPSTREAM_HOST", "gateway.local")
	t.Setenv("UPSTREAM_PORT", "4002")
	t.Setenv("REQUEST_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "gateway.local", cfg.UpstreamHost)
	assert.Equal(t, 4002, cfg.UpstreamPort)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestValidateRejectsEmptyUpstreamHost(t *testing.T) {
	cfg := &Config{UpstreamHost: "", UpstreamPort: 4002}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveUpstreamPort(t *testing.T) {
	cfg := &Config{UpstreamHost: "localhost", UpstreamPort: 0}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBackupCredentialsWhenEnabled(t *testing.T) {
	cfg := &Config{UpstreamHost: "localhost", UpstreamPort: 4002, BackupEnabled: true}
	assert.Error(t, cfg.Validate())

	cfg.BackupBucket = "archive"
	assert.Error(t, cfg.Validate())

	cfg.BackupAccessKeyID = "id"
	cfg.BackupSecretAccessKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePassesWithMinimalRequiredFields(t *testing.T) {
	cfg := &Config{UpstreamHost: "localhost", UpstreamPort: 4002}
	assert.NoError(t, cfg.Validate())
}

func TestGetEnvAsIntFallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("QUANTLAB_TEST_INT", "not-a-number")
	assert.Equal(t, 42, getEnvAsInt("QUANTLAB_TEST_INT", 42))
}

func TestGetEnvAsBoolFallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("QUANTLAB_TEST_BOOL", "maybe")
	assert.Equal(t, true, getEnvAsBool("QUANTLAB_TEST_BOOL", true))
}

func TestGetEnvAsDurationFallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("QUANTLAB_TEST_DURATION", "not-a-duration")
	assert.Equal(t, time.Minute, getEnvAsDuration("QUANTLAB_TEST_DURATION", time.Minute))
}
