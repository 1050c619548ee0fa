package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	// Change to temp dir so no config.yaml is found
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.Sheet.TimeoutSecs)
	assert.Equal(t, 3, cfg.Sheet.MaxRetries)
	assert.InDelta(t, 10, cfg.Geocode.RateLimitRPS, 0.001)
	assert.InDelta(t, 0.1, cfg.Geocode.PlausibilityThresholdDeg, 0.001)
	assert.Equal(t, 10, cfg.Geocode.BatchConcurrency)
	assert.Equal(t, 7, cfg.Cache.OrdinaryFreshDays)
	assert.Equal(t, 30, cfg.Cache.OrdinaryEvictDays)
	assert.Equal(t, 30, cfg.Cache.SpecialFreshDays)
	assert.Equal(t, 90, cfg.Cache.SpecialEvictDays)
	assert.Equal(t, 3, cfg.Cache.RetryBudgetOrdinary)
	assert.Equal(t, 2, cfg.Cache.RetryBudgetSpecial)
	assert.Equal(t, "sqlite", cfg.Cache.StoreDriver)
	assert.Equal(t, "geocode-cache.db", cfg.Cache.SQLitePath)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
sheet:
  url: https://example.com/export.csv
geocode:
  access_token: pk.test
cache:
  store_driver: postgres
  database_url: postgres://localhost/subletmap
  ordinary_fresh_days: 14
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://example.com/export.csv", cfg.Sheet.URL)
	assert.Equal(t, "pk.test", cfg.Geocode.AccessToken)
	assert.Equal(t, "postgres", cfg.Cache.StoreDriver)
	assert.Equal(t, 14, cfg.Cache.OrdinaryFreshDays)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Cache.OrdinaryEvictDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("SUBLETMAP_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestToGeocodeConfig(t *testing.T) {
	c := CacheConfig{
		OrdinaryFreshDays:   14,
		SpecialEvictDays:    120,
		RetryBudgetOrdinary: 5,
	}
	cfg := c.ToGeocodeConfig()

	assert.Equal(t, 14*24*time.Hour, cfg.OrdinaryFresh)
	assert.Equal(t, 120*24*time.Hour, cfg.SpecialEvict)
	assert.Equal(t, 5, cfg.RetryBudgetOrdinary)
	// Unset values keep the production defaults.
	assert.Equal(t, 30*24*time.Hour, cfg.OrdinaryEvict)
	assert.Equal(t, 2, cfg.RetryBudgetSpecial)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLogger_BadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
