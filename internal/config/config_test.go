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

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.ExtractionModel)
	assert.Equal(t, "claude-opus-4-6", cfg.Anthropic.NarrativeModel)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentReports)
	assert.Equal(t, 2*time.Second, cfg.Poll.BaseDelay)
	assert.Equal(t, 15*time.Second, cfg.Poll.MaxDelay)
	assert.InDelta(t, 1.5, cfg.Poll.Multiplier, 0.001)
	assert.Equal(t, 8, cfg.Poll.MaxAttempts)
	assert.InDelta(t, 0.20, cfg.Valuation.AssetWeight, 0.001)
	assert.InDelta(t, 0.40, cfg.Valuation.IncomeWeight, 0.001)
	assert.InDelta(t, 0.40, cfg.Valuation.MarketWeight, 0.001)
	assert.InDelta(t, 0.15, cfg.Valuation.DLOM, 0.001)
	assert.InDelta(t, 0.10, cfg.Valuation.FallbackRangePct, 0.001)
	assert.InDelta(t, 0.005, cfg.Gates.ConsistencyTolerance, 0.0001)
	assert.InDelta(t, 6.0, cfg.Gates.DefaultMaxMultiple, 0.001)
	assert.InDelta(t, 1000, cfg.Gates.MinConcludedValue, 0.001)
	assert.InDelta(t, 70, cfg.Gates.QualityThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: reports.db
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  max_concurrent_reports: 12
poll:
  base_delay: 500ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "reports.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Pipeline.MaxConcurrentReports)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.BaseDelay)
	// Defaults still apply for unset values
	assert.Equal(t, 15*time.Second, cfg.Poll.MaxDelay)
	assert.InDelta(t, 0.40, cfg.Valuation.IncomeWeight, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VALUATION_STORE_DRIVER", "postgres")
	t.Setenv("VALUATION_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("VALUATION_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "reports.db"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Pipeline.MaxConcurrentReports = 4
	cfg.Server.Port = 8080
	cfg.Valuation.AssetWeight = 0.20
	cfg.Valuation.IncomeWeight = 0.40
	cfg.Valuation.MarketWeight = 0.40
	cfg.Valuation.DLOM = 0.15
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_MissingAnthropicKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidatePostgresRequiresURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.MaxConcurrentReports = 0
	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_reports must be between 1 and 50")

	cfg.Pipeline.MaxConcurrentReports = 51
	err = cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_reports must be between 1 and 50")

	cfg.Pipeline.MaxConcurrentReports = 50
	err = cfg.Validate("worker")
	assert.NoError(t, err)
}

func TestValidateWeights(t *testing.T) {
	cfg := validDefaults()

	cfg.Valuation.MarketWeight = 0.50
	err := cfg.Validate("pipeline")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")

	cfg.Valuation.MarketWeight = 0.40
	cfg.Valuation.DLOM = 0.9
	err = cfg.Validate("pipeline")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "valuation.dlom")

	cfg.Valuation.DLOM = 0.15
	assert.NoError(t, cfg.Validate("pipeline"))
}
