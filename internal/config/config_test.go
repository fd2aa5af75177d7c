package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "negotiator.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "heuristic", cfg.Analyzer.Provider)
	assert.Equal(t, "dryrun", cfg.Sender.Mode)
	assert.Equal(t, "semi_auto", cfg.Automation.Mode)
	assert.Equal(t, 30, cfg.Automation.PollIntervalSecs)
	assert.Equal(t, 5, cfg.Automation.MaxConcurrentNegotiations)
	assert.InDelta(t, 0.8, cfg.Automation.DecisionConfidenceThreshold, 0.001)
	require.NotNil(t, cfg.Automation.EmergencyStopEnabled)
	assert.True(t, *cfg.Automation.EmergencyStopEnabled)
	assert.InDelta(t, 30.0, cfg.Automation.BudgetDeviationPercentage, 0.001)
	assert.Equal(t, 5, cfg.Automation.NegotiationRoundsLimit)
	assert.InDelta(t, 0.8, cfg.Automation.RiskScoreThreshold, 0.001)
	assert.Equal(t, 48, cfg.Automation.ActiveTimeoutHours)
	assert.Equal(t, 24, cfg.Automation.OptimizationIntervalHours)
	assert.Equal(t, 5, cfg.Automation.PerformanceIntervalMins)
	assert.InDelta(t, 0.3, cfg.Automation.LowSuccessRate, 0.001)
	assert.Equal(t, 10, cfg.Automation.MinOutcomesForThrottle)
	assert.InDelta(t, 0.9, cfg.Automation.ThrottledConfidence, 0.001)
	assert.InDelta(t, 0.2, cfg.Optimizer.ExplorationRate, 0.001)
	assert.InDelta(t, 0.1, cfg.Optimizer.LearningRate, 0.001)
	assert.Equal(t, 48, cfg.Threads.ResponseTimeoutHours)
	assert.Equal(t, 7, cfg.Threads.MaxDurationDays)
	assert.InDelta(t, 0.7, cfg.Patterns.MinSimilarity, 0.001)
	assert.Equal(t, 5, cfg.Patterns.MaxResults)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/negotiator
log:
  level: debug
  format: console
automation:
  mode: full_auto
  max_concurrent_negotiations: 10
analyzer:
  provider: anthropic
  competitor_terms: [rivalco, othercorp]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "full_auto", cfg.Automation.Mode)
	assert.Equal(t, 10, cfg.Automation.MaxConcurrentNegotiations)
	assert.Equal(t, "anthropic", cfg.Analyzer.Provider)
	assert.Equal(t, []string{"rivalco", "othercorp"}, cfg.Analyzer.CompetitorTerms)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.8, cfg.Automation.DecisionConfidenceThreshold, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("NEGOTIATOR_STORE_DRIVER", "sqlite")
	t.Setenv("NEGOTIATOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("NEGOTIATOR_SERVER_PORT", "3000")
	t.Setenv("NEGOTIATOR_AUTOMATION_DECISION_CONFIDENCE_THRESHOLD", "0.95")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 0.95, cfg.Automation.DecisionConfidenceThreshold, 0.001)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
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

// validDefaults returns a Config with the runtime defaults populated.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 8080
	cfg.Analyzer.Provider = "heuristic"
	cfg.Sender.Mode = "dryrun"
	cfg.Automation.MaxConcurrentNegotiations = 5
	cfg.Automation.DecisionConfidenceThreshold = 0.8
	cfg.Optimizer.ExplorationRate = 0.2
	return cfg
}

func TestValidateServe_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")

	// Port is irrelevant for the foreground runner.
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Analyzer.Provider = "anthropic"
	cfg.Sender.Mode = "webhook"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "sender.webhook_url is required")
}

func TestValidateRun_UnknownProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Analyzer.Provider = "gemini"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer.provider")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/negotiator"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mongo"

	assert.Error(t, cfg.Validate("threads"))
}
