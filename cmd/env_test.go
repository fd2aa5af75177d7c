package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/negotiator/internal/config"
	"github.com/sells-group/negotiator/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
		Analyzer:   config.AnalyzerConfig{Provider: "heuristic"},
		Sender:     config.SenderConfig{Mode: "dryrun"},
		Server:     config.ServerConfig{Port: 8080},
		Automation: config.AutomationConfig{
			Mode:                        "semi_auto",
			PollIntervalSecs:            3600,
			MaxConcurrentNegotiations:   5,
			DecisionConfidenceThreshold: 0.8,
		},
	}
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "company.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = testConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "negotiator.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	st, err := initStore(context.Background())
	assert.Error(t, err)
	assert.Nil(t, st)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitAnalyzer_UnknownProvider(t *testing.T) {
	cfg = testConfig(t)
	cfg.Analyzer.Provider = "oracle"

	_, err := initAnalyzer()
	assert.Error(t, err)
}

func TestLoadSettings(t *testing.T) {
	cfg = testConfig(t)

	s, err := loadSettings("")
	require.NoError(t, err)
	assert.Nil(t, s, "no path configured means no settings")

	path := writeSettings(t, "company:\n  company_name: Acme\n  budget_min: 500\n  budget_max: 1500\n")
	cfg.Automation.CompanySettingsPath = path
	s, err = loadSettings("")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "Acme", s.CompanyName)
	assert.Equal(t, model.GoalClosureRate, s.Goal)

	bad := writeSettings(t, "budget_min: 900\nbudget_max: 100\n")
	_, err = loadSettings(bad)
	assert.Error(t, err)
}

func TestAutomationModeAndUser(t *testing.T) {
	cfg = testConfig(t)

	m, err := automationMode("")
	require.NoError(t, err)
	assert.Equal(t, model.ModeSemiAuto, m)

	m, err = automationMode("full_auto")
	require.NoError(t, err)
	assert.Equal(t, model.ModeFullAuto, m)

	_, err = automationMode("yolo")
	assert.Error(t, err)

	_, err = automationUser("")
	assert.Error(t, err)

	cfg.Automation.UserID = "u1"
	u, err := automationUser("")
	require.NoError(t, err)
	assert.Equal(t, "u1", u)

	u, err = automationUser("u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", u)
}

func TestInitEnv_WiresComponents(t *testing.T) {
	cfg = testConfig(t)
	path := writeSettings(t, "company_name: Acme\nbudget_min: 1000\nbudget_max: 2000\ninfluencer_category: beauty\n")

	env, err := initEnv(context.Background(), "run", path)
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Store)
	require.NotNil(t, env.Threads)
	require.NotNil(t, env.Patterns)
	require.NotNil(t, env.Optimizer)
	require.NotNil(t, env.Orchestrator)
	require.NotNil(t, env.Settings)
	assert.Equal(t, "beauty", env.Settings.InfluencerCategory)
	assert.False(t, env.Orchestrator.Status().Running)

	state, err := env.Threads.GetState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", state.ThreadID)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Sender.Mode = "carrier-pigeon"

	_, err := initEnv(context.Background(), "run", "")
	assert.Error(t, err)
}

func TestAutoStart_NeedsSettings(t *testing.T) {
	cfg = testConfig(t)
	cfg.Automation.UserID = "u1"

	env, err := initEnv(context.Background(), "serve", "")
	require.NoError(t, err)
	defer env.Close()

	assert.Error(t, autoStart(context.Background(), env))

	env.Settings = &model.CompanySettings{CompanyName: "Acme", BudgetMin: 100, BudgetMax: 200, Goal: model.GoalClosureRate}
	require.NoError(t, autoStart(context.Background(), env))
	assert.True(t, env.Orchestrator.Status().Running)

	_, err = env.Orchestrator.Stop(context.Background())
	require.NoError(t, err)
}
