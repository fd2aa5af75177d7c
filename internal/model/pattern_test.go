package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		outcome      Outcome
		satisfaction float64
		want         PatternType
	}{
		{"closed high satisfaction", OutcomeDealClosed, 0.9, PatternSuccess},
		{"closed at threshold", OutcomeDealClosed, 0.8, PatternSuccess},
		{"closed low satisfaction", OutcomeDealClosed, 0.5, PatternPartial},
		{"price agreed", OutcomePriceAgreed, 0.85, PatternSuccess},
		{"failed", OutcomeFailed, 0.9, PatternFailure},
		{"escalated", OutcomeEscalated, 0.9, PatternEscalation},
		{"expired", OutcomeExpired, 0, PatternEscalation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyPattern(tt.outcome, tt.satisfaction))
		})
	}
}

func TestBudgetRangeMidpoint(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 150.0, BudgetRange{Min: 100, Max: 200}.Midpoint(), 1e-9)
	assert.InDelta(t, 200.0, BudgetRange{Max: 200}.Midpoint(), 1e-9)
	assert.InDelta(t, 100.0, BudgetRange{Min: 100}.Midpoint(), 1e-9)
	assert.False(t, BudgetRange{}.Known())
}

func TestRiskLevelFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LevelLow, RiskLevelFor(0.1))
	assert.Equal(t, LevelMedium, RiskLevelFor(0.4))
	assert.Equal(t, LevelHigh, RiskLevelFor(0.7))
}

func TestWeightsClone(t *testing.T) {
	t.Parallel()

	w := OptimizationWeights{
		ToneWeights:        map[string]float64{"friendly": 1},
		TimingWeights:      map[string]float64{"immediate": 1},
		FlexibilityWeights: map[string]float64{"firm": 0.8},
	}
	cp := w.Clone()
	cp.ToneWeights["friendly"] = 2

	assert.InDelta(t, 1.0, w.ToneWeights["friendly"], 1e-9)
}

func TestLoadCompanySettings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "company.yaml")
	content := `
company:
  company_name: Acme Cosmetics
  budget_min: 50000
  budget_max: 150000
  preferred_tone: friendly
  urgency: high
  product_category: beauty
  orchestration_config:
    decision_confidence_threshold: 0.7
    negotiation_rounds_limit: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadCompanySettings(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme Cosmetics", s.CompanyName)
	assert.Equal(t, LevelHigh, s.Urgency)
	assert.Equal(t, GoalClosureRate, s.Goal)
	require.NotNil(t, s.OrchestrationConfig.DecisionConfidenceThreshold)
	assert.InDelta(t, 0.7, *s.OrchestrationConfig.DecisionConfidenceThreshold, 1e-9)
	assert.Equal(t, 8, *s.OrchestrationConfig.NegotiationRoundsLimit)
	assert.Nil(t, s.OrchestrationConfig.RiskScoreThreshold)
}

func TestLoadCompanySettings_TopLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "company.yaml")
	require.NoError(t, os.WriteFile(path, []byte("company_name: Flat\nbudget_max: 1000\n"), 0o644))

	s, err := LoadCompanySettings(path)
	require.NoError(t, err)
	assert.Equal(t, "Flat", s.CompanyName)
	assert.InDelta(t, 1000.0, s.BudgetMax, 1e-9)
}

func TestLoadCompanySettings_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "company.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget_min: 500\nbudget_max: 100\n"), 0o644))

	_, err := LoadCompanySettings(path)
	assert.Error(t, err)

	_, err = LoadCompanySettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
