package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// AutomationMode selects how much the orchestrator does on its own.
type AutomationMode string

const (
	ModeManual   AutomationMode = "manual"
	ModeSemiAuto AutomationMode = "semi_auto"
	ModeFullAuto AutomationMode = "full_auto"
	ModeLearning AutomationMode = "learning"
)

// Valid reports whether m is a known mode.
func (m AutomationMode) Valid() bool {
	switch m {
	case ModeManual, ModeSemiAuto, ModeFullAuto, ModeLearning:
		return true
	}
	return false
}

// OrchestrationConfig carries per-company overrides of orchestrator
// defaults. Nil fields keep the configured default.
type OrchestrationConfig struct {
	DecisionConfidenceThreshold *float64 `yaml:"decision_confidence_threshold,omitempty" json:"decision_confidence_threshold,omitempty"`
	EmergencyStopEnabled        *bool    `yaml:"emergency_stop_enabled,omitempty" json:"emergency_stop_enabled,omitempty"`
	MaxConcurrentNegotiations   *int     `yaml:"max_concurrent_negotiations,omitempty" json:"max_concurrent_negotiations,omitempty"`
	BudgetDeviationPercentage   *float64 `yaml:"budget_deviation_percentage,omitempty" json:"budget_deviation_percentage,omitempty"`
	NegotiationRoundsLimit      *int     `yaml:"negotiation_rounds_limit,omitempty" json:"negotiation_rounds_limit,omitempty"`
	RiskScoreThreshold          *float64 `yaml:"risk_score_threshold,omitempty" json:"risk_score_threshold,omitempty"`
	ExplorationRate             *float64 `yaml:"exploration_rate,omitempty" json:"exploration_rate,omitempty"`
	ResponseTimeoutHours        *int     `yaml:"response_timeout_hours,omitempty" json:"response_timeout_hours,omitempty"`
}

// CompanySettings describes the company side of every negotiation a user runs.
type CompanySettings struct {
	CompanyName         string              `yaml:"company_name" json:"company_name"`
	BudgetMin           float64             `yaml:"budget_min" json:"budget_min"`
	BudgetMax           float64             `yaml:"budget_max" json:"budget_max"`
	TargetAmount        float64             `yaml:"target_amount" json:"target_amount"`
	PreferredTone       string              `yaml:"preferred_tone" json:"preferred_tone"`
	Urgency             Level               `yaml:"urgency" json:"urgency"`
	ProductCategory     string              `yaml:"product_category" json:"product_category"`
	InfluencerCategory  string              `yaml:"influencer_category" json:"influencer_category"`
	CustomInstructions  string              `yaml:"custom_instructions" json:"custom_instructions"`
	Goal                Goal                `yaml:"goal" json:"goal"`
	SenderName          string              `yaml:"sender_name" json:"sender_name"`
	OrchestrationConfig OrchestrationConfig `yaml:"orchestration_config" json:"orchestration_config"`
}

// Budget returns the company budget as a range.
func (s *CompanySettings) Budget() BudgetRange {
	return BudgetRange{Min: s.BudgetMin, Max: s.BudgetMax}
}

// Validate checks the settings for values the orchestrator cannot work with.
func (s *CompanySettings) Validate() error {
	if s.BudgetMin < 0 || s.BudgetMax < 0 {
		return eris.New("settings: budget must not be negative")
	}
	if s.BudgetMax > 0 && s.BudgetMin > s.BudgetMax {
		return eris.Errorf("settings: budget_min %.0f exceeds budget_max %.0f", s.BudgetMin, s.BudgetMax)
	}
	if s.Goal != "" && !s.Goal.Valid() {
		return eris.Errorf("settings: unknown goal %q", s.Goal)
	}
	return nil
}

// LoadCompanySettings reads company settings from a YAML file. The file may
// either hold the settings at the top level or under a "company" key.
func LoadCompanySettings(path string) (*CompanySettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "settings: read %s", path)
	}

	var wrapper struct {
		Company *CompanySettings `yaml:"company"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "settings: parse")
	}

	s := wrapper.Company
	if s == nil {
		s = &CompanySettings{}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, eris.Wrap(err, "settings: parse")
		}
	}
	if s.Goal == "" {
		s.Goal = GoalClosureRate
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
