package orchestrator

import (
	"fmt"
	"math"

	"github.com/sells-group/negotiator/internal/config"
	"github.com/sells-group/negotiator/internal/model"
)

// Decision reasons surfaced to reviewers.
const (
	ReasonLowConfidence      = "low confidence"
	ReasonHighRisk           = "high risk"
	ReasonAnalyzerFailed     = "analyzer unavailable"
	ReasonInfluencerDeclined = "influencer declined"
	ReasonShutdown           = "automation stopped"
)

// Thresholds are the decision limits in effect for one run.
type Thresholds struct {
	DecisionConfidence   float64 `json:"decision_confidence_threshold"`
	EmergencyStop        bool    `json:"emergency_stop_enabled"`
	MaxConcurrent        int     `json:"max_concurrent_negotiations"`
	BudgetDeviationPct   float64 `json:"budget_deviation_percentage"`
	RoundsLimit          int     `json:"negotiation_rounds_limit"`
	RiskScore            float64 `json:"risk_score_threshold"`
	ResponseTimeoutHours int     `json:"response_timeout_hours,omitempty"`
}

// DefaultThresholds returns the configured limits, falling back to the
// built-in defaults for unset values. The emergency stop stays on unless
// the config turns it off explicitly.
func DefaultThresholds(cfg config.AutomationConfig) Thresholds {
	t := Thresholds{
		DecisionConfidence: cfg.DecisionConfidenceThreshold,
		EmergencyStop:      true,
		MaxConcurrent:      cfg.MaxConcurrentNegotiations,
		BudgetDeviationPct: cfg.BudgetDeviationPercentage,
		RoundsLimit:        cfg.NegotiationRoundsLimit,
		RiskScore:          cfg.RiskScoreThreshold,
	}
	if cfg.EmergencyStopEnabled != nil {
		t.EmergencyStop = *cfg.EmergencyStopEnabled
	}
	if t.DecisionConfidence <= 0 {
		t.DecisionConfidence = 0.8
	}
	if t.MaxConcurrent <= 0 {
		t.MaxConcurrent = 5
	}
	if t.BudgetDeviationPct <= 0 {
		t.BudgetDeviationPct = 30
	}
	if t.RoundsLimit <= 0 {
		t.RoundsLimit = 5
	}
	if t.RiskScore <= 0 {
		t.RiskScore = 0.8
	}
	return t
}

// Apply returns t with the company overrides applied.
func (t Thresholds) Apply(o model.OrchestrationConfig) Thresholds {
	if o.DecisionConfidenceThreshold != nil {
		t.DecisionConfidence = *o.DecisionConfidenceThreshold
	}
	if o.EmergencyStopEnabled != nil {
		t.EmergencyStop = *o.EmergencyStopEnabled
	}
	if o.MaxConcurrentNegotiations != nil && *o.MaxConcurrentNegotiations > 0 {
		t.MaxConcurrent = *o.MaxConcurrentNegotiations
	}
	if o.BudgetDeviationPercentage != nil {
		t.BudgetDeviationPct = *o.BudgetDeviationPercentage
	}
	if o.NegotiationRoundsLimit != nil {
		t.RoundsLimit = *o.NegotiationRoundsLimit
	}
	if o.RiskScoreThreshold != nil {
		t.RiskScore = *o.RiskScoreThreshold
	}
	if o.ResponseTimeoutHours != nil && *o.ResponseTimeoutHours > 0 {
		t.ResponseTimeoutHours = *o.ResponseTimeoutHours
	}
	return t
}

// FullAutoGate returns the reason a full_auto decision must go to a human,
// or "" when the analysis is within bounds.
func FullAutoGate(t Thresholds, s model.PredictiveSummary) string {
	if s.Confidence < t.DecisionConfidence {
		return ReasonLowConfidence
	}
	if t.EmergencyStop && s.RiskLevel == model.LevelHigh {
		return ReasonHighRisk
	}
	return ""
}

// EscalationRules evaluates the semi_auto approval rules. Every rule that
// trips contributes a reason.
func EscalationRules(t Thresholds, state *model.ThreadState, a *model.Analysis, settings *model.CompanySettings) []string {
	var reasons []string

	if dev, ok := BudgetDeviation(state, a, settings); ok && dev > t.BudgetDeviationPct {
		reasons = append(reasons, fmt.Sprintf("budget deviation %.0f%% exceeds %.0f%%", dev, t.BudgetDeviationPct))
	}
	if state.RoundNumber > t.RoundsLimit {
		reasons = append(reasons, fmt.Sprintf("round %d exceeds limit of %d", state.RoundNumber, t.RoundsLimit))
	}
	if a != nil && a.Summary.RiskScore > t.RiskScore {
		reasons = append(reasons, fmt.Sprintf("risk score %.2f exceeds %.2f", a.Summary.RiskScore, t.RiskScore))
	}
	return reasons
}

// BudgetDeviation is how far the influencer's ask sits from the company
// target, in percent. It reports false when either side is unknown.
func BudgetDeviation(state *model.ThreadState, a *model.Analysis, settings *model.CompanySettings) (float64, bool) {
	if settings == nil {
		return 0, false
	}
	target := settings.TargetAmount
	if target <= 0 {
		target = settings.Budget().Midpoint()
	}
	requested := state.Terms.RequestedAmount
	if a != nil && a.Context.RequestedAmount > 0 {
		requested = a.Context.RequestedAmount
	}
	if target <= 0 || requested <= 0 {
		return 0, false
	}
	return math.Abs(requested-target) / target * 100, true
}
