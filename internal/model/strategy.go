package model

// Goal is the metric a strategy optimization maximizes.
type Goal string

const (
	GoalClosureRate  Goal = "closure_rate"
	GoalDealValue    Goal = "deal_value"
	GoalSpeed        Goal = "speed"
	GoalSatisfaction Goal = "satisfaction"
)

// Valid reports whether g is a known goal.
func (g Goal) Valid() bool {
	switch g {
	case GoalClosureRate, GoalDealValue, GoalSpeed, GoalSatisfaction:
		return true
	}
	return false
}

// Timing values.
const (
	TimingImmediate  = "immediate"
	TimingWithinHour = "within_hour"
	TimingNextDay    = "next_day"
)

// Budget approach values.
const (
	BudgetFlexible = "flexible"
	BudgetModerate = "moderate"
	BudgetFirm     = "firm"
)

// ToneBalanced is the tone used when nothing better is known.
const ToneBalanced = "balanced"

// BestStrategy is the pattern-derived base strategy for a context.
type BestStrategy struct {
	Approach          string   `json:"approach"`
	KeyPhrases        []string `json:"key_phrases"`
	RecommendedFlow   []Stage  `json:"recommended_flow"`
	AvoidTopics       []string `json:"avoid_topics"`
	BudgetFlexibility float64  `json:"budget_flexibility"`
	ExpectedRounds    int      `json:"expected_rounds"`
	Confidence        float64  `json:"confidence"`
	SourcePatternID   string   `json:"source_pattern_id,omitempty"`
}

// Interval is a closed [Low, High] range.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// StrategyPrediction is the heuristic outlook attached to an optimized strategy.
type StrategyPrediction struct {
	DealClosureProbability    float64  `json:"deal_closure_probability"`
	ExpectedNegotiationRounds int      `json:"expected_negotiation_rounds"`
	ConfidenceInterval        Interval `json:"confidence_interval"`
}

// OptimizedStrategy is the engine's final recommendation.
type OptimizedStrategy struct {
	Goal           Goal               `json:"goal"`
	Base           BestStrategy       `json:"base"`
	Tone           string             `json:"tone"`
	OptimalTiming  string             `json:"optimal_timing"`
	BudgetApproach string             `json:"budget_approach"`
	Tactics        []string           `json:"tactics"`
	Explored       bool               `json:"explored"`
	ToneScores     map[string]float64 `json:"tone_scores"`
	Prediction     StrategyPrediction `json:"prediction"`
}

// Applied converts the strategy into the record stored on a thread.
func (s *OptimizedStrategy) Applied() AppliedStrategy {
	return AppliedStrategy{
		Tone:            s.Tone,
		Timing:          s.OptimalTiming,
		BudgetApproach:  s.BudgetApproach,
		SourcePatternID: s.Base.SourcePatternID,
		ExpectedRounds:  s.Prediction.ExpectedNegotiationRounds,
	}
}

// Recommendation is one advisory action from the adaptive rule table.
type Recommendation struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Priority Level  `json:"priority"`
	Reason   string `json:"reason"`
}

// RealTimeSignals are the live observations fed to adaptive recommendations.
type RealTimeSignals struct {
	Sentiment           float64 `json:"sentiment"`
	Urgency             Level   `json:"urgency"`
	BudgetSensitivity   Level   `json:"budget_sensitivity"`
	CompetitorMentioned bool    `json:"competitor_mentioned"`
}

// ProposedAction is the action whose outcome is being predicted.
type ProposedAction struct {
	Tone           string  `json:"tone"`
	Timing         string  `json:"timing"`
	BudgetApproach string  `json:"budget_approach"`
	OfferAmount    float64 `json:"offer_amount,omitempty"`
}

// Prediction is the similarity-weighted outlook for a proposed action.
type Prediction struct {
	SuccessProbability    float64  `json:"success_probability"`
	ExpectedDealValue     float64  `json:"expected_deal_value"`
	ExpectedDurationHours float64  `json:"expected_duration_hours"`
	ConfidenceLevel       float64  `json:"confidence_level"`
	PatternCount          int      `json:"pattern_count"`
	RiskFactors           []string `json:"risk_factors"`
	OpportunityFactors    []string `json:"opportunity_factors"`
}

// OptimizationWeights is the learned weight table.
type OptimizationWeights struct {
	ToneWeights        map[string]float64 `json:"tone_weights"`
	TimingWeights      map[string]float64 `json:"timing_weights"`
	FlexibilityWeights map[string]float64 `json:"flexibility_weights"`
}

// Clone returns a deep copy of w.
func (w OptimizationWeights) Clone() OptimizationWeights {
	cp := func(m map[string]float64) map[string]float64 {
		out := make(map[string]float64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return OptimizationWeights{
		ToneWeights:        cp(w.ToneWeights),
		TimingWeights:      cp(w.TimingWeights),
		FlexibilityWeights: cp(w.FlexibilityWeights),
	}
}
