package model

import "time"

// Outcome is how a negotiation ended (or where it stands).
type Outcome string

const (
	OutcomeDealClosed  Outcome = "deal_closed"
	OutcomePriceAgreed Outcome = "price_agreed"
	OutcomeFailed      Outcome = "failed"
	OutcomeEscalated   Outcome = "escalated"
	OutcomeExpired     Outcome = "expired"
	OutcomeInProgress  Outcome = "in_progress"
)

// Agreed reports whether the outcome represents a reached agreement.
func (o Outcome) Agreed() bool {
	return o == OutcomeDealClosed || o == OutcomePriceAgreed
}

// PatternType classifies a recorded pattern by its outcome.
type PatternType string

const (
	PatternSuccess    PatternType = "success"
	PatternPartial    PatternType = "partial"
	PatternFailure    PatternType = "failure"
	PatternEscalation PatternType = "escalation"
)

// SuccessSatisfactionThreshold is the minimum satisfaction for a success pattern.
const SuccessSatisfactionThreshold = 0.8

// ClassifyPattern derives the pattern type from an outcome and satisfaction score.
func ClassifyPattern(outcome Outcome, satisfaction float64) PatternType {
	switch {
	case outcome.Agreed() && satisfaction >= SuccessSatisfactionThreshold:
		return PatternSuccess
	case outcome.Agreed():
		return PatternPartial
	case outcome == OutcomeFailed:
		return PatternFailure
	default:
		return PatternEscalation
	}
}

// BudgetRange is a closed budget interval in the company's currency.
type BudgetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Midpoint returns the center of the range, or whichever bound is set.
func (b BudgetRange) Midpoint() float64 {
	switch {
	case b.Min > 0 && b.Max > 0:
		return (b.Min + b.Max) / 2
	case b.Max > 0:
		return b.Max
	default:
		return b.Min
	}
}

// Known reports whether the range carries a positive budget.
func (b BudgetRange) Known() bool {
	return b.Midpoint() > 0
}

// SuccessMetrics are the measured results of one negotiation.
type SuccessMetrics struct {
	DealValue                float64 `json:"deal_value"`
	NegotiationDurationHours float64 `json:"negotiation_duration_hours"`
	RoundsCount              float64 `json:"rounds_count"`
	SatisfactionScore        float64 `json:"satisfaction_score"`
	BudgetEfficiency         float64 `json:"budget_efficiency"`
}

// PatternContext is the negotiation context that identifies a pattern.
type PatternContext struct {
	InfluencerCategory string      `json:"influencer_category"`
	ProductCategory    string      `json:"product_category"`
	InitialBudgetRange BudgetRange `json:"initial_budget_range"`
	FinalAgreedAmount  float64     `json:"final_agreed_amount"`
	NegotiationTone    string      `json:"negotiation_tone"`
	CustomInstructions string      `json:"custom_instructions,omitempty"`
}

// DecisionPoint is a notable action taken during a negotiation and its result.
type DecisionPoint struct {
	Stage    Stage  `json:"stage"`
	Action   string `json:"action"`
	Result   string `json:"result"`
	Positive bool   `json:"positive"`
}

// PatternFeatures is the flattened feature vector used for similarity scoring.
type PatternFeatures struct {
	InfluencerCategory string  `json:"influencer_category"`
	ProductCategory    string  `json:"product_category"`
	Tone               string  `json:"tone"`
	BudgetMidpoint     float64 `json:"budget_midpoint"`
	BudgetSpan         float64 `json:"budget_span"`
	Rounds             float64 `json:"rounds"`
	DurationHours      float64 `json:"duration_hours"`
	Satisfaction       float64 `json:"satisfaction"`
}

// PatternData is what a caller submits when recording a pattern.
type PatternData struct {
	Context          PatternContext  `json:"context"`
	KeyPhrases       []string        `json:"key_phrases,omitempty"`
	ConversationFlow []Stage         `json:"conversation_flow,omitempty"`
	DecisionPoints   []DecisionPoint `json:"decision_points,omitempty"`
}

// NegotiationPattern is a recorded, reusable negotiation case.
type NegotiationPattern struct {
	PatternID        string          `json:"pattern_id"`
	PatternType      PatternType     `json:"pattern_type"`
	LastOutcome      Outcome         `json:"last_outcome"`
	LastThreadID     string          `json:"last_thread_id,omitempty"`
	Context          PatternContext  `json:"context"`
	SuccessMetrics   SuccessMetrics  `json:"success_metrics"`
	Features         PatternFeatures `json:"features"`
	KeyPhrases       []string        `json:"key_phrases"`
	ConversationFlow []Stage         `json:"conversation_flow"`
	DecisionPoints   []DecisionPoint `json:"decision_points"`
	UsageCount       int             `json:"usage_count"`
	SuccessCount     int             `json:"success_count"`
	SuccessRate      float64         `json:"success_rate"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ScoredPattern pairs a pattern with its similarity to a query context.
type ScoredPattern struct {
	Pattern    NegotiationPattern `json:"pattern"`
	Similarity float64            `json:"similarity"`
}

// PatternQuery is the context used for similarity lookup.
type PatternQuery struct {
	InfluencerCategory string      `json:"influencer_category,omitempty"`
	ProductCategory    string      `json:"product_category,omitempty"`
	BudgetRange        BudgetRange `json:"budget_range"`
	Tone               string      `json:"tone,omitempty"`
}

// PerformanceData confirms a looked-up pattern against a real outcome.
type PerformanceData struct {
	Success   bool    `json:"success"`
	DealValue float64 `json:"deal_value,omitempty"`
	ThreadID  string  `json:"thread_id,omitempty"`
}

// ToneCount is one entry of a tone frequency ranking.
type ToneCount struct {
	Tone  string `json:"tone"`
	Count int    `json:"count"`
}

// AnalyticsSummary aggregates pattern activity over a time window.
type AnalyticsSummary struct {
	WindowDays     int                 `json:"window_days"`
	TotalRecords   int                 `json:"total_records"`
	TotalPatterns  int                 `json:"total_patterns"`
	ByPatternType  map[PatternType]int `json:"by_pattern_type"`
	AvgSuccessRate float64             `json:"avg_success_rate"`
	TopTones       []ToneCount         `json:"top_tones"`
	ByCategory     map[string]int      `json:"by_category"`
	GeneratedAt    time.Time           `json:"generated_at"`
}
