package model

// Level is a coarse low/medium/high rating used for urgency, budget
// sensitivity and risk.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// RiskLevelFor maps a [0,1] risk score onto a Level.
func RiskLevelFor(score float64) Level {
	switch {
	case score >= 0.7:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	default:
		return LevelLow
	}
}

// InfluencerProfile is the analyzer's estimate of the counterpart's style.
type InfluencerProfile struct {
	Style            string `json:"style"` // formal, casual, enthusiastic, terse
	PriceSensitivity Level  `json:"price_sensitivity"`
	Responsiveness   Level  `json:"responsiveness"`
}

// CompanyGoals are the company-side objectives the analyzer echoes back.
type CompanyGoals struct {
	TargetAmount  float64 `json:"target_amount"`
	BudgetMin     float64 `json:"budget_min"`
	BudgetMax     float64 `json:"budget_max"`
	PreferredTone string  `json:"preferred_tone"`
	Goal          Goal    `json:"goal"`
}

// NegotiationContext is the structured interpretation of a message thread.
type NegotiationContext struct {
	CurrentStage        Stage             `json:"current_stage"`
	SentimentTrend      []float64         `json:"sentiment_trend"`
	InfluencerProfile   InfluencerProfile `json:"influencer_profile"`
	KeyConcerns         []string          `json:"key_concerns"`
	Opportunities       []string          `json:"opportunities"`
	Risks               []string          `json:"risks"`
	CompanyGoals        CompanyGoals      `json:"company_goals"`
	Urgency             Level             `json:"urgency"`
	BudgetSensitivity   Level             `json:"budget_sensitivity"`
	CompetitorMentioned bool              `json:"competitor_mentioned"`
	EngagementRate      float64           `json:"engagement_rate"`
	MessageCount        int               `json:"message_count"`
	RequestedAmount     float64           `json:"requested_amount,omitempty"`
}

// LatestSentiment returns the most recent sentiment score, or 0.
func (c *NegotiationContext) LatestSentiment() float64 {
	if len(c.SentimentTrend) == 0 {
		return 0
	}
	return c.SentimentTrend[len(c.SentimentTrend)-1]
}

// NegotiationStrategy is the analyzer's recommendation for the next message.
type NegotiationStrategy struct {
	Approach           string   `json:"approach"`
	Tone               string   `json:"tone"`
	Urgency            Level    `json:"urgency"`
	KeyMessages        []string `json:"key_messages"`
	NextAction         string   `json:"next_action"`
	SuccessProbability float64  `json:"success_probability"`
}

// PredictiveSummary is the orchestrator's decision input.
type PredictiveSummary struct {
	Confidence         float64  `json:"confidence"`
	RiskScore          float64  `json:"risk_score"`
	RiskLevel          Level    `json:"risk_level"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Analysis bundles the full analyzer output for one thread.
type Analysis struct {
	Context  NegotiationContext  `json:"context"`
	Strategy NegotiationStrategy `json:"strategy"`
	Summary  PredictiveSummary   `json:"summary"`
	Source   string              `json:"source"` // heuristic, anthropic, openai
}
