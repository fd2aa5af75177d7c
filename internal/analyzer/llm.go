package analyzer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/resilience"
)

// Completer is a single-turn LLM completion. pkg/anthropic and pkg/openai
// both provide one.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const systemPrompt = `You review email negotiations between a brand and an influencer.
You receive the thread, the company's settings and a keyword-based baseline analysis.
Correct the baseline where the messages clearly disagree with it and answer with one JSON object
using only these optional keys:
current_stage (initial_contact|interest_confirmation|condition_negotiation|final_agreement|completed|failed),
sentiment_trend (one number in [-1,1] per message, oldest first),
key_concerns, opportunities, risks (arrays of short snake_case labels),
urgency, budget_sensitivity (low|medium|high), competitor_mentioned (bool),
tone, approach (strings), confidence, risk_score (numbers in [0,1]),
recommended_actions (array of strings).`

// LLM refines the heuristic baseline with a model completion.
type LLM struct {
	completer Completer
	guard     *resilience.Guard
	baseline  *Heuristic
	timeout   time.Duration
	log       *zap.Logger
}

// NewLLM returns an analyzer that calls completer through guard. A zero
// timeout leaves the deadline to ctx.
func NewLLM(completer Completer, guard *resilience.Guard, baseline *Heuristic, timeout time.Duration) *LLM {
	if baseline == nil {
		baseline = NewHeuristic(Options{})
	}
	if guard == nil {
		guard = resilience.NewGuard(completer.Name(), 0, 0, resilience.DefaultRetryConfig(), resilience.DefaultCircuitBreakerConfig())
	}
	return &LLM{
		completer: completer,
		guard:     guard,
		baseline:  baseline,
		timeout:   timeout,
		log:       zap.L().With(zap.String("component", "analyzer"), zap.String("provider", completer.Name())),
	}
}

type promptPayload struct {
	Messages []model.Message           `json:"messages"`
	Settings *model.CompanySettings    `json:"company_settings,omitempty"`
	Baseline model.NegotiationContext  `json:"baseline"`
	Strategy model.NegotiationStrategy `json:"baseline_strategy"`
}

type refinement struct {
	CurrentStage        *model.Stage `json:"current_stage"`
	SentimentTrend      []float64    `json:"sentiment_trend"`
	KeyConcerns         []string     `json:"key_concerns"`
	Opportunities       []string     `json:"opportunities"`
	Risks               []string     `json:"risks"`
	Urgency             *model.Level `json:"urgency"`
	BudgetSensitivity   *model.Level `json:"budget_sensitivity"`
	CompetitorMentioned *bool        `json:"competitor_mentioned"`
	Tone                *string      `json:"tone"`
	Approach            *string      `json:"approach"`
	Confidence          *float64     `json:"confidence"`
	RiskScore           *float64     `json:"risk_score"`
	RecommendedActions  []string     `json:"recommended_actions"`
}

// Analyze implements ContextAnalyzer. Any failure of the model call or of
// its answer is reported as ErrAnalyzerUnavailable.
func (a *LLM) Analyze(ctx context.Context, messages []model.Message, settings *model.CompanySettings) (*model.Analysis, error) {
	messages = trimMessages(messages, a.baseline.maxMessages)
	nc := a.baseline.AnalyzeState(messages, settings)

	prompt, err := json.Marshal(promptPayload{
		Messages: messages,
		Settings: settings,
		Baseline: nc,
		Strategy: GenerateStrategy(nc),
	})
	if err != nil {
		return nil, eris.Wrap(err, "analyzer: marshal prompt")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := resilience.Call(ctx, a.guard, func(ctx context.Context) (string, error) {
		return a.completer.Complete(ctx, systemPrompt, string(prompt))
	})
	if err != nil {
		a.log.Warn("analysis call failed", zap.Error(err))
		return nil, eris.Wrapf(ErrAnalyzerUnavailable, "%s: %v", a.completer.Name(), err)
	}

	var ref refinement
	if err := json.Unmarshal([]byte(extractJSON(raw)), &ref); err != nil {
		a.log.Warn("analysis reply is not JSON", zap.Error(err), zap.Int("reply_len", len(raw)))
		return nil, eris.Wrapf(ErrAnalyzerUnavailable, "%s: parse reply: %v", a.completer.Name(), err)
	}

	analysis := apply(nc, ref)
	analysis.Source = a.completer.Name()
	a.log.Debug("analysis complete",
		zap.String("stage", string(analysis.Context.CurrentStage)),
		zap.Float64("confidence", analysis.Summary.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return analysis, nil
}

// apply overlays the valid parts of ref on the baseline context and
// recomputes strategy and summary.
func apply(nc model.NegotiationContext, ref refinement) *model.Analysis {
	if ref.CurrentStage != nil && ref.CurrentStage.Valid() {
		nc.CurrentStage = *ref.CurrentStage
	}
	if len(ref.SentimentTrend) == len(nc.SentimentTrend) {
		for i, v := range ref.SentimentTrend {
			nc.SentimentTrend[i] = clamp(v, -1, 1)
		}
	}
	if ref.KeyConcerns != nil {
		nc.KeyConcerns = ref.KeyConcerns
	}
	if ref.Opportunities != nil {
		nc.Opportunities = ref.Opportunities
	}
	if ref.Risks != nil {
		nc.Risks = ref.Risks
	}
	if ref.Urgency != nil && validLevel(*ref.Urgency) {
		nc.Urgency = *ref.Urgency
	}
	if ref.BudgetSensitivity != nil && validLevel(*ref.BudgetSensitivity) {
		nc.BudgetSensitivity = *ref.BudgetSensitivity
		nc.InfluencerProfile.PriceSensitivity = *ref.BudgetSensitivity
	}
	if ref.CompetitorMentioned != nil {
		nc.CompetitorMentioned = *ref.CompetitorMentioned
	}

	strategy := GenerateStrategy(nc)
	if ref.Tone != nil && strings.TrimSpace(*ref.Tone) != "" {
		strategy.Tone = strings.ToLower(strings.TrimSpace(*ref.Tone))
	}
	if ref.Approach != nil && strings.TrimSpace(*ref.Approach) != "" {
		strategy.Approach = strings.TrimSpace(*ref.Approach)
	}

	summary := Summarize(nc, strategy)
	if ref.Confidence != nil {
		summary.Confidence = clamp(*ref.Confidence, 0.05, 0.95)
	}
	if ref.RiskScore != nil {
		summary.RiskScore = clamp(*ref.RiskScore, 0, 1)
		summary.RiskLevel = model.RiskLevelFor(summary.RiskScore)
	}
	if len(ref.RecommendedActions) > 0 {
		summary.RecommendedActions = ref.RecommendedActions
	}

	return &model.Analysis{Context: nc, Strategy: strategy, Summary: summary}
}

func validLevel(l model.Level) bool {
	return l == model.LevelLow || l == model.LevelMedium || l == model.LevelHigh
}

// extractJSON strips a markdown code fence or surrounding prose from a reply.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// New builds the analyzer named by provider. Completer may be nil for the
// heuristic provider.
func New(provider string, completer Completer, guard *resilience.Guard, opts Options, timeout time.Duration) (ContextAnalyzer, error) {
	h := NewHeuristic(opts)
	switch provider {
	case "", "heuristic":
		return h, nil
	case "anthropic", "openai":
		if completer == nil {
			return nil, eris.Errorf("analyzer: provider %q needs a completer", provider)
		}
		return NewLLM(completer, guard, h, timeout), nil
	default:
		return nil, eris.Errorf("analyzer: unknown provider %q", provider)
	}
}
