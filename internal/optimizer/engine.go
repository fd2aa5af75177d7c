// Package optimizer turns recorded patterns and learned weights into a
// concrete strategy for the next negotiation message, and learns from
// outcomes.
package optimizer

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/store"
)

const (
	DefaultExplorationRate = 0.2
	DefaultLearningRate    = 0.1
	MinWeight              = 0.1
	MaxWeight              = 2.0

	weightsDocID = "global"
)

// PatternSource is the slice of pattern storage the engine reads.
type PatternSource interface {
	GetBestStrategy(ctx context.Context, q model.PatternQuery) (*model.BestStrategy, error)
	FindNearby(ctx context.Context, q model.PatternQuery, minSimilarity float64) ([]model.ScoredPattern, error)
}

// Options configures an Engine.
type Options struct {
	ExplorationRate float64
	LearningRate    float64
	// Rand drives exploration. Seeded from the clock when nil.
	Rand *rand.Rand
	// Rule replaces the default bandit update.
	Rule WeightUpdateRule
}

// Situation is the current negotiation as the optimizer sees it.
type Situation struct {
	Query             model.PatternQuery `json:"query"`
	Stage             model.Stage        `json:"stage,omitempty"`
	Urgency           model.Level        `json:"urgency"`
	BudgetSensitivity model.Level        `json:"budget_sensitivity"`
	EngagementRate    float64            `json:"engagement_rate"`
	RequestedAmount   float64            `json:"requested_amount,omitempty"`
}

// SituationFor assembles a Situation from a thread, its latest analysis and
// the company settings. Thread terms win over company defaults.
func SituationFor(state *model.ThreadState, nc *model.NegotiationContext, settings *model.CompanySettings) Situation {
	var sit Situation
	if settings != nil {
		sit.Query = model.PatternQuery{
			InfluencerCategory: settings.InfluencerCategory,
			ProductCategory:    settings.ProductCategory,
			BudgetRange:        settings.Budget(),
			Tone:               settings.PreferredTone,
		}
		sit.Urgency = settings.Urgency
	}
	if state != nil {
		t := state.Terms
		if t.InfluencerCategory != "" {
			sit.Query.InfluencerCategory = t.InfluencerCategory
		}
		if t.ProductCategory != "" {
			sit.Query.ProductCategory = t.ProductCategory
		}
		if t.BudgetMin > 0 || t.BudgetMax > 0 {
			sit.Query.BudgetRange = model.BudgetRange{Min: t.BudgetMin, Max: t.BudgetMax}
		}
		if t.Tone != "" {
			sit.Query.Tone = t.Tone
		}
		sit.RequestedAmount = t.RequestedAmount
		sit.Stage = state.Stage
	}
	if nc != nil {
		if nc.Urgency != "" {
			sit.Urgency = nc.Urgency
		}
		sit.BudgetSensitivity = nc.BudgetSensitivity
		sit.EngagementRate = nc.EngagementRate
		if nc.RequestedAmount > 0 {
			sit.RequestedAmount = nc.RequestedAmount
		}
		if sit.Stage == "" {
			sit.Stage = nc.CurrentStage
		}
	}
	return sit
}

// Engine is the strategy optimization engine. It owns the learned weight
// table; all weight access goes through its mutex.
type Engine struct {
	patterns PatternSource
	store    store.Store
	log      *zap.Logger

	mu              sync.Mutex
	weights         model.OptimizationWeights
	rng             *rand.Rand
	rule            WeightUpdateRule
	explorationRate float64
}

// New creates an Engine with prior weights. st may be nil, in which case
// LoadWeights and SaveWeights are no-ops.
func New(patterns PatternSource, st store.Store, opts Options) *Engine {
	if opts.ExplorationRate < 0 || opts.ExplorationRate > 1 {
		opts.ExplorationRate = DefaultExplorationRate
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultLearningRate
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1)) //nolint:gosec
	}
	if opts.Rule == nil {
		opts.Rule = BanditRule{LearningRate: opts.LearningRate}
	}
	return &Engine{
		patterns:        patterns,
		store:           st,
		log:             zap.L().With(zap.String("component", "optimizer")),
		weights:         DefaultWeights(),
		rng:             opts.Rand,
		rule:            opts.Rule,
		explorationRate: opts.ExplorationRate,
	}
}

// DefaultWeights are the priors every engine starts from.
func DefaultWeights() model.OptimizationWeights {
	return model.OptimizationWeights{
		ToneWeights: map[string]float64{
			"friendly":         1.0,
			"professional":     1.0,
			"casual":           0.8,
			"enthusiastic":     0.9,
			model.ToneBalanced: 1.0,
		},
		TimingWeights: map[string]float64{
			model.TimingImmediate:  1.0,
			model.TimingWithinHour: 1.0,
			model.TimingNextDay:    0.8,
		},
		FlexibilityWeights: map[string]float64{
			model.BudgetFlexible: 1.0,
			model.BudgetModerate: 1.0,
			model.BudgetFirm:     0.8,
		},
	}
}

// Weights returns a snapshot of the current weight table.
func (e *Engine) Weights() model.OptimizationWeights {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weights.Clone()
}

// SetExplorationRate changes the ε of the tone choice.
func (e *Engine) SetExplorationRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.explorationRate = clamp(rate, 0, 1)
}

// LoadWeights replaces the in-memory table with the persisted one, if any.
func (e *Engine) LoadWeights(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	doc, err := e.store.Get(ctx, store.CollectionWeights, weightsDocID)
	if err != nil {
		return eris.Wrap(err, "optimizer: load weights")
	}
	if doc == nil {
		return nil
	}
	var w model.OptimizationWeights
	if err := doc.Decode(&w); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, table := range []struct{ dst, src map[string]float64 }{
		{e.weights.ToneWeights, w.ToneWeights},
		{e.weights.TimingWeights, w.TimingWeights},
		{e.weights.FlexibilityWeights, w.FlexibilityWeights},
	} {
		for k, v := range table.src {
			table.dst[k] = clamp(v, MinWeight, MaxWeight)
		}
	}
	e.log.Info("weights loaded", zap.Int("tones", len(e.weights.ToneWeights)))
	return nil
}

// SaveWeights persists the current weight table.
func (e *Engine) SaveWeights(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	w := e.Weights()
	return eris.Wrap(e.store.Set(ctx, store.CollectionWeights, weightsDocID, w, false), "optimizer: save weights")
}

// OptimizeStrategy builds the strategy for the next message from the best
// matching pattern, per-tone performance over history for goal, and the
// learned weights.
func (e *Engine) OptimizeStrategy(ctx context.Context, sit Situation, history []model.NegotiationOutcome, goal model.Goal) (*model.OptimizedStrategy, error) {
	if !goal.Valid() {
		goal = model.GoalClosureRate
	}

	base, err := e.patterns.GetBestStrategy(ctx, sit.Query)
	if err != nil {
		e.log.Warn("pattern lookup failed, using default strategy", zap.Error(err))
		base = nil
	}
	if base == nil {
		def := defaultBase()
		base = &def
	}

	performance := TonePerformance(history, goal)

	e.mu.Lock()
	tones := sortedKeys(e.weights.ToneWeights)
	scores := make(map[string]float64, len(tones))
	for _, tone := range tones {
		perf, ok := performance[tone]
		if !ok {
			perf = 0.5
		}
		scores[tone] = perf * e.weights.ToneWeights[tone]
	}
	explore := e.rng.Float64() < e.explorationRate
	var tone string
	if explore {
		tone = tones[e.rng.IntN(len(tones))]
	} else {
		tone = argmax(tones, scores, base.Approach)
	}
	toneWeight := e.weights.ToneWeights[tone]
	e.mu.Unlock()

	timing := TimingFor(sit.Urgency)
	budget := BudgetApproachFor(sit.BudgetSensitivity)

	rounds := base.ExpectedRounds
	if rounds < 1 {
		rounds = 3
	}
	if sit.BudgetSensitivity == model.LevelHigh {
		rounds++
	}
	closure := clamp(0.3*(toneWeight/2)+0.4*clamp(sit.EngagementRate, 0, 1)+0.3*budgetMatch(sit), 0.05, 0.95)
	half := 0.1 + 0.2*(1-clamp(base.Confidence, 0, 1))

	strategy := &model.OptimizedStrategy{
		Goal:           goal,
		Base:           *base,
		Tone:           tone,
		OptimalTiming:  timing,
		BudgetApproach: budget,
		Tactics:        Tactics(tone, timing, budget),
		Explored:       explore,
		ToneScores:     scores,
		Prediction: model.StrategyPrediction{
			DealClosureProbability:    closure,
			ExpectedNegotiationRounds: rounds,
			ConfidenceInterval: model.Interval{
				Low:  clamp(closure-half, 0, 1),
				High: clamp(closure+half, 0, 1),
			},
		},
	}

	e.log.Debug("strategy optimized",
		zap.String("goal", string(goal)),
		zap.String("tone", tone),
		zap.Bool("explored", explore),
		zap.String("timing", timing),
		zap.String("budget_approach", budget),
	)
	return strategy, nil
}

// TonePerformance averages the goal metric per tone over outcomes that
// carry a strategy. Every value is in [0, 1].
func TonePerformance(history []model.NegotiationOutcome, goal model.Goal) map[string]float64 {
	var maxValue float64
	for _, o := range history {
		maxValue = math.Max(maxValue, o.DealValue)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, o := range history {
		tone := o.StrategyUsed.Tone
		if tone == "" {
			continue
		}
		var v float64
		switch goal {
		case model.GoalDealValue:
			if maxValue > 0 {
				v = o.DealValue / maxValue
			}
		case model.GoalSpeed:
			if o.DurationHours > 0 {
				v = 1 / (1 + o.DurationHours/24)
			}
		case model.GoalSatisfaction:
			v = clamp(o.SatisfactionScore, 0, 1)
		default:
			if o.DealClosed {
				v = 1
			}
		}
		sums[tone] += v
		counts[tone]++
	}

	out := make(map[string]float64, len(sums))
	for tone, sum := range sums {
		out[tone] = sum / float64(counts[tone])
	}
	return out
}

// TimingFor maps urgency to a send timing.
func TimingFor(urgency model.Level) string {
	switch urgency {
	case model.LevelHigh:
		return model.TimingImmediate
	case model.LevelLow:
		return model.TimingNextDay
	default:
		return model.TimingWithinHour
	}
}

// BudgetApproachFor maps budget sensitivity to a budget posture.
func BudgetApproachFor(sensitivity model.Level) string {
	switch sensitivity {
	case model.LevelHigh:
		return model.BudgetFlexible
	case model.LevelLow:
		return model.BudgetFirm
	default:
		return model.BudgetModerate
	}
}

var (
	toneTactics = map[string]string{
		"friendly":         "Open warmly and reference a recent piece of their content",
		"professional":     "Lead with deliverables, timeline and usage terms in a structured outline",
		"casual":           "Keep the message short and conversational, one clear ask",
		"enthusiastic":     "Show genuine excitement about the fit between their audience and the product",
		model.ToneBalanced: "Balance rapport with a concrete proposal",
	}
	timingTactics = map[string]string{
		model.TimingImmediate:  "Reply right away while the thread is active",
		model.TimingWithinHour: "Reply within the hour to keep momentum without appearing pushy",
		model.TimingNextDay:    "Wait until the next business day and give them room to consider",
	}
	budgetTactics = map[string]string{
		model.BudgetFlexible: "Signal room on the fee and offer value adds such as product bundles or extended usage",
		model.BudgetModerate: "Anchor near the target amount and trade concessions for deliverables",
		model.BudgetFirm:     "Hold the offered amount and emphasize non-monetary benefits",
	}
)

// Tactics renders concrete guidance for a tone, timing and budget posture.
func Tactics(tone, timing, budget string) []string {
	var out []string
	if t, ok := toneTactics[tone]; ok {
		out = append(out, t)
	} else {
		out = append(out, "Write in a "+tone+" tone")
	}
	if t, ok := timingTactics[timing]; ok {
		out = append(out, t)
	}
	if t, ok := budgetTactics[budget]; ok {
		out = append(out, t)
	}
	return out
}

func defaultBase() model.BestStrategy {
	return model.BestStrategy{
		Approach:          model.ToneBalanced,
		KeyPhrases:        []string{},
		AvoidTopics:       []string{},
		BudgetFlexibility: 0.5,
		ExpectedRounds:    3,
		Confidence:        0.5,
	}
}

// budgetMatch is 1 when the influencer's ask fits the budget, decreasing
// with the overshoot, and 0.5 when either side is unknown.
func budgetMatch(sit Situation) float64 {
	ceiling := sit.Query.BudgetRange.Max
	if ceiling <= 0 {
		ceiling = sit.Query.BudgetRange.Min
	}
	if sit.RequestedAmount <= 0 || ceiling <= 0 {
		return 0.5
	}
	if sit.RequestedAmount <= ceiling {
		return 1
	}
	return ceiling / sit.RequestedAmount
}

// argmax picks the best scoring tone; ties go to preferred, then to name order.
func argmax(tones []string, scores map[string]float64, preferred string) string {
	best := ""
	for _, tone := range tones {
		switch {
		case best == "":
			best = tone
		case scores[tone] > scores[best]:
			best = tone
		case scores[tone] == scores[best] && tone == preferred:
			best = tone
		}
	}
	return best
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
