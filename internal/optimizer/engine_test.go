package optimizer

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/store"
)

type mockPatterns struct {
	mock.Mock
}

func (m *mockPatterns) GetBestStrategy(ctx context.Context, q model.PatternQuery) (*model.BestStrategy, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BestStrategy), args.Error(1)
}

func (m *mockPatterns) FindNearby(ctx context.Context, q model.PatternQuery, minSimilarity float64) ([]model.ScoredPattern, error) {
	args := m.Called(ctx, q, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScoredPattern), args.Error(1)
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(42, 7))
}

func situation() Situation {
	return Situation{
		Query: model.PatternQuery{
			InfluencerCategory: "beauty",
			ProductCategory:    "skincare",
			BudgetRange:        model.BudgetRange{Min: 1000, Max: 2000},
		},
		Urgency:           model.LevelHigh,
		BudgetSensitivity: model.LevelLow,
		EngagementRate:    0.5,
		RequestedAmount:   1500,
	}
}

func outcome(tone string, closed bool) model.NegotiationOutcome {
	o := model.NegotiationOutcome{
		ThreadID:     "t-" + tone,
		DealClosed:   closed,
		StrategyUsed: model.AppliedStrategy{Tone: tone, Timing: model.TimingWithinHour},
	}
	if closed {
		o.SatisfactionScore = 0.9
		o.DealValue = 1500
		o.DurationHours = 24
	}
	return o
}

func TestDefaultWeights_WithinBounds(t *testing.T) {
	w := DefaultWeights()
	for _, table := range []map[string]float64{w.ToneWeights, w.TimingWeights, w.FlexibilityWeights} {
		require.NotEmpty(t, table)
		for name, v := range table {
			assert.GreaterOrEqual(t, v, MinWeight, name)
			assert.LessOrEqual(t, v, MaxWeight, name)
		}
	}
}

func TestOptimizeStrategy_Exploit(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("GetBestStrategy", mock.Anything, situation().Query).Return(&model.BestStrategy{
		Approach:        "friendly",
		KeyPhrases:      []string{"long-term partnership"},
		ExpectedRounds:  3,
		Confidence:      0.8,
		SourcePatternID: "pat_1",
	}, nil)

	e := New(patterns, nil, Options{ExplorationRate: 0, Rand: seeded()})
	history := []model.NegotiationOutcome{
		outcome("casual", true), outcome("casual", true),
		outcome("friendly", false), outcome("friendly", false),
	}

	got, err := e.OptimizeStrategy(context.Background(), situation(), history, model.GoalClosureRate)
	require.NoError(t, err)

	assert.False(t, got.Explored)
	assert.Equal(t, "casual", got.Tone)
	assert.Equal(t, model.TimingImmediate, got.OptimalTiming)
	assert.Equal(t, model.BudgetFirm, got.BudgetApproach)
	assert.Len(t, got.Tactics, 3)
	assert.Equal(t, "pat_1", got.Base.SourcePatternID)
	assert.InDelta(t, 0.8, got.ToneScores["casual"], 1e-9)
	assert.InDelta(t, 0.0, got.ToneScores["friendly"], 1e-9)

	// 0.3*(0.8/2) + 0.4*0.5 + 0.3*1
	assert.InDelta(t, 0.62, got.Prediction.DealClosureProbability, 1e-9)
	assert.Equal(t, 3, got.Prediction.ExpectedNegotiationRounds)
	assert.InDelta(t, 0.48, got.Prediction.ConfidenceInterval.Low, 1e-9)
	assert.InDelta(t, 0.76, got.Prediction.ConfidenceInterval.High, 1e-9)

	applied := got.Applied()
	assert.Equal(t, "casual", applied.Tone)
	assert.Equal(t, "pat_1", applied.SourcePatternID)
	patterns.AssertExpectations(t)
}

func TestOptimizeStrategy_TiesPreferBaseApproach(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("GetBestStrategy", mock.Anything, mock.Anything).Return(&model.BestStrategy{Approach: "professional", ExpectedRounds: 2, Confidence: 0.9}, nil)

	e := New(patterns, nil, Options{ExplorationRate: 0, Rand: seeded()})
	got, err := e.OptimizeStrategy(context.Background(), situation(), nil, model.GoalSatisfaction)
	require.NoError(t, err)

	// balanced, friendly and professional tie at 0.5 * 1.0.
	assert.Equal(t, "professional", got.Tone)
	assert.Equal(t, model.GoalSatisfaction, got.Goal)
}

func TestOptimizeStrategy_AlwaysExplore(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("GetBestStrategy", mock.Anything, mock.Anything).Return(nil, errors.New("store down"))

	e := New(patterns, nil, Options{ExplorationRate: 1, Rand: seeded()})
	got, err := e.OptimizeStrategy(context.Background(), Situation{}, nil, "")
	require.NoError(t, err)

	assert.True(t, got.Explored)
	assert.Contains(t, DefaultWeights().ToneWeights, got.Tone)
	assert.Equal(t, model.GoalClosureRate, got.Goal)
	assert.Equal(t, model.ToneBalanced, got.Base.Approach)
	assert.Equal(t, model.TimingWithinHour, got.OptimalTiming)
	assert.Equal(t, model.BudgetModerate, got.BudgetApproach)
	assert.Equal(t, 3, got.Prediction.ExpectedNegotiationRounds)
}

func TestOptimizeStrategy_ExplorationRate(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("GetBestStrategy", mock.Anything, mock.Anything).Return(&model.BestStrategy{Approach: "friendly", ExpectedRounds: 3, Confidence: 0.5}, nil)

	e := New(patterns, nil, Options{ExplorationRate: 0.2, Rand: seeded()})
	explored := 0
	const runs = 2000
	for i := 0; i < runs; i++ {
		got, err := e.OptimizeStrategy(context.Background(), situation(), nil, model.GoalClosureRate)
		require.NoError(t, err)
		if got.Explored {
			explored++
		}
	}
	share := float64(explored) / runs
	assert.InDelta(t, 0.2, share, 0.05)
}

func TestOptimizeStrategy_HighBudgetSensitivity(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("GetBestStrategy", mock.Anything, mock.Anything).Return(&model.BestStrategy{Approach: "friendly", ExpectedRounds: 3, Confidence: 1}, nil)

	sit := situation()
	sit.BudgetSensitivity = model.LevelHigh
	sit.RequestedAmount = 4000

	e := New(patterns, nil, Options{ExplorationRate: 0, Rand: seeded()})
	got, err := e.OptimizeStrategy(context.Background(), sit, nil, model.GoalClosureRate)
	require.NoError(t, err)

	assert.Equal(t, model.BudgetFlexible, got.BudgetApproach)
	assert.Equal(t, 4, got.Prediction.ExpectedNegotiationRounds)
	// friendly wins the tie; 0.3*0.5 + 0.4*0.5 + 0.3*(2000/4000)
	assert.InDelta(t, 0.5, got.Prediction.DealClosureProbability, 1e-9)
	assert.InDelta(t, 0.4, got.Prediction.ConfidenceInterval.Low, 1e-9)
}

func TestTonePerformance(t *testing.T) {
	history := []model.NegotiationOutcome{
		{StrategyUsed: model.AppliedStrategy{Tone: "friendly"}, DealClosed: true, DealValue: 1000, DurationHours: 24, SatisfactionScore: 0.8},
		{StrategyUsed: model.AppliedStrategy{Tone: "friendly"}, DealClosed: false, DealValue: 0, DurationHours: 72, SatisfactionScore: 0.2},
		{StrategyUsed: model.AppliedStrategy{Tone: "casual"}, DealClosed: true, DealValue: 2000, DurationHours: 48, SatisfactionScore: 1.0},
		{DealClosed: true, DealValue: 5000},
	}

	tests := []struct {
		goal             model.Goal
		friendly, casual float64
	}{
		{model.GoalClosureRate, 0.5, 1.0},
		{model.GoalDealValue, 0.1, 0.4},
		{model.GoalSpeed, (0.5 + 0.25) / 2, 1.0 / 3.0},
		{model.GoalSatisfaction, 0.5, 1.0},
	}
	for _, tt := range tests {
		t.Run(string(tt.goal), func(t *testing.T) {
			perf := TonePerformance(history, tt.goal)
			assert.Len(t, perf, 2)
			assert.InDelta(t, tt.friendly, perf["friendly"], 1e-9)
			assert.InDelta(t, tt.casual, perf["casual"], 1e-9)
		})
	}
}

func TestTimingAndBudgetMapping(t *testing.T) {
	assert.Equal(t, model.TimingImmediate, TimingFor(model.LevelHigh))
	assert.Equal(t, model.TimingWithinHour, TimingFor(model.LevelMedium))
	assert.Equal(t, model.TimingWithinHour, TimingFor(""))
	assert.Equal(t, model.TimingNextDay, TimingFor(model.LevelLow))

	assert.Equal(t, model.BudgetFlexible, BudgetApproachFor(model.LevelHigh))
	assert.Equal(t, model.BudgetModerate, BudgetApproachFor(model.LevelMedium))
	assert.Equal(t, model.BudgetFirm, BudgetApproachFor(model.LevelLow))
}

func TestSuccessScore(t *testing.T) {
	tests := []struct {
		name string
		o    model.NegotiationOutcome
		want float64
	}{
		{"nothing", model.NegotiationOutcome{}, 0},
		{"closed only", model.NegotiationOutcome{DealClosed: true}, 0.5},
		{"closed, satisfied, fast", model.NegotiationOutcome{DealClosed: true, SatisfactionScore: 1, DurationHours: 10, ExpectedDurationHours: 24}, 1.0},
		{"slow", model.NegotiationOutcome{DealClosed: true, SatisfactionScore: 0.5, DurationHours: 30, ExpectedDurationHours: 24}, 0.65},
		{"satisfaction clamped", model.NegotiationOutcome{SatisfactionScore: 3}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SuccessScore(tt.o), 1e-9)
		})
	}
}

func TestUpdateStrategyWeights(t *testing.T) {
	e := New(new(mockPatterns), nil, Options{Rand: seeded()})
	used := model.AppliedStrategy{Tone: "friendly", Timing: model.TimingImmediate}

	w := e.UpdateStrategyWeights(model.NegotiationOutcome{DealClosed: true, SatisfactionScore: 1, DurationHours: 5, ExpectedDurationHours: 24}, used)
	assert.InDelta(t, 1.05, w.ToneWeights["friendly"], 1e-9)
	assert.InDelta(t, 1.05, w.TimingWeights[model.TimingImmediate], 1e-9)
	assert.InDelta(t, 0.8, w.ToneWeights["casual"], 1e-9)

	w = e.UpdateStrategyWeights(model.NegotiationOutcome{}, used)
	assert.InDelta(t, 1.0, w.ToneWeights["friendly"], 1e-9)

	// Snapshots are independent of the engine's table.
	w.ToneWeights["friendly"] = 99
	assert.InDelta(t, 1.0, e.Weights().ToneWeights["friendly"], 1e-9)

	w = e.UpdateStrategyWeights(model.NegotiationOutcome{DealClosed: true}, model.AppliedStrategy{Tone: "witty"})
	assert.InDelta(t, 1.0, w.ToneWeights["witty"], 1e-9)
}

func TestUpdateStrategyWeights_Clamped(t *testing.T) {
	e := New(new(mockPatterns), nil, Options{LearningRate: 0.5, Rand: seeded()})
	win := model.NegotiationOutcome{DealClosed: true, SatisfactionScore: 1, DurationHours: 1, ExpectedDurationHours: 2}
	lose := model.NegotiationOutcome{}

	for i := 0; i < 50; i++ {
		e.UpdateStrategyWeights(win, model.AppliedStrategy{Tone: "friendly", Timing: model.TimingNextDay})
		e.UpdateStrategyWeights(lose, model.AppliedStrategy{Tone: "casual", Timing: model.TimingImmediate})
	}
	w := e.Weights()
	assert.InDelta(t, MaxWeight, w.ToneWeights["friendly"], 1e-9)
	assert.InDelta(t, MaxWeight, w.TimingWeights[model.TimingNextDay], 1e-9)
	assert.InDelta(t, MinWeight, w.ToneWeights["casual"], 1e-9)
	assert.InDelta(t, MinWeight, w.TimingWeights[model.TimingImmediate], 1e-9)
}

type doubleRule struct{}

func (doubleRule) Update(weight, _ float64) float64 { return weight * 2 }

func TestUpdateStrategyWeights_CustomRule(t *testing.T) {
	e := New(new(mockPatterns), nil, Options{Rule: doubleRule{}, Rand: seeded()})

	w := e.UpdateStrategyWeights(model.NegotiationOutcome{}, model.AppliedStrategy{Tone: "casual"})
	assert.InDelta(t, 1.6, w.ToneWeights["casual"], 1e-9)

	w = e.UpdateStrategyWeights(model.NegotiationOutcome{}, model.AppliedStrategy{Tone: "casual"})
	assert.InDelta(t, MaxWeight, w.ToneWeights["casual"], 1e-9)
}

func TestSaveAndLoadWeights(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "weights.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	e := New(new(mockPatterns), st, Options{Rand: seeded()})
	require.NoError(t, e.LoadWeights(ctx)) // nothing persisted yet
	e.UpdateStrategyWeights(model.NegotiationOutcome{DealClosed: true, SatisfactionScore: 1}, model.AppliedStrategy{Tone: "casual"})
	require.NoError(t, e.SaveWeights(ctx))

	reloaded := New(new(mockPatterns), st, Options{Rand: seeded()})
	require.NoError(t, reloaded.LoadWeights(ctx))
	assert.Equal(t, e.Weights(), reloaded.Weights())

	// Out of range values are clamped on load.
	bad := DefaultWeights()
	bad.ToneWeights["casual"] = 7
	require.NoError(t, st.Set(ctx, store.CollectionWeights, "global", bad, false))
	require.NoError(t, reloaded.LoadWeights(ctx))
	assert.InDelta(t, MaxWeight, reloaded.Weights().ToneWeights["casual"], 1e-9)
}

func TestGetAdaptiveRecommendations(t *testing.T) {
	state := &model.ThreadState{Stage: model.StageConditionNegotiation}

	recs := GetAdaptiveRecommendations(state, model.RealTimeSignals{
		Sentiment:           -0.6,
		Urgency:             model.LevelHigh,
		BudgetSensitivity:   model.LevelHigh,
		CompetitorMentioned: true,
	})
	types := make([]string, 0, len(recs))
	for _, r := range recs {
		types = append(types, r.Type)
	}
	assert.Equal(t, []string{"tone_adjustment", "budget_flexibility", "timing", "differentiation"}, types)
	assert.Equal(t, model.LevelHigh, recs[0].Priority)
	assert.Equal(t, model.LevelMedium, recs[2].Priority)

	recs = GetAdaptiveRecommendations(&model.ThreadState{Stage: model.StageInitialContact}, model.RealTimeSignals{
		Sentiment:         0.7,
		BudgetSensitivity: model.LevelHigh,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, "momentum", recs[0].Type)
	assert.Equal(t, model.LevelMedium, recs[0].Priority)

	assert.Empty(t, GetAdaptiveRecommendations(nil, model.RealTimeSignals{}))
}

func TestPredictNegotiationOutcome_NoHistory(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("FindNearby", mock.Anything, mock.Anything, 0.0).Return([]model.ScoredPattern{}, nil)

	e := New(patterns, nil, Options{Rand: seeded()})
	state := &model.ThreadState{Terms: model.Terms{BudgetMin: 1000, BudgetMax: 3000}}
	got := e.PredictNegotiationOutcome(context.Background(), state, model.ProposedAction{Tone: "friendly"})

	assert.InDelta(t, 0.5, got.SuccessProbability, 1e-9)
	assert.InDelta(t, 2000.0, got.ExpectedDealValue, 1e-9)
	assert.InDelta(t, 72.0, got.ExpectedDurationHours, 1e-9)
	assert.Zero(t, got.ConfidenceLevel)
	assert.Equal(t, []string{"insufficient historical data"}, got.RiskFactors)
}

func TestPredictNegotiationOutcome_LookupErrorDegrades(t *testing.T) {
	patterns := new(mockPatterns)
	patterns.On("FindNearby", mock.Anything, mock.Anything, 0.0).Return(nil, errors.New("boom"))

	e := New(patterns, nil, Options{Rand: seeded()})
	got := e.PredictNegotiationOutcome(context.Background(), nil, model.ProposedAction{OfferAmount: 800})
	assert.InDelta(t, 0.5, got.SuccessProbability, 1e-9)
	assert.InDelta(t, 800.0, got.ExpectedDealValue, 1e-9)
}

func TestPredictNegotiationOutcome_Weighted(t *testing.T) {
	nearby := []model.ScoredPattern{
		{Similarity: 1.0, Pattern: model.NegotiationPattern{
			PatternType:    model.PatternSuccess,
			SuccessRate:    1.0,
			Context:        model.PatternContext{NegotiationTone: "friendly"},
			SuccessMetrics: model.SuccessMetrics{DealValue: 2000, NegotiationDurationHours: 24},
		}},
		{Similarity: 0.5, Pattern: model.NegotiationPattern{
			PatternType:    model.PatternFailure,
			SuccessRate:    0,
			SuccessMetrics: model.SuccessMetrics{DealValue: 500, NegotiationDurationHours: 96},
		}},
	}
	patterns := new(mockPatterns)
	patterns.On("FindNearby", mock.Anything, model.PatternQuery{
		InfluencerCategory: "beauty",
		BudgetRange:        model.BudgetRange{Max: 1500},
		Tone:               "friendly",
	}, 0.0).Return(nearby, nil)

	sent := time.Now().Add(-2 * time.Hour)
	replied := time.Now()
	state := &model.ThreadState{
		RoundNumber:          6,
		LastMessageSent:      &sent,
		LastResponseReceived: &replied,
		Terms:                model.Terms{InfluencerCategory: "beauty", BudgetMax: 1500},
	}

	e := New(patterns, nil, Options{Rand: seeded()})
	got := e.PredictNegotiationOutcome(context.Background(), state, model.ProposedAction{
		Tone:        "friendly",
		Timing:      model.TimingImmediate,
		OfferAmount: 1800,
	})

	assert.InDelta(t, 1.0/1.5, got.SuccessProbability, 1e-9)
	assert.InDelta(t, 2250.0/1.5, got.ExpectedDealValue, 1e-9)
	assert.InDelta(t, 72.0/1.5, got.ExpectedDurationHours, 1e-9)
	assert.InDelta(t, 0.4, got.ConfidenceLevel, 1e-9)
	assert.Equal(t, 2, got.PatternCount)
	assert.Equal(t, []string{
		"high failure rate nearby",
		"negotiation running long",
		"offer exceeds budget",
		"few comparable negotiations",
	}, got.RiskFactors)
	assert.Equal(t, []string{
		"tone has succeeded with similar influencers",
		"momentum from a recent reply",
	}, got.OpportunityFactors)
	patterns.AssertExpectations(t)
}
