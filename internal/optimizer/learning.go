package optimizer

import (
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
)

// WeightUpdateRule turns an observed success score into a new weight.
// Results are clamped to [MinWeight, MaxWeight] by the engine.
type WeightUpdateRule interface {
	Update(weight, success float64) float64
}

// BanditRule nudges a weight towards outcomes that beat a coin flip.
type BanditRule struct {
	LearningRate float64
}

func (r BanditRule) Update(weight, success float64) float64 {
	return weight + r.LearningRate*(success-0.5)
}

// SuccessScore rates an outcome in [0, 1]: closing is worth 0.5,
// satisfaction up to 0.3 and beating the expected duration 0.2.
func SuccessScore(o model.NegotiationOutcome) float64 {
	var score float64
	if o.DealClosed {
		score += 0.5
	}
	score += 0.3 * clamp(o.SatisfactionScore, 0, 1)
	if o.ExpectedDurationHours > 0 && o.DurationHours > 0 && o.DurationHours < o.ExpectedDurationHours {
		score += 0.2
	}
	return score
}

// UpdateStrategyWeights applies the update rule to the tone and timing the
// outcome's strategy used and returns the new table. Unknown names start
// from a neutral 1.0.
func (e *Engine) UpdateStrategyWeights(outcome model.NegotiationOutcome, used model.AppliedStrategy) model.OptimizationWeights {
	success := SuccessScore(outcome)

	e.mu.Lock()
	defer e.mu.Unlock()

	update := func(table map[string]float64, name string) {
		if name == "" {
			return
		}
		w, ok := table[name]
		if !ok {
			w = 1.0
		}
		table[name] = clamp(e.rule.Update(w, success), MinWeight, MaxWeight)
	}
	update(e.weights.ToneWeights, used.Tone)
	update(e.weights.TimingWeights, used.Timing)

	e.log.Debug("weights updated",
		zap.String("thread_id", outcome.ThreadID),
		zap.String("tone", used.Tone),
		zap.String("timing", used.Timing),
		zap.Float64("success_score", success),
	)
	return e.weights.Clone()
}
