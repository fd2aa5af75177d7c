package optimizer

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
)

const (
	defaultDurationHours   = 72
	failureShareRisk       = 0.3
	longNegotiationRounds  = 5
	strongSuccessThreshold = 0.7
)

// PredictNegotiationOutcome estimates how a proposed action will play out
// from the patterns nearest to the thread's context. Without history, or
// when the lookup fails, it returns a conservative default.
func (e *Engine) PredictNegotiationOutcome(ctx context.Context, state *model.ThreadState, action model.ProposedAction) *model.Prediction {
	q := model.PatternQuery{Tone: action.Tone}
	var budget model.BudgetRange
	if state != nil {
		q.InfluencerCategory = state.Terms.InfluencerCategory
		q.ProductCategory = state.Terms.ProductCategory
		budget = model.BudgetRange{Min: state.Terms.BudgetMin, Max: state.Terms.BudgetMax}
		q.BudgetRange = budget
	}

	nearby, err := e.patterns.FindNearby(ctx, q, 0)
	if err != nil {
		e.log.Warn("pattern lookup failed, using default prediction", zap.Error(err))
		nearby = nil
	}
	if len(nearby) == 0 {
		value := action.OfferAmount
		if value <= 0 {
			value = budget.Midpoint()
		}
		return &model.Prediction{
			SuccessProbability:    0.5,
			ExpectedDealValue:     value,
			ExpectedDurationHours: defaultDurationHours,
			ConfidenceLevel:       0,
			RiskFactors:           []string{"insufficient historical data"},
			OpportunityFactors:    []string{},
		}
	}

	var weightSum, success, value, duration float64
	var failures int
	toneWorked := false
	for _, sp := range nearby {
		w := sp.Similarity
		p := sp.Pattern
		weightSum += w
		success += w * p.SuccessRate
		value += w * p.SuccessMetrics.DealValue
		duration += w * p.SuccessMetrics.NegotiationDurationHours
		if p.PatternType == model.PatternFailure {
			failures++
		}
		if action.Tone != "" && p.Context.NegotiationTone == action.Tone && p.PatternType == model.PatternSuccess {
			toneWorked = true
		}
	}
	if weightSum == 0 {
		weightSum = 1
	}

	pred := &model.Prediction{
		SuccessProbability:    clamp(success/weightSum, 0, 1),
		ExpectedDealValue:     value / weightSum,
		ExpectedDurationHours: duration / weightSum,
		ConfidenceLevel:       math.Min(float64(len(nearby))/5, 1),
		PatternCount:          len(nearby),
		RiskFactors:           []string{},
		OpportunityFactors:    []string{},
	}

	if float64(failures)/float64(len(nearby)) > failureShareRisk {
		pred.RiskFactors = append(pred.RiskFactors, "high failure rate nearby")
	}
	if state != nil && state.RoundNumber > longNegotiationRounds {
		pred.RiskFactors = append(pred.RiskFactors, "negotiation running long")
	}
	if budget.Max > 0 && action.OfferAmount > budget.Max {
		pred.RiskFactors = append(pred.RiskFactors, "offer exceeds budget")
	}
	if len(nearby) < 3 {
		pred.RiskFactors = append(pred.RiskFactors, "few comparable negotiations")
	}

	if pred.SuccessProbability >= strongSuccessThreshold {
		pred.OpportunityFactors = append(pred.OpportunityFactors, "strong track record for similar deals")
	}
	if toneWorked {
		pred.OpportunityFactors = append(pred.OpportunityFactors, "tone has succeeded with similar influencers")
	}
	if state != nil && action.Timing == model.TimingImmediate && state.HasNewResponse() {
		pred.OpportunityFactors = append(pred.OpportunityFactors, "momentum from a recent reply")
	}
	return pred
}
