package optimizer

import (
	"github.com/sells-group/negotiator/internal/model"
)

// GetAdaptiveRecommendations evaluates the live signals against a fixed
// rule table and returns every recommendation that fires, in table order.
func GetAdaptiveRecommendations(state *model.ThreadState, signals model.RealTimeSignals) []model.Recommendation {
	recs := []model.Recommendation{}

	if signals.Sentiment < -0.3 {
		recs = append(recs, model.Recommendation{
			Type:     "tone_adjustment",
			Action:   "Soften the tone and acknowledge their concerns before restating the offer",
			Priority: model.LevelHigh,
			Reason:   "negative sentiment detected",
		})
	}
	if signals.Sentiment > 0.5 {
		recs = append(recs, model.Recommendation{
			Type:     "momentum",
			Action:   "Push forward with concrete terms while the conversation is positive",
			Priority: model.LevelMedium,
			Reason:   "strongly positive sentiment",
		})
	}
	if state != nil && state.Stage == model.StageConditionNegotiation && signals.BudgetSensitivity == model.LevelHigh {
		recs = append(recs, model.Recommendation{
			Type:     "budget_flexibility",
			Action:   "Offer flexibility through value adds, payment split or adjusted deliverables",
			Priority: model.LevelHigh,
			Reason:   "price is the main sticking point during condition negotiation",
		})
	}
	if signals.Urgency == model.LevelHigh {
		recs = append(recs, model.Recommendation{
			Type:     "timing",
			Action:   "Accelerate the decision with a clear deadline and a simple next step",
			Priority: model.LevelMedium,
			Reason:   "high urgency",
		})
	}
	if signals.CompetitorMentioned {
		recs = append(recs, model.Recommendation{
			Type:     "differentiation",
			Action:   "Differentiate the offer on brand fit, creative freedom and long-term partnership",
			Priority: model.LevelHigh,
			Reason:   "competitor mentioned",
		})
	}
	return recs
}
