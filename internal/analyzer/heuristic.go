package analyzer

import (
	"context"
	"math"
	"strings"

	"github.com/sells-group/negotiator/internal/model"
)

// Heuristic is the deterministic keyword and lexicon analyzer. Its estimates
// are approximations; the orchestrator gates on the confidence it reports.
type Heuristic struct {
	maxMessages int
	competitors []string
}

// NewHeuristic returns a heuristic analyzer.
func NewHeuristic(opts Options) *Heuristic {
	competitors := append([]string(nil), competitorTerms...)
	for _, t := range opts.CompetitorTerms {
		if n := strings.TrimSpace(normalize(t)); n != "" {
			competitors = append(competitors, n)
		}
	}
	return &Heuristic{maxMessages: opts.MaxMessages, competitors: competitors}
}

// Analyze implements ContextAnalyzer.
func (h *Heuristic) Analyze(ctx context.Context, messages []model.Message, settings *model.CompanySettings) (*model.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc := h.AnalyzeState(messages, settings)
	strategy := GenerateStrategy(nc)
	return &model.Analysis{
		Context:  nc,
		Strategy: strategy,
		Summary:  Summarize(nc, strategy),
		Source:   "heuristic",
	}, nil
}

// AnalyzeState builds the negotiation context for a thread.
func (h *Heuristic) AnalyzeState(messages []model.Message, settings *model.CompanySettings) model.NegotiationContext {
	messages = trimMessages(messages, h.maxMessages)

	normalized := make([]string, len(messages))
	trend := make([]float64, len(messages))
	for i, m := range messages {
		normalized[i] = normalize(m.Content)
		trend[i] = sentimentScore(normalized[i])
	}

	var influencerText strings.Builder
	var requested float64
	var influencerMsgs, companyMsgs, influencerWords int
	for i, m := range messages {
		if m.Role == model.RoleInfluencer {
			influencerMsgs++
			influencerText.WriteString(normalized[i])
			influencerWords += len(strings.Fields(normalized[i]))
			if amt := extractAmount(m.Content); amt > 0 {
				requested = amt
			}
		} else {
			companyMsgs++
		}
	}
	fromInfluencer := influencerText.String()
	all := strings.Join(normalized, "")

	nc := model.NegotiationContext{
		CurrentStage:    detectStage(messages, normalized),
		SentimentTrend:  trend,
		KeyConcerns:     []string{},
		Opportunities:   []string{},
		Risks:           []string{},
		MessageCount:    len(messages),
		RequestedAmount: requested,
		EngagementRate:  engagementRate(influencerMsgs, companyMsgs),
	}
	if settings != nil {
		nc.CompanyGoals = model.CompanyGoals{
			TargetAmount:  settings.TargetAmount,
			BudgetMin:     settings.BudgetMin,
			BudgetMax:     settings.BudgetMax,
			PreferredTone: settings.PreferredTone,
			Goal:          settings.Goal,
		}
	}
	if nc.CompanyGoals.Goal == "" {
		nc.CompanyGoals.Goal = model.GoalClosureRate
	}

	for _, c := range concernLabels {
		if containsAny(fromInfluencer, c.keywords) {
			nc.KeyConcerns = append(nc.KeyConcerns, c.label)
		}
	}
	nc.CompetitorMentioned = containsAny(fromInfluencer, h.competitors)

	overBudget := requested > 0 && nc.CompanyGoals.BudgetMax > 0 && requested > nc.CompanyGoals.BudgetMax
	priceHits := countHits(fromInfluencer, priceTerms)
	switch {
	case overBudget || priceHits >= 2:
		nc.BudgetSensitivity = model.LevelHigh
	case priceHits == 1:
		nc.BudgetSensitivity = model.LevelMedium
	default:
		nc.BudgetSensitivity = model.LevelLow
	}

	switch {
	case containsAny(all, urgencyTerms):
		nc.Urgency = model.LevelHigh
	case settings != nil && settings.Urgency != "":
		nc.Urgency = settings.Urgency
	default:
		nc.Urgency = model.LevelMedium
	}

	nc.InfluencerProfile = model.InfluencerProfile{
		Style:            detectStyle(fromInfluencer, messages, influencerMsgs, influencerWords),
		PriceSensitivity: nc.BudgetSensitivity,
		Responsiveness:   responsiveness(nc.EngagementRate),
	}

	latest := nc.LatestSentiment()
	if latest > 0.3 {
		nc.Opportunities = append(nc.Opportunities, "high_interest")
	}
	if influencerMsgs > 0 && nc.EngagementRate >= 0.8 {
		nc.Opportunities = append(nc.Opportunities, "responsive_influencer")
	}
	if containsAny(fromInfluencer, packageTerms) {
		nc.Opportunities = append(nc.Opportunities, "open_to_packages")
	}
	if requested > 0 && nc.CompanyGoals.BudgetMax > 0 && !overBudget {
		nc.Opportunities = append(nc.Opportunities, "within_budget")
	}

	if latest < -0.3 {
		nc.Risks = append(nc.Risks, "negative_sentiment")
	}
	if len(trend) >= 2 && trend[0]-latest > 0.4 {
		nc.Risks = append(nc.Risks, "declining_sentiment")
	}
	if nc.CompetitorMentioned {
		nc.Risks = append(nc.Risks, "competitor_offer")
	}
	if overBudget {
		nc.Risks = append(nc.Risks, "over_budget")
	}
	if trailingCompanyMessages(messages) >= 2 {
		nc.Risks = append(nc.Risks, "stalled")
	}
	return nc
}

// detectStage matches stage keywords in the influencer's part of the last
// three messages, falling back to the message count.
func detectStage(messages []model.Message, normalized []string) model.Stage {
	start := len(messages) - 3
	if start < 0 {
		start = 0
	}
	var recent strings.Builder
	quotesAmount := false
	for i := start; i < len(messages); i++ {
		if messages[i].Role == model.RoleInfluencer {
			recent.WriteString(normalized[i])
			quotesAmount = quotesAmount || extractAmount(messages[i].Content) > 0
		}
	}
	if text := recent.String(); text != "" {
		for _, sk := range stageKeywords {
			if containsAny(text, sk.keywords) {
				return sk.stage
			}
		}
		if quotesAmount {
			return model.StageConditionNegotiation
		}
	}

	switch n := len(messages); {
	case n <= 1:
		return model.StageInitialContact
	case n <= 3:
		return model.StageInterestConfirmation
	case n <= 6:
		return model.StageConditionNegotiation
	default:
		return model.StageFinalAgreement
	}
}

func detectStyle(text string, messages []model.Message, influencerMsgs, influencerWords int) string {
	if influencerMsgs == 0 {
		return "unknown"
	}
	exclamations := 0
	for _, m := range messages {
		if m.Role == model.RoleInfluencer {
			exclamations += strings.Count(m.Content, "!")
		}
	}
	switch {
	case containsAny(text, formalTerms):
		return "formal"
	case exclamations >= influencerMsgs:
		return "enthusiastic"
	case influencerWords/influencerMsgs < 12:
		return "terse"
	default:
		return "casual"
	}
}

// engagementRate is influencer replies per company message, capped at 1.
func engagementRate(influencer, company int) float64 {
	if influencer == 0 {
		return 0
	}
	if company == 0 {
		return 1
	}
	return math.Min(float64(influencer)/float64(company), 1)
}

func responsiveness(rate float64) model.Level {
	switch {
	case rate >= 0.6:
		return model.LevelHigh
	case rate >= 0.3:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func trailingCompanyMessages(messages []model.Message) int {
	n := 0
	for i := len(messages) - 1; i >= 0 && messages[i].Role != model.RoleInfluencer; i-- {
		n++
	}
	return n
}

type baseStrategy struct {
	approach    string
	tone        string
	urgency     model.Level
	keyMessages []string
	nextAction  string
}

var stageStrategies = map[model.Stage]baseStrategy{
	model.StageInitialContact: {
		"introduce", "friendly", model.LevelLow,
		[]string{"introduce the brand and campaign", "explain why the creator is a fit"},
		"send_introduction",
	},
	model.StageInterestConfirmation: {
		"qualify", "enthusiastic", model.LevelMedium,
		[]string{"confirm availability and interest", "outline the campaign deliverables"},
		"share_campaign_brief",
	},
	model.StageConditionNegotiation: {
		"negotiate", "professional", model.LevelMedium,
		[]string{"anchor on the value of the campaign", "propose a rate within budget"},
		"propose_terms",
	},
	model.StageFinalAgreement: {
		"close", "professional", model.LevelHigh,
		[]string{"summarize the agreed terms", "send the contract for signature"},
		"send_contract",
	},
	model.StageCompleted: {
		"maintain", "friendly", model.LevelLow,
		[]string{"confirm next steps and kickoff date"},
		"confirm_kickoff",
	},
	model.StageFailed: {
		"close_out", "professional", model.LevelLow,
		[]string{"thank them for their time", "leave the door open for future campaigns"},
		"archive",
	},
}

// GenerateStrategy picks the stage's base strategy, adjusts it for the
// latest sentiment and estimates the chance of success.
func GenerateStrategy(nc model.NegotiationContext) model.NegotiationStrategy {
	base, ok := stageStrategies[nc.CurrentStage]
	if !ok {
		base = stageStrategies[model.StageInitialContact]
	}
	s := model.NegotiationStrategy{
		Approach:    base.approach,
		Tone:        base.tone,
		Urgency:     base.urgency,
		KeyMessages: append([]string(nil), base.keyMessages...),
		NextAction:  base.nextAction,
	}

	switch latest := nc.LatestSentiment(); {
	case latest < -0.5:
		s.Tone = "empathetic"
		s.Urgency = lowerLevel(s.Urgency)
		s.KeyMessages = append(s.KeyMessages, "acknowledge their concerns")
	case latest > 0.5:
		s.Urgency = raiseLevel(s.Urgency)
	}

	s.SuccessProbability = clamp(0.5+0.1*float64(len(nc.Opportunities))-0.15*float64(len(nc.Risks)), 0.1, 0.9)
	return s
}

var riskActions = map[string]string{
	"negative_sentiment":  "acknowledge concerns before pushing terms",
	"declining_sentiment": "check in on open concerns",
	"competitor_offer":    "differentiate from the competing offer",
	"over_budget":         "review the budget ceiling before countering",
	"stalled":             "send a short follow-up",
}

// Summarize derives the decision inputs for the orchestrator.
func Summarize(nc model.NegotiationContext, s model.NegotiationStrategy) model.PredictiveSummary {
	latest := nc.LatestSentiment()

	confidence := 0.5
	if nc.MessageCount >= 3 {
		confidence += 0.1
	}
	if latest > 0.3 {
		confidence += 0.1
	}
	if latest < -0.3 {
		confidence -= 0.15
	}
	confidence += 0.05*float64(len(nc.Opportunities)) - 0.1*float64(len(nc.Risks))
	confidence = clamp(confidence, 0.05, 0.95)

	risk := 0.15*float64(len(nc.Risks)) + 0.4*math.Max(0, -latest)
	if nc.BudgetSensitivity == model.LevelHigh {
		risk += 0.1
	}
	risk = clamp(risk, 0, 1)

	actions := []string{s.NextAction}
	for _, r := range nc.Risks {
		if a, ok := riskActions[r]; ok {
			actions = append(actions, a)
		}
	}
	return model.PredictiveSummary{
		Confidence:         confidence,
		RiskScore:          risk,
		RiskLevel:          model.RiskLevelFor(risk),
		RecommendedActions: actions,
	}
}

func lowerLevel(l model.Level) model.Level {
	switch l {
	case model.LevelHigh:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func raiseLevel(l model.Level) model.Level {
	switch l {
	case model.LevelLow:
		return model.LevelMedium
	default:
		return model.LevelHigh
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
