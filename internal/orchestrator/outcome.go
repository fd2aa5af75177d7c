package orchestrator

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/pattern"
	"github.com/sells-group/negotiator/internal/store"
	"github.com/sells-group/negotiator/internal/threadstate"
)

const (
	defaultLowSuccessRate      = 0.3
	defaultMinOutcomes         = 10
	defaultThrottledConfidence = 0.9
	hoursPerExpectedRound      = 24
)

// OptimizationReport summarizes one optimization loop pass.
type OptimizationReport struct {
	Processed   int                       `json:"processed"`
	Total       int                       `json:"total_outcomes"`
	SuccessRate float64                   `json:"success_rate"`
	Weights     model.OptimizationWeights `json:"weights"`
}

// PerformanceReport summarizes one performance check.
type PerformanceReport struct {
	Total                       int     `json:"total_outcomes"`
	Successes                   int     `json:"successes"`
	SuccessRate                 float64 `json:"success_rate"`
	Throttled                   bool    `json:"throttled"`
	DecisionConfidenceThreshold float64 `json:"decision_confidence_threshold"`
}

// RecordOutcome closes a negotiation with a known result. The thread's
// stage follows the outcome, the pattern for its context is merged, the
// pattern its strategy came from is scored and the outcome is queued for
// the next optimization pass.
func (o *Orchestrator) RecordOutcome(ctx context.Context, oc model.NegotiationOutcome) (*model.NegotiationOutcome, error) {
	if oc.ThreadID == "" {
		return nil, eris.New("orchestrator: outcome needs a thread id")
	}
	switch oc.Outcome {
	case model.OutcomeDealClosed, model.OutcomePriceAgreed, model.OutcomeFailed, model.OutcomeEscalated, model.OutcomeExpired:
	default:
		return nil, eris.Errorf("orchestrator: outcome %q cannot be recorded", oc.Outcome)
	}

	state, err := o.deps.Threads.GetState(ctx, oc.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := o.close(ctx, state, oc.Outcome); err != nil {
		return nil, err
	}
	if state, err = o.deps.Threads.GetState(ctx, oc.ThreadID); err != nil {
		return nil, err
	}
	return o.recordOutcome(ctx, state, oc)
}

// close moves a thread to the stage and status matching outcome.
func (o *Orchestrator) close(ctx context.Context, state *model.ThreadState, outcome model.Outcome) error {
	if state.Status.Terminal() {
		return nil
	}
	switch {
	case outcome.Agreed():
		stage := state.Stage
		for stage != model.StageCompleted {
			next, ok := stage.Next()
			if !ok {
				break
			}
			if _, err := o.deps.Threads.AdvanceStage(ctx, state.ThreadID, next); err != nil {
				return err
			}
			stage = next
		}
	case outcome == model.OutcomeFailed:
		if _, err := o.deps.Threads.AdvanceStage(ctx, state.ThreadID, model.StageFailed); err != nil {
			return err
		}
	case outcome == model.OutcomeExpired:
		if _, err := o.deps.Threads.UpdateState(ctx, state.ThreadID, model.ThreadPatch{
			Status: model.Ptr(model.ThreadStatusExpired),
		}, false); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) recordOutcome(ctx context.Context, state *model.ThreadState, oc model.NegotiationOutcome) (*model.NegotiationOutcome, error) {
	now := o.now()
	agreed := oc.Outcome.Agreed()

	oc.UserID = state.UserID
	oc.DealClosed = oc.DealClosed || oc.Outcome == model.OutcomeDealClosed
	if oc.Rounds <= 0 {
		oc.Rounds = state.RoundNumber
	}
	if oc.DurationHours <= 0 {
		end := now
		if state.CompletedAt != nil {
			end = *state.CompletedAt
		} else if state.FailedAt != nil {
			end = *state.FailedAt
		}
		oc.DurationHours = end.Sub(state.CreatedAt).Hours()
	}
	if oc.StrategyUsed == (model.AppliedStrategy{}) && state.Strategy != nil {
		oc.StrategyUsed = *state.Strategy
	}
	if oc.ExpectedDurationHours <= 0 && oc.StrategyUsed.ExpectedRounds > 0 {
		oc.ExpectedDurationHours = float64(oc.StrategyUsed.ExpectedRounds * hoursPerExpectedRound)
	}
	if agreed && oc.DealValue <= 0 {
		oc.DealValue = state.Terms.AgreedAmount
		if oc.DealValue <= 0 {
			oc.DealValue = state.Terms.OfferedAmount
		}
	}
	oc.Processed = false
	oc.RecordedAt = now
	oc.RecordedUnix = now.Unix()

	p, err := o.deps.Patterns.RecordPattern(ctx, state.ThreadID, o.patternData(state, oc), oc.Outcome, metricsFor(state, oc))
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: record pattern for %s", state.ThreadID)
	}
	oc.PatternID = p.PatternID

	if src := oc.StrategyUsed.SourcePatternID; src != "" {
		_, err := o.deps.Patterns.UpdatePerformance(ctx, src, model.PerformanceData{
			Success:   agreed,
			DealValue: oc.DealValue,
			ThreadID:  state.ThreadID,
		})
		if err != nil && !errors.Is(err, pattern.ErrPatternNotFound) {
			o.log.Warn("failed to score source pattern", zap.String("pattern_id", src), zap.Error(err))
		}
	}

	if err := o.deps.Store.Set(ctx, store.CollectionOutcomes, state.ThreadID, oc, false); err != nil {
		return nil, eris.Wrapf(err, "orchestrator: save outcome for %s", state.ThreadID)
	}
	if _, err := o.deps.Threads.RecordEvent(ctx, state.ThreadID, model.EventOutcomeRecorded, map[string]any{
		"outcome":    string(oc.Outcome),
		"deal_value": oc.DealValue,
		"pattern_id": oc.PatternID,
	}); err != nil {
		o.log.Warn("failed to record outcome event", zap.String("thread_id", state.ThreadID), zap.Error(err))
	}

	o.leases.Drop(state.ThreadID)
	if item, err := o.openApproval(ctx, state.ThreadID); err == nil && item != nil {
		if err := o.resolve(ctx, item, "outcome recorded"); err != nil {
			o.log.Warn("failed to close approval", zap.String("thread_id", state.ThreadID), zap.Error(err))
		}
	}

	o.log.Info("outcome recorded",
		zap.String("thread_id", state.ThreadID),
		zap.String("outcome", string(oc.Outcome)),
		zap.Float64("deal_value", oc.DealValue),
		zap.String("pattern_id", oc.PatternID),
	)
	return &oc, nil
}

func (o *Orchestrator) patternData(state *model.ThreadState, oc model.NegotiationOutcome) model.PatternData {
	tone := oc.StrategyUsed.Tone
	if tone == "" {
		tone = state.Terms.Tone
	}
	data := model.PatternData{
		Context: model.PatternContext{
			InfluencerCategory: state.Terms.InfluencerCategory,
			ProductCategory:    state.Terms.ProductCategory,
			InitialBudgetRange: model.BudgetRange{Min: state.Terms.BudgetMin, Max: state.Terms.BudgetMax},
			NegotiationTone:    tone,
		},
	}
	if oc.Outcome.Agreed() {
		data.Context.FinalAgreedAmount = oc.DealValue
	}
	o.mu.Lock()
	if o.settings != nil {
		data.Context.CustomInstructions = o.settings.CustomInstructions
	}
	o.mu.Unlock()

	for _, st := range state.StageHistory {
		data.ConversationFlow = append(data.ConversationFlow, st.Stage)
	}
	for _, e := range state.EventHistory {
		if e.Type != model.EventStrategyApplied {
			continue
		}
		tone, _ := e.Data["tone"].(string)
		stage, _ := e.Data["stage"].(string)
		data.DecisionPoints = append(data.DecisionPoints, model.DecisionPoint{
			Stage:    model.Stage(stage),
			Action:   "tone:" + tone,
			Result:   string(oc.Outcome),
			Positive: oc.Outcome.Agreed(),
		})
	}
	return data
}

func metricsFor(state *model.ThreadState, oc model.NegotiationOutcome) model.SuccessMetrics {
	m := model.SuccessMetrics{
		DealValue:                oc.DealValue,
		NegotiationDurationHours: oc.DurationHours,
		RoundsCount:              float64(oc.Rounds),
		SatisfactionScore:        oc.SatisfactionScore,
	}
	if ceiling := state.Terms.BudgetMax; ceiling > 0 && oc.DealValue > 0 {
		m.BudgetEfficiency = min(1, max(0, (ceiling-oc.DealValue)/ceiling))
	}
	return m
}

// learningCycle turns closed threads that have no outcome yet into
// outcomes and patterns. Nothing is sent.
func (o *Orchestrator) learningCycle(ctx context.Context, sess session) (int, error) {
	closed, err := o.deps.Threads.ListByStatus(ctx, model.ThreadStatusCompleted)
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: list closed threads")
	}

	learned := 0
	for i := range closed {
		s := &closed[i]
		if sess.userID != "" && s.UserID != sess.userID {
			continue
		}
		doc, err := o.deps.Store.Get(ctx, store.CollectionOutcomes, s.ThreadID)
		if err != nil {
			return learned, eris.Wrap(err, "orchestrator: read outcome")
		}
		if doc != nil {
			continue
		}

		oc := model.NegotiationOutcome{ThreadID: s.ThreadID, Outcome: model.OutcomeFailed}
		if s.Stage == model.StageCompleted {
			oc.Outcome = model.OutcomeDealClosed
			oc.SatisfactionScore = min(1, max(0, (s.LastSentiment+1)/2))
		}
		if _, err := o.recordOutcome(ctx, s, oc); err != nil {
			o.log.Warn("failed to learn from thread", zap.String("thread_id", s.ThreadID), zap.Error(err))
			continue
		}
		learned++
	}
	if learned > 0 {
		o.log.Info("learning cycle recorded patterns", zap.Int("threads", learned))
	}
	return learned, nil
}

// RunOptimization feeds every unprocessed outcome to the optimizer, marks
// it processed and saves the weights.
func (o *Orchestrator) RunOptimization(ctx context.Context) (*OptimizationReport, error) {
	docs, err := o.deps.Store.Query(ctx, store.CollectionOutcomes, store.Query{
		Conditions: []store.Condition{store.Where("processed", store.OpEq, false)},
		OrderBy:    "recorded_unix",
	})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load unprocessed outcomes")
	}

	report := &OptimizationReport{}
	for _, oc := range decodeOutcomes(docs, o.log) {
		o.deps.Optimizer.UpdateStrategyWeights(oc, oc.StrategyUsed)
		if err := o.deps.Store.Set(ctx, store.CollectionOutcomes, oc.ThreadID, map[string]any{"processed": true}, true); err != nil {
			return nil, eris.Wrapf(err, "orchestrator: mark outcome %s processed", oc.ThreadID)
		}
		report.Processed++
	}
	if report.Processed > 0 {
		if err := o.deps.Optimizer.SaveWeights(ctx); err != nil {
			return nil, err
		}
	}

	total, successes, err := o.outcomeCounts(ctx)
	if err != nil {
		return nil, err
	}
	report.Total = total
	report.SuccessRate = rate(successes, total)
	report.Weights = o.deps.Optimizer.Weights()

	o.log.Info("optimization pass complete",
		zap.Int("processed", report.Processed),
		zap.Int("total_outcomes", total),
		zap.Float64("success_rate", report.SuccessRate),
	)
	return report, nil
}

// CheckPerformance raises the decision confidence threshold when the
// running success rate falls below the configured floor over enough
// negotiations. The threshold never drops back during a run.
func (o *Orchestrator) CheckPerformance(ctx context.Context) (*PerformanceReport, error) {
	total, successes, err := o.outcomeCounts(ctx)
	if err != nil {
		return nil, err
	}
	successRate := rate(successes, total)

	low := o.cfg.LowSuccessRate
	if low <= 0 {
		low = defaultLowSuccessRate
	}
	minOutcomes := o.cfg.MinOutcomesForThrottle
	if minOutcomes <= 0 {
		minOutcomes = defaultMinOutcomes
	}
	throttled := o.cfg.ThrottledConfidence
	if throttled <= 0 {
		throttled = defaultThrottledConfidence
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if total >= minOutcomes && successRate < low && o.thresholds.DecisionConfidence < throttled {
		o.log.Warn("success rate below floor, raising decision threshold",
			zap.Float64("success_rate", successRate),
			zap.Int("outcomes", total),
			zap.Float64("from", o.thresholds.DecisionConfidence),
			zap.Float64("to", throttled),
		)
		o.thresholds.DecisionConfidence = throttled
		o.throttled = true
	}
	return &PerformanceReport{
		Total:                       total,
		Successes:                   successes,
		SuccessRate:                 successRate,
		Throttled:                   o.throttled,
		DecisionConfidenceThreshold: o.thresholds.DecisionConfidence,
	}, nil
}

func (o *Orchestrator) outcomeCounts(ctx context.Context) (total, successes int, err error) {
	docs, err := o.deps.Store.Query(ctx, store.CollectionOutcomes, store.Query{})
	if err != nil {
		return 0, 0, eris.Wrap(err, "orchestrator: load outcomes")
	}
	for _, oc := range decodeOutcomes(docs, o.log) {
		total++
		if oc.DealClosed || oc.Outcome.Agreed() {
			successes++
		}
	}
	return total, successes, nil
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// Approvals lists the review queue, oldest first. Resolved items are only
// included when all is set.
func (o *Orchestrator) Approvals(ctx context.Context, all bool) ([]model.ApprovalItem, error) {
	q := store.Query{OrderBy: "created_at"}
	if !all {
		q.Conditions = []store.Condition{store.Where("resolved", store.OpEq, false)}
	}
	docs, err := o.deps.Store.Query(ctx, store.CollectionApprovals, q)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: list approvals")
	}
	items := make([]model.ApprovalItem, 0, len(docs))
	for _, d := range docs {
		var item model.ApprovalItem
		if err := d.Decode(&item); err != nil {
			o.log.Warn("skipping undecodable approval", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (o *Orchestrator) openApproval(ctx context.Context, threadID string) (*model.ApprovalItem, error) {
	doc, err := o.deps.Store.Get(ctx, store.CollectionApprovals, threadID)
	if err != nil || doc == nil {
		return nil, err
	}
	var item model.ApprovalItem
	if err := doc.Decode(&item); err != nil {
		return nil, err
	}
	if item.Resolved {
		return nil, nil
	}
	return &item, nil
}

func (o *Orchestrator) resolve(ctx context.Context, item *model.ApprovalItem, resolution string) error {
	now := o.now()
	item.Resolved = true
	item.Resolution = resolution
	item.ResolvedAt = &now
	if err := o.deps.Store.Set(ctx, store.CollectionApprovals, item.ThreadID, item, false); err != nil {
		return eris.Wrapf(err, "orchestrator: resolve approval %s", item.ThreadID)
	}
	if err := o.deps.Notifier.Resolve(ctx, item.ThreadID, resolution); err != nil {
		o.log.Warn("review notification failed", zap.String("thread_id", item.ThreadID), zap.Error(err))
	}
	return nil
}

// Approve hands a reviewed thread back to automation. While running in an
// acting mode the next message is sent right away without re-checking the
// decision rules.
func (o *Orchestrator) Approve(ctx context.Context, threadID string) (*model.ThreadState, error) {
	item, err := o.openApproval(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, eris.Wrapf(ErrApprovalNotFound, "approve %s", threadID)
	}

	state, err := o.deps.Threads.UpdateState(ctx, threadID, model.ThreadPatch{
		Status: model.Ptr(model.ThreadStatusActive),
	}, false)
	if err != nil {
		return nil, err
	}
	if err := o.resolve(ctx, item, "approved"); err != nil {
		return nil, err
	}

	sess, running := o.session()
	if !running || (sess.mode != model.ModeFullAuto && sess.mode != model.ModeSemiAuto) {
		return state, nil
	}
	if !o.leases.Claim(threadID) {
		return state, nil
	}

	analysis, err := o.deps.Analyzer.Analyze(ctx, model.MessagesFromEvents(state.EventHistory), sess.settings)
	if err != nil {
		o.log.Warn("analysis failed, sending approved message without it", zap.String("thread_id", threadID), zap.Error(err))
		analysis = nil
	}
	if res := o.execute(ctx, sess, state, analysis); res == resultSent || res == resultSendFailed {
		o.leases.Release(threadID)
	} else {
		o.leases.Drop(threadID)
	}
	return o.deps.Threads.GetState(ctx, threadID)
}

// Dismiss closes a thread's review item and ends the negotiation as failed.
func (o *Orchestrator) Dismiss(ctx context.Context, threadID, reason string) (*model.ThreadState, error) {
	item, err := o.openApproval(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, eris.Wrapf(ErrApprovalNotFound, "dismiss %s", threadID)
	}
	resolution := "dismissed"
	if reason != "" {
		resolution = "dismissed: " + reason
	}
	if err := o.resolve(ctx, item, resolution); err != nil {
		return nil, err
	}
	o.leases.Drop(threadID)

	state, err := o.deps.Threads.AdvanceStage(ctx, threadID, model.StageFailed)
	if errors.Is(err, threadstate.ErrThreadClosed) {
		return o.deps.Threads.GetState(ctx, threadID)
	}
	return state, err
}
