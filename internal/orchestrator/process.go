package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/optimizer"
	"github.com/sells-group/negotiator/internal/outreach"
	"github.com/sells-group/negotiator/internal/store"
	"github.com/sells-group/negotiator/internal/threadstate"
)

// ReasonDealComplete asks a human to record the outcome of a finished deal.
const ReasonDealComplete = "deal appears complete"

// TickReport summarizes one pass of the orchestration loop.
type TickReport struct {
	Mode       model.AutomationMode `json:"mode"`
	StartedAt  time.Time            `json:"started_at"`
	DurationMs int64                `json:"duration_ms"`
	Candidates int                  `json:"candidates"`
	Sent       int                  `json:"sent"`
	Queued     int                  `json:"queued_for_approval"`
	Escalated  int                  `json:"escalated"`
	SendFailed int                  `json:"send_failed"`
	Failed     int                  `json:"failed"`
	Expired    int                  `json:"expired"`
	Surfaced   int                  `json:"surfaced"`
	Learned    int                  `json:"learned"`
}

type result int

const (
	resultSent result = iota
	resultQueued
	resultEscalated
	resultSendFailed
	resultFailed
)

func (r *TickReport) add(res result) {
	switch res {
	case resultSent:
		r.Sent++
	case resultQueued:
		r.Queued++
	case resultEscalated:
		r.Escalated++
	case resultSendFailed:
		r.SendFailed++
	case resultFailed:
		r.Failed++
	}
}

// RunOnce runs a single orchestration pass: mode-specific processing
// followed by the timeout and escalation sweeps. A failure to list threads
// is returned; failures of individual threads are only counted.
func (o *Orchestrator) RunOnce(ctx context.Context) (*TickReport, error) {
	sess, running := o.session()
	if !running {
		return nil, ErrNotRunning
	}

	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	start := o.now()
	report := &TickReport{Mode: sess.mode, StartedAt: start}

	switch sess.mode {
	case model.ModeManual:
	case model.ModeLearning:
		n, err := o.learningCycle(ctx, sess)
		if err != nil {
			return nil, err
		}
		report.Learned = n
	default:
		if err := o.processCandidates(ctx, sess, report); err != nil {
			return nil, err
		}
	}

	if err := o.timeoutSweep(ctx, sess, report); err != nil {
		return nil, err
	}
	if err := o.escalationSweep(ctx, sess, report); err != nil {
		return nil, err
	}

	report.DurationMs = o.now().Sub(start).Milliseconds()
	o.mu.Lock()
	o.lastTick = start
	o.stats.Ticks++
	o.stats.Processed += report.Candidates
	o.stats.Sent += report.Sent
	o.stats.Queued += report.Queued
	o.stats.Escalated += report.Escalated
	o.stats.Expired += report.Expired
	o.stats.Failed += report.Failed + report.SendFailed
	o.mu.Unlock()

	o.log.Info("tick complete",
		zap.String("mode", string(sess.mode)),
		zap.Int("candidates", report.Candidates),
		zap.Int("sent", report.Sent),
		zap.Int("queued", report.Queued),
		zap.Int("escalated", report.Escalated),
		zap.Int("expired", report.Expired),
		zap.Int64("duration_ms", report.DurationMs),
	)
	return report, nil
}

func (o *Orchestrator) processCandidates(ctx context.Context, sess session, report *TickReport) error {
	threads, err := o.deps.Threads.ListActive(ctx, []model.ThreadStatus{
		model.ThreadStatusActive,
		model.ThreadStatusWaitingResponse,
	}, sess.userID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: list candidates")
	}

	var picked []model.ThreadState
	for _, t := range threads {
		if len(picked) >= sess.thresholds.MaxConcurrent {
			break
		}
		if t.Status == model.ThreadStatusWaitingResponse && !t.HasNewResponse() {
			continue
		}
		if !o.leases.Claim(t.ThreadID) {
			continue
		}
		picked = append(picked, t)
	}
	report.Candidates = len(picked)
	if len(picked) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sess.thresholds.MaxConcurrent)
	for i := range picked {
		state := picked[i]
		g.Go(func() error {
			res := o.processThread(gctx, sess, &state)
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// processThread runs the analyze, decide and act pipeline for one claimed
// thread. It never returns an error; every failure ends in a result.
func (o *Orchestrator) processThread(ctx context.Context, sess session, state *model.ThreadState) (res result) {
	id := state.ThreadID
	log := o.log.With(zap.String("thread_id", id))
	defer func() {
		switch res {
		case resultSent, resultSendFailed, resultFailed:
			o.leases.Release(id)
		default:
			o.leases.Drop(id)
		}
	}()

	analysis, err := o.deps.Analyzer.Analyze(ctx, model.MessagesFromEvents(state.EventHistory), sess.settings)
	if err != nil {
		log.Warn("analysis failed, escalating", zap.Error(err))
		return o.escalate(ctx, state, []string{ReasonAnalyzerFailed}, nil)
	}

	state, err = o.absorb(ctx, sess, state, analysis)
	if err != nil {
		log.Error("failed to record analysis", zap.Error(err))
		return resultFailed
	}

	switch analysis.Context.CurrentStage {
	case model.StageFailed:
		return o.escalate(ctx, state, []string{ReasonInfluencerDeclined}, analysis)
	case model.StageCompleted:
		return o.requestApproval(ctx, state, []string{ReasonDealComplete}, analysis)
	}

	switch sess.mode {
	case model.ModeFullAuto:
		if reason := FullAutoGate(sess.thresholds, analysis.Summary); reason != "" {
			log.Info("escalating", zap.String("reason", reason),
				zap.Float64("confidence", analysis.Summary.Confidence),
				zap.String("risk_level", string(analysis.Summary.RiskLevel)),
			)
			return o.escalate(ctx, state, []string{reason}, analysis)
		}
	case model.ModeSemiAuto:
		if reasons := EscalationRules(sess.thresholds, state, analysis, sess.settings); len(reasons) > 0 {
			log.Info("approval required", zap.Strings("reasons", reasons))
			return o.requestApproval(ctx, state, reasons, analysis)
		}
	}

	return o.execute(ctx, sess, state, analysis)
}

// absorb writes what the analysis learned back onto the thread. The stage
// follows the estimate one canonical step at a time and never past
// final_agreement; completion is recorded with an outcome.
func (o *Orchestrator) absorb(ctx context.Context, sess session, state *model.ThreadState, a *model.Analysis) (*model.ThreadState, error) {
	latest := a.Context.LatestSentiment()
	if _, err := o.deps.Threads.RecordEvent(ctx, state.ThreadID, model.EventSentimentAnalyzed, map[string]any{
		"score":  latest,
		"stage":  string(a.Context.CurrentStage),
		"source": a.Source,
	}); err != nil {
		return nil, err
	}

	patch := model.ThreadPatch{LastSentiment: &latest}
	if a.Context.RequestedAmount > 0 {
		patch.RequestedAmount = model.Ptr(a.Context.RequestedAmount)
	}
	if state.UserID == "" && sess.userID != "" {
		patch.UserID = model.Ptr(sess.userID)
	}
	if s := sess.settings; s != nil {
		if state.Terms.InfluencerCategory == "" && s.InfluencerCategory != "" {
			patch.InfluencerCategory = model.Ptr(s.InfluencerCategory)
		}
		if state.Terms.ProductCategory == "" && s.ProductCategory != "" {
			patch.ProductCategory = model.Ptr(s.ProductCategory)
		}
		if state.Terms.BudgetMin == 0 && state.Terms.BudgetMax == 0 && s.Budget().Known() {
			patch.BudgetMin = model.Ptr(s.BudgetMin)
			patch.BudgetMax = model.Ptr(s.BudgetMax)
		}
	}
	if h := sess.thresholds.ResponseTimeoutHours; h > 0 && h != state.ResponseTimeoutHours {
		patch.ResponseTimeoutHours = model.Ptr(h)
	}
	if next, ok := state.Stage.Next(); ok && next != model.StageCompleted {
		if est := a.Context.CurrentStage.Index(); est >= 0 && est > state.Stage.Index() {
			patch.Stage = &next
		}
	}

	return o.deps.Threads.UpdateState(ctx, state.ThreadID, patch, false)
}

// execute optimizes, composes and sends the next message. A failed send
// is logged as send_failed and leaves the thread eligible for a retry.
func (o *Orchestrator) execute(ctx context.Context, sess session, state *model.ThreadState, a *model.Analysis) result {
	id := state.ThreadID
	log := o.log.With(zap.String("thread_id", id))

	history, err := o.History(ctx)
	if err != nil {
		log.Warn("outcome history unavailable", zap.Error(err))
	}

	var nc *model.NegotiationContext
	if a != nil {
		nc = &a.Context
	}
	sit := optimizer.SituationFor(state, nc, sess.settings)
	strategy, err := o.deps.Optimizer.OptimizeStrategy(ctx, sit, history, sess.settings.Goal)
	if err != nil {
		log.Error("strategy optimization failed", zap.Error(err))
		return resultFailed
	}

	content, err := o.deps.Composer.Compose(state, a, strategy, sess.settings)
	if err != nil {
		log.Error("compose failed", zap.Error(err))
		return resultFailed
	}

	if err := o.deps.Sender.Send(ctx, id, content); err != nil {
		log.Warn("send failed", zap.Error(err))
		if _, rerr := o.deps.Threads.RecordEvent(ctx, id, model.EventSendFailed, map[string]any{
			"error": err.Error(),
		}); rerr != nil {
			log.Error("failed to record send failure", zap.Error(rerr))
		}
		return resultSendFailed
	}

	applied := strategy.Applied()
	applied.AppliedAt = o.now()
	patch := model.ThreadPatch{Strategy: &applied, Tone: model.Ptr(strategy.Tone)}
	if state.Stage == model.StageConditionNegotiation || state.Stage == model.StageFinalAgreement {
		if offer := outreach.OfferAmount(sess.settings, sit.RequestedAmount, strategy.BudgetApproach); offer > 0 {
			patch.OfferedAmount = &offer
		}
	}
	if _, err := o.deps.Threads.UpdateState(ctx, id, patch, state.LastMessageSent != nil); err != nil {
		log.Error("failed to record strategy", zap.Error(err))
	}
	if _, err := o.deps.Threads.RecordEvent(ctx, id, model.EventStrategyApplied, map[string]any{
		"tone":              applied.Tone,
		"timing":            applied.Timing,
		"budget_approach":   applied.BudgetApproach,
		"source_pattern_id": applied.SourcePatternID,
		"explored":          strategy.Explored,
		"stage":             string(state.Stage),
	}); err != nil {
		log.Error("failed to record strategy event", zap.Error(err))
	}
	if _, err := o.deps.Threads.RecordEvent(ctx, id, model.EventMessageSent, map[string]any{
		"content": content,
		"tone":    strategy.Tone,
	}); err != nil {
		log.Error("failed to record sent message", zap.Error(err))
		return resultFailed
	}

	log.Info("message sent",
		zap.String("tone", strategy.Tone),
		zap.String("timing", strategy.OptimalTiming),
		zap.Bool("explored", strategy.Explored),
	)
	return resultSent
}

func (o *Orchestrator) escalate(ctx context.Context, state *model.ThreadState, reasons []string, a *model.Analysis) result {
	s, err := o.deps.Threads.RecordEvent(ctx, state.ThreadID, model.EventEscalationTriggered, map[string]any{
		"reason": strings.Join(reasons, "; "),
	})
	if err != nil {
		o.log.Error("failed to escalate", zap.String("thread_id", state.ThreadID), zap.Error(err))
		return resultFailed
	}
	if err := o.enqueue(ctx, s, model.ApprovalKindEscalation, reasons, a); err != nil {
		o.log.Error("failed to queue escalation", zap.String("thread_id", state.ThreadID), zap.Error(err))
	}
	return resultEscalated
}

func (o *Orchestrator) requestApproval(ctx context.Context, state *model.ThreadState, reasons []string, a *model.Analysis) result {
	s, err := o.deps.Threads.UpdateState(ctx, state.ThreadID, model.ThreadPatch{
		Status: model.Ptr(model.ThreadStatusPendingApproval),
	}, false)
	if err != nil {
		o.log.Error("failed to request approval", zap.String("thread_id", state.ThreadID), zap.Error(err))
		return resultFailed
	}
	if _, err := o.deps.Threads.RecordEvent(ctx, state.ThreadID, model.EventApprovalRequested, map[string]any{
		"reasons": reasons,
	}); err != nil {
		o.log.Error("failed to record approval request", zap.String("thread_id", state.ThreadID), zap.Error(err))
	}
	if err := o.enqueue(ctx, s, model.ApprovalKindApproval, reasons, a); err != nil {
		o.log.Error("failed to queue approval", zap.String("thread_id", state.ThreadID), zap.Error(err))
	}
	return resultQueued
}

// enqueue writes an approval item for the thread and notifies reviewers.
// A notification failure is logged; the stored item is what counts.
func (o *Orchestrator) enqueue(ctx context.Context, state *model.ThreadState, kind model.ApprovalKind, reasons []string, a *model.Analysis) error {
	item := model.ApprovalItem{
		ThreadID:  state.ThreadID,
		UserID:    state.UserID,
		Kind:      kind,
		Reasons:   reasons,
		Status:    state.Status,
		Stage:     state.Stage,
		Round:     state.RoundNumber,
		CreatedAt: o.now(),
	}
	if a != nil {
		item.Confidence = a.Summary.Confidence
		item.RiskScore = a.Summary.RiskScore
		item.RiskLevel = a.Summary.RiskLevel
	}
	if err := o.deps.Store.Set(ctx, store.CollectionApprovals, item.ThreadID, item, false); err != nil {
		return eris.Wrapf(err, "orchestrator: queue %s", item.ThreadID)
	}
	if err := o.deps.Notifier.Notify(ctx, item); err != nil {
		o.log.Warn("review notification failed", zap.String("thread_id", item.ThreadID), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) timeoutSweep(ctx context.Context, sess session, report *TickReport) error {
	maxAge := o.interval(o.cfg.ActiveTimeoutHours, time.Hour, defaultActiveTimeout)
	for _, l := range o.leases.OlderThan(maxAge) {
		if o.expire(ctx, l.ThreadID, "negotiation exceeded "+maxAge.String()+" under automation") {
			report.Expired++
		}
	}

	waiting, err := o.deps.Threads.ListActive(ctx, []model.ThreadStatus{model.ThreadStatusWaitingResponse}, sess.userID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: list waiting threads")
	}
	now := o.now()
	for i := range waiting {
		if timedOut, reason := threadstate.IsTimedOut(&waiting[i], now); timedOut {
			if o.expire(ctx, waiting[i].ThreadID, reason) {
				report.Expired++
			}
		}
	}
	return nil
}

func (o *Orchestrator) expire(ctx context.Context, threadID, reason string) bool {
	defer o.leases.Drop(threadID)
	_, err := o.deps.Threads.UpdateState(ctx, threadID, model.ThreadPatch{
		Status: model.Ptr(model.ThreadStatusExpired),
	}, false)
	if errors.Is(err, threadstate.ErrThreadClosed) {
		return false
	}
	if err != nil {
		o.log.Error("failed to expire thread", zap.String("thread_id", threadID), zap.Error(err))
		return false
	}
	o.log.Info("thread expired", zap.String("thread_id", threadID), zap.String("reason", reason))
	return true
}

func (o *Orchestrator) escalationSweep(ctx context.Context, sess session, report *TickReport) error {
	escalated, err := o.deps.Threads.ListActive(ctx, []model.ThreadStatus{model.ThreadStatusEscalated}, sess.userID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: list escalated threads")
	}
	for i := range escalated {
		s := &escalated[i]
		o.leases.Drop(s.ThreadID)

		open, err := o.openApproval(ctx, s.ThreadID)
		if err != nil {
			o.log.Error("failed to read approval queue", zap.String("thread_id", s.ThreadID), zap.Error(err))
			continue
		}
		if open != nil {
			continue
		}
		reason := s.EscalationReason
		if reason == "" {
			reason = "escalated"
		}
		if err := o.enqueue(ctx, s, model.ApprovalKindEscalation, []string{reason}, nil); err != nil {
			o.log.Error("failed to surface escalation", zap.String("thread_id", s.ThreadID), zap.Error(err))
			continue
		}
		report.Surfaced++
	}
	return nil
}

// History loads the most recent outcomes, newest first.
func (o *Orchestrator) History(ctx context.Context) ([]model.NegotiationOutcome, error) {
	docs, err := o.deps.Store.Query(ctx, store.CollectionOutcomes, store.Query{
		OrderBy:    "recorded_unix",
		Descending: true,
		Limit:      o.opts.HistoryLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load outcomes")
	}
	return decodeOutcomes(docs, o.log), nil
}

func decodeOutcomes(docs []store.Document, log *zap.Logger) []model.NegotiationOutcome {
	out := make([]model.NegotiationOutcome, 0, len(docs))
	for _, d := range docs {
		var oc model.NegotiationOutcome
		if err := d.Decode(&oc); err != nil {
			log.Warn("skipping undecodable outcome", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		out = append(out, oc)
	}
	return out
}
