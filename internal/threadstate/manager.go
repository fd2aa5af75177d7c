// Package threadstate owns the persisted state of every negotiation thread.
// All mutation goes through Manager; callers submit typed patches and
// events and receive snapshots.
package threadstate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/store"
)

var (
	// ErrInvalidTransition is returned for a stage change that breaks the canonical order.
	ErrInvalidTransition = eris.New("threadstate: invalid stage transition")
	// ErrThreadClosed is returned when mutating a completed thread.
	ErrThreadClosed = eris.New("threadstate: thread is closed")
)

const (
	DefaultResponseTimeoutHours = 48
	DefaultMaxDurationDays      = 7
)

// Options configures a Manager.
type Options struct {
	ResponseTimeoutHours int
	MaxDurationDays      int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager is the thread state store.
type Manager struct {
	store store.Store
	opts  Options
	locks *keyedMutex
	log   *zap.Logger
}

// New creates a Manager persisting into st.
func New(st store.Store, opts Options) *Manager {
	if opts.ResponseTimeoutHours <= 0 {
		opts.ResponseTimeoutHours = DefaultResponseTimeoutHours
	}
	if opts.MaxDurationDays <= 0 {
		opts.MaxDurationDays = DefaultMaxDurationDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store: st,
		opts:  opts,
		locks: newKeyedMutex(),
		log:   zap.L().With(zap.String("component", "threadstate")),
	}
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

// GetState returns the thread's state, creating and persisting a fresh one
// for an id that has never been seen.
func (m *Manager) GetState(ctx context.Context, threadID string) (*model.ThreadState, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()
	return m.loadOrCreate(ctx, threadID)
}

// UpdateState applies patch to the thread. With newRound the round counter
// is incremented and the round is logged before the patch is applied.
func (m *Manager) UpdateState(ctx context.Context, threadID string, patch model.ThreadPatch, newRound bool) (*model.ThreadState, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	s, err := m.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, eris.Wrapf(ErrThreadClosed, "update %s", threadID)
	}
	if patch.Status != nil && *patch.Status == model.ThreadStatusCompleted {
		return nil, eris.Wrapf(ErrInvalidTransition, "update %s: completed status is reached by advancing the stage", threadID)
	}
	if patch.Stage != nil && *patch.Stage != s.Stage {
		if err := ValidateTransition(s.Stage, *patch.Stage); err != nil {
			return nil, eris.Wrapf(err, "update %s", threadID)
		}
	}

	now := m.now()
	if newRound {
		s.RoundNumber++
		s.RoundHistory = append(s.RoundHistory, model.RoundEntry{Round: s.RoundNumber, Timestamp: now, Updates: patch})
	}
	applyPatch(s, patch)
	if patch.Stage != nil && *patch.Stage != s.Stage {
		m.enterStage(s, *patch.Stage, now)
	}
	s.LastUpdated = now
	s.Progress = CalculateProgress(s.Stage, s.RoundNumber)

	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AdvanceStage moves the thread to stage, which must be the next canonical
// stage or failed.
func (m *Manager) AdvanceStage(ctx context.Context, threadID string, stage model.Stage) (*model.ThreadState, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	s, err := m.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, eris.Wrapf(ErrThreadClosed, "advance %s", threadID)
	}
	if err := ValidateTransition(s.Stage, stage); err != nil {
		return nil, eris.Wrapf(err, "advance %s", threadID)
	}

	now := m.now()
	m.enterStage(s, stage, now)
	s.LastUpdated = now
	s.Progress = CalculateProgress(s.Stage, s.RoundNumber)

	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.log.Debug("stage advanced", zap.String("thread_id", threadID), zap.String("stage", string(stage)))
	return s, nil
}

// RecordEvent appends an event to the thread's audit log and applies the
// status side effects of well-known event types. Events on a closed thread
// are logged without side effects.
func (m *Manager) RecordEvent(ctx context.Context, threadID string, eventType model.EventType, data map[string]any) (*model.ThreadState, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	s, err := m.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s.EventHistory = append(s.EventHistory, model.ThreadEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: now,
		Data:      data,
	})
	if !s.Status.Terminal() {
		applyEvent(s, eventType, data, now)
	}
	s.LastUpdated = now
	s.Progress = CalculateProgress(s.Stage, s.RoundNumber)

	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CheckTimeout reports whether the thread has gone without a response for
// longer than its response timeout, or has run past its maximum duration.
// Unknown and closed threads never time out.
func (m *Manager) CheckTimeout(ctx context.Context, threadID string) (bool, string, error) {
	s, err := m.load(ctx, threadID)
	if err != nil || s == nil || s.Status.Terminal() {
		return false, "", err
	}
	timedOut, reason := IsTimedOut(s, m.now())
	return timedOut, reason, nil
}

// IsTimedOut evaluates the timeout rules against a snapshot at now.
func IsTimedOut(s *model.ThreadState, now time.Time) (bool, string) {
	if s.LastMessageSent != nil && !s.HasNewResponse() {
		timeout := time.Duration(s.ResponseTimeoutHours) * time.Hour
		if now.Sub(*s.LastMessageSent) > timeout {
			return true, fmt.Sprintf("no response within %dh of last message", s.ResponseTimeoutHours)
		}
	}
	maxAge := time.Duration(s.MaxDurationDays) * 24 * time.Hour
	if now.Sub(s.CreatedAt) > maxAge {
		return true, fmt.Sprintf("negotiation exceeded maximum duration of %d days", s.MaxDurationDays)
	}
	return false, ""
}

// ListActive returns threads in the given statuses (every open status when
// empty), optionally for one user, most recently updated first.
func (m *Manager) ListActive(ctx context.Context, statuses []model.ThreadStatus, userID string) ([]model.ThreadState, error) {
	if len(statuses) == 0 {
		statuses = model.OpenStatuses
	}
	q := store.Query{Conditions: []store.Condition{store.Where("status", store.OpIn, statuses)}}
	if userID != "" {
		q.Conditions = append(q.Conditions, store.Where("user_id", store.OpEq, userID))
	}

	docs, err := m.store.Query(ctx, store.CollectionThreads, q)
	if err != nil {
		return nil, eris.Wrap(err, "threadstate: list")
	}

	threads := make([]model.ThreadState, 0, len(docs))
	for _, d := range docs {
		var s model.ThreadState
		if err := d.Decode(&s); err != nil {
			m.log.Warn("skipping undecodable thread", zap.String("thread_id", d.ID), zap.Error(err))
			continue
		}
		threads = append(threads, s)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastUpdated.After(threads[j].LastUpdated)
	})
	return threads, nil
}

// ListByStatus returns every thread in one status regardless of owner.
func (m *Manager) ListByStatus(ctx context.Context, status model.ThreadStatus) ([]model.ThreadState, error) {
	return m.ListActive(ctx, []model.ThreadStatus{status}, "")
}

// ValidateTransition checks a stage change against the canonical order.
func ValidateTransition(from, to model.Stage) error {
	if !to.Valid() {
		return eris.Wrapf(ErrInvalidTransition, "unknown stage %q", to)
	}
	if from.Terminal() {
		return eris.Wrapf(ErrInvalidTransition, "%s is terminal", from)
	}
	if to == model.StageFailed {
		return nil
	}
	if next, ok := from.Next(); ok && next == to {
		return nil
	}
	return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}

var stageProgress = map[model.Stage]float64{
	model.StageInitialContact:       20,
	model.StageInterestConfirmation: 40,
	model.StageConditionNegotiation: 70,
	model.StageFinalAgreement:       90,
	model.StageCompleted:            100,
	model.StageFailed:               100,
}

// CalculateProgress is the stage base score plus a small round bonus, capped at 100.
func CalculateProgress(stage model.Stage, round int) float64 {
	bonus := float64(min(round*2, 10))
	return min(stageProgress[stage]+bonus, 100)
}

func (m *Manager) newState(threadID string) *model.ThreadState {
	now := m.now()
	return &model.ThreadState{
		ThreadID:             threadID,
		Status:               model.ThreadStatusActive,
		Stage:                model.StageInitialContact,
		RoundNumber:          1,
		CreatedAt:            now,
		LastUpdated:          now,
		RoundHistory:         []model.RoundEntry{},
		EventHistory:         []model.ThreadEvent{},
		StageHistory:         []model.StageEntry{{Stage: model.StageInitialContact, EnteredAt: now}},
		Progress:             CalculateProgress(model.StageInitialContact, 1),
		ResponseTimeoutHours: m.opts.ResponseTimeoutHours,
		MaxDurationDays:      m.opts.MaxDurationDays,
	}
}

func (m *Manager) load(ctx context.Context, threadID string) (*model.ThreadState, error) {
	doc, err := m.store.Get(ctx, store.CollectionThreads, threadID)
	if err != nil {
		return nil, eris.Wrapf(err, "threadstate: load %s", threadID)
	}
	if doc == nil {
		return nil, nil
	}
	var s model.ThreadState
	if err := doc.Decode(&s); err != nil {
		return nil, eris.Wrapf(err, "threadstate: decode %s", threadID)
	}
	return &s, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, threadID string) (*model.ThreadState, error) {
	s, err := m.load(ctx, threadID)
	if err != nil || s != nil {
		return s, err
	}
	s = m.newState(threadID)
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.log.Info("thread created", zap.String("thread_id", threadID))
	return s, nil
}

func (m *Manager) save(ctx context.Context, s *model.ThreadState) error {
	return eris.Wrapf(m.store.Set(ctx, store.CollectionThreads, s.ThreadID, s, false), "threadstate: save %s", s.ThreadID)
}

func (m *Manager) enterStage(s *model.ThreadState, stage model.Stage, now time.Time) {
	s.Stage = stage
	s.StageHistory = append(s.StageHistory, model.StageEntry{Stage: stage, EnteredAt: now})
	switch stage {
	case model.StageCompleted:
		s.Status = model.ThreadStatusCompleted
		s.CompletedAt = &now
	case model.StageFailed:
		s.Status = model.ThreadStatusCompleted
		s.FailedAt = &now
	}
}

// applyPatch copies every set field except the stage, which goes through enterStage.
func applyPatch(s *model.ThreadState, p model.ThreadPatch) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
	if p.EscalationReason != nil {
		s.EscalationReason = *p.EscalationReason
	}
	if p.InfluencerCategory != nil {
		s.Terms.InfluencerCategory = *p.InfluencerCategory
	}
	if p.ProductCategory != nil {
		s.Terms.ProductCategory = *p.ProductCategory
	}
	if p.BudgetMin != nil {
		s.Terms.BudgetMin = *p.BudgetMin
	}
	if p.BudgetMax != nil {
		s.Terms.BudgetMax = *p.BudgetMax
	}
	if p.OfferedAmount != nil {
		s.Terms.OfferedAmount = *p.OfferedAmount
	}
	if p.RequestedAmount != nil {
		s.Terms.RequestedAmount = *p.RequestedAmount
	}
	if p.AgreedAmount != nil {
		s.Terms.AgreedAmount = *p.AgreedAmount
	}
	if p.Tone != nil {
		s.Terms.Tone = *p.Tone
	}
	if p.LastSentiment != nil {
		s.LastSentiment = *p.LastSentiment
	}
	if p.Strategy != nil {
		s.Strategy = p.Strategy
	}
	if p.ResponseTimeoutHours != nil && *p.ResponseTimeoutHours > 0 {
		s.ResponseTimeoutHours = *p.ResponseTimeoutHours
	}
}

func applyEvent(s *model.ThreadState, eventType model.EventType, data map[string]any, now time.Time) {
	switch eventType {
	case model.EventMessageSent:
		s.Status = model.ThreadStatusWaitingResponse
		s.LastMessageSent = &now
	case model.EventResponseReceived:
		s.LastResponseReceived = &now
		if s.LastMessageSent != nil {
			hours := now.Sub(*s.LastMessageSent).Hours()
			s.ResponseTimeHours = &hours
		}
		if s.Status == model.ThreadStatusWaitingResponse || s.Status == model.ThreadStatusAutoNegotiating {
			s.Status = model.ThreadStatusActive
		}
	case model.EventEscalationTriggered:
		s.Status = model.ThreadStatusEscalated
		s.EscalationCount++
		if reason, ok := data["reason"].(string); ok {
			s.EscalationReason = reason
		}
	case model.EventSentimentAnalyzed:
		if score, ok := data["score"].(float64); ok {
			s.LastSentiment = score
		}
	}
}
