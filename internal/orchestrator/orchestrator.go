// Package orchestrator drives automated negotiations: it picks up active
// threads, analyzes them, decides between acting and asking a human, and
// feeds outcomes back into pattern storage and the optimizer.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/analyzer"
	"github.com/sells-group/negotiator/internal/config"
	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/notify"
	"github.com/sells-group/negotiator/internal/optimizer"
	"github.com/sells-group/negotiator/internal/outreach"
	"github.com/sells-group/negotiator/internal/pattern"
	"github.com/sells-group/negotiator/internal/store"
	"github.com/sells-group/negotiator/internal/threadstate"
)

var (
	// ErrAlreadyRunning is returned by Start while automation is running.
	ErrAlreadyRunning = eris.New("orchestrator: already running")
	// ErrNotRunning is returned by operations that need a running orchestrator.
	ErrNotRunning = eris.New("orchestrator: not running")
	// ErrApprovalNotFound is returned when a thread has no open approval item.
	ErrApprovalNotFound = eris.New("orchestrator: no open approval for thread")
)

const (
	defaultPollInterval         = 30 * time.Second
	defaultActiveTimeout        = 48 * time.Hour
	defaultOptimizationInterval = 24 * time.Hour
	defaultPerformanceInterval  = 5 * time.Minute
	defaultHistoryLimit         = 200
)

// Deps are the components the orchestrator coordinates.
type Deps struct {
	Store     store.Store
	Threads   *threadstate.Manager
	Patterns  *pattern.Storage
	Optimizer *optimizer.Engine
	Analyzer  analyzer.ContextAnalyzer
	Composer  outreach.Composer
	Sender    outreach.Sender
	Notifier  notify.Notifier
}

// Options tune the orchestrator beyond the automation config.
type Options struct {
	HistoryLimit int
	LeaseTTL     time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats are running counters since Start.
type Stats struct {
	Ticks     int `json:"ticks"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Queued    int `json:"queued_for_approval"`
	Escalated int `json:"escalated"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Running    bool                 `json:"running"`
	Mode       model.AutomationMode `json:"mode,omitempty"`
	UserID     string               `json:"user_id,omitempty"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	Thresholds Thresholds           `json:"thresholds"`
	Throttled  bool                 `json:"throttled"`
	Tracked    []Lease              `json:"active_negotiations"`
	Stats      Stats                `json:"stats"`
	LastTick   *time.Time           `json:"last_tick,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
}

// StopSummary describes what Stop preserved for human review.
type StopSummary struct {
	StoppedAt time.Time `json:"stopped_at"`
	Preserved []string  `json:"preserved"`
	Failed    []string  `json:"failed,omitempty"`
	Stats     Stats     `json:"stats"`
}

// Orchestrator is the automation control loop.
type Orchestrator struct {
	deps   Deps
	cfg    config.AutomationConfig
	opts   Options
	leases *LeaseTable
	log    *zap.Logger

	tickMu sync.Mutex

	mu         sync.Mutex
	running    bool
	userID     string
	settings   *model.CompanySettings
	mode       model.AutomationMode
	thresholds Thresholds
	throttled  bool
	startedAt  time.Time
	lastTick   time.Time
	lastErr    string
	stats      Stats
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a stopped orchestrator.
func New(deps Deps, cfg config.AutomationConfig, opts Options) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	if deps.Composer == nil {
		deps.Composer = outreach.NewTemplateComposer()
	}
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		opts:       opts,
		leases:     NewLeaseTable(opts.LeaseTTL, opts.Now),
		log:        zap.L().With(zap.String("component", "orchestrator")),
		thresholds: DefaultThresholds(cfg),
	}
}

func (o *Orchestrator) now() time.Time {
	return o.opts.Now().UTC()
}

// Start begins automation for userID and returns immediately. The loops
// outlive ctx's cancellation; use Stop to end them.
func (o *Orchestrator) Start(ctx context.Context, userID string, settings *model.CompanySettings, mode model.AutomationMode) error {
	if !mode.Valid() {
		return eris.Errorf("orchestrator: unknown mode %q", mode)
	}
	if settings == nil {
		return eris.New("orchestrator: company settings are required")
	}
	if err := settings.Validate(); err != nil {
		return eris.Wrap(err, "orchestrator: start")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	if err := o.deps.Optimizer.LoadWeights(ctx); err != nil {
		return eris.Wrap(err, "orchestrator: load weights")
	}
	if rate := settings.OrchestrationConfig.ExplorationRate; rate != nil {
		o.deps.Optimizer.SetExplorationRate(*rate)
	}

	o.running = true
	o.userID = userID
	o.settings = settings
	o.mode = mode
	o.thresholds = DefaultThresholds(o.cfg).Apply(settings.OrchestrationConfig)
	o.throttled = false
	o.startedAt = o.now()
	o.lastErr = ""
	o.stats = Stats{}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.wg.Add(3)
	go o.orchestrationLoop(loopCtx)
	go o.every(loopCtx, "optimization", o.interval(o.cfg.OptimizationIntervalHours, time.Hour, defaultOptimizationInterval), func(ctx context.Context) error {
		_, err := o.RunOptimization(ctx)
		return err
	})
	go o.every(loopCtx, "performance", o.interval(o.cfg.PerformanceIntervalMins, time.Minute, defaultPerformanceInterval), func(ctx context.Context) error {
		_, err := o.CheckPerformance(ctx)
		return err
	})

	o.log.Info("automation started",
		zap.String("user_id", userID),
		zap.String("mode", string(mode)),
		zap.Float64("decision_confidence_threshold", o.thresholds.DecisionConfidence),
		zap.Int("max_concurrent", o.thresholds.MaxConcurrent),
	)
	return nil
}

// Stop halts every loop, hands every tracked negotiation to a human as
// pending_approval and saves the learned weights.
func (o *Orchestrator) Stop(ctx context.Context) (*StopSummary, error) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil, ErrNotRunning
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()

	// Wait out a tick started through RunOnce.
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	summary := &StopSummary{StoppedAt: o.now(), Preserved: []string{}}
	for _, l := range o.leases.Tracked() {
		if err := o.preserve(ctx, l.ThreadID); err != nil {
			o.log.Error("failed to preserve thread", zap.String("thread_id", l.ThreadID), zap.Error(err))
			summary.Failed = append(summary.Failed, l.ThreadID)
			continue
		}
		summary.Preserved = append(summary.Preserved, l.ThreadID)
	}
	o.leases.Reset()

	if err := o.deps.Optimizer.SaveWeights(ctx); err != nil {
		o.log.Error("failed to save weights", zap.Error(err))
	}

	o.mu.Lock()
	summary.Stats = o.stats
	o.mu.Unlock()

	o.log.Info("automation stopped",
		zap.Int("preserved", len(summary.Preserved)),
		zap.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

func (o *Orchestrator) preserve(ctx context.Context, threadID string) error {
	state, err := o.deps.Threads.UpdateState(ctx, threadID, model.ThreadPatch{
		Status: model.Ptr(model.ThreadStatusPendingApproval),
	}, false)
	if errors.Is(err, threadstate.ErrThreadClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := o.deps.Threads.RecordEvent(ctx, threadID, model.EventApprovalRequested, map[string]any{
		"reason": ReasonShutdown,
	}); err != nil {
		return err
	}
	return o.enqueue(ctx, state, model.ApprovalKindShutdown, []string{ReasonShutdown}, nil)
}

// Status reports the current state of automation.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Running:    o.running,
		Mode:       o.mode,
		UserID:     o.userID,
		Thresholds: o.thresholds,
		Throttled:  o.throttled,
		Tracked:    o.leases.Tracked(),
		Stats:      o.stats,
		LastError:  o.lastErr,
	}
	if !o.startedAt.IsZero() {
		started := o.startedAt
		st.StartedAt = &started
	}
	if !o.lastTick.IsZero() {
		tick := o.lastTick
		st.LastTick = &tick
	}
	return st
}

// Thresholds returns the limits currently in effect.
func (o *Orchestrator) Thresholds() Thresholds {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.thresholds
}

// session is the run configuration one tick works with.
type session struct {
	userID     string
	settings   *model.CompanySettings
	mode       model.AutomationMode
	thresholds Thresholds
}

func (o *Orchestrator) session() (session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return session{
		userID:     o.userID,
		settings:   o.settings,
		mode:       o.mode,
		thresholds: o.thresholds,
	}, o.running
}

func (o *Orchestrator) count(f func(*Stats)) {
	o.mu.Lock()
	f(&o.stats)
	o.mu.Unlock()
}

func (o *Orchestrator) interval(n int, unit, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * unit
}

func (o *Orchestrator) orchestrationLoop(ctx context.Context) {
	defer o.wg.Done()

	interval := o.interval(o.cfg.PollIntervalSecs, time.Second, defaultPollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrNotRunning) || ctx.Err() != nil {
					return
				}
				o.log.Error("orchestration loop halted", zap.Error(err))
				o.halt(err)
				return
			}
		}
	}
}

// halt stops automation after a failure no tick can recover from. Tracked
// threads keep their leases until the next Start.
func (o *Orchestrator) halt(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.lastErr = err.Error()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				o.log.Error("loop pass failed", zap.String("loop", name), zap.Error(err))
			}
		}
	}
}
