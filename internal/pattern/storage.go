// Package pattern records negotiation outcomes as reusable patterns and
// looks them up by context similarity.
package pattern

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/store"
)

// ErrPatternNotFound is returned when updating a pattern id that was never recorded.
var ErrPatternNotFound = eris.New("pattern: pattern not found")

const (
	DefaultMinSimilarity = 0.7
	DefaultMaxResults    = 5
	DefaultAnalyticsDays = 30
	maxKeyPhrases        = 20
	maxDecisionPoints    = 20
)

// Options configures a Storage.
type Options struct {
	MinSimilarity float64
	MaxResults    int
	Now           func() time.Time
}

// AnalyticsEntry is one row of the time-windowed analytics log.
type AnalyticsEntry struct {
	ID                 string               `json:"id"`
	PatternID          string               `json:"pattern_id"`
	ThreadID           string               `json:"thread_id"`
	Outcome            model.Outcome        `json:"outcome"`
	PatternType        model.PatternType    `json:"pattern_type"`
	Tone               string               `json:"tone"`
	InfluencerCategory string               `json:"influencer_category"`
	Metrics            model.SuccessMetrics `json:"metrics"`
	RecordedAt         time.Time            `json:"recorded_at"`
	RecordedUnix       int64                `json:"recorded_unix"`
}

// Storage is the pattern store. Patterns are cached in memory after the
// first read; every write goes through the cache.
type Storage struct {
	store store.Store
	opts  Options
	log   *zap.Logger

	mu      sync.Mutex
	cache   map[string]model.NegotiationPattern
	loaded  bool
	entropy *ulid.MonotonicEntropy
}

// New creates a Storage persisting into st.
func New(st store.Store, opts Options) *Storage {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Storage{
		store:   st,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "pattern")),
		cache:   make(map[string]model.NegotiationPattern),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec
	}
}

// PatternID derives the deterministic id of a negotiation context.
func PatternID(c model.PatternContext) string {
	key := fmt.Sprintf("%s|%s|%s|%.2f-%.2f",
		normalize(c.InfluencerCategory),
		normalize(c.ProductCategory),
		normalize(c.NegotiationTone),
		c.InitialBudgetRange.Min,
		c.InitialBudgetRange.Max,
	)
	sum := sha256.Sum256([]byte(key))
	return "pat_" + hex.EncodeToString(sum[:])[:16]
}

// RecordPattern classifies an outcome, merges it into the pattern for its
// context and appends an analytics log entry.
func (s *Storage) RecordPattern(ctx context.Context, threadID string, data model.PatternData, outcome model.Outcome, metrics model.SuccessMetrics) (*model.NegotiationPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := PatternID(data.Context)
	existing, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now().UTC()
	var p model.NegotiationPattern
	if existing == nil {
		p = model.NegotiationPattern{
			PatternID:        id,
			Context:          data.Context,
			SuccessMetrics:   metrics,
			KeyPhrases:       unionPhrases(nil, data.KeyPhrases),
			ConversationFlow: data.ConversationFlow,
			DecisionPoints:   mergeDecisionPoints(nil, data.DecisionPoints),
			UsageCount:       1,
			CreatedAt:        now,
		}
	} else {
		p = *existing
		p.UsageCount++
		p.SuccessMetrics = averageMetrics(p.SuccessMetrics, metrics, p.UsageCount)
		p.KeyPhrases = unionPhrases(p.KeyPhrases, data.KeyPhrases)
		p.DecisionPoints = mergeDecisionPoints(p.DecisionPoints, data.DecisionPoints)
		if len(data.ConversationFlow) > 0 {
			p.ConversationFlow = data.ConversationFlow
		}
		if data.Context.FinalAgreedAmount > 0 {
			p.Context.FinalAgreedAmount = data.Context.FinalAgreedAmount
		}
		if data.Context.CustomInstructions != "" {
			p.Context.CustomInstructions = data.Context.CustomInstructions
		}
	}
	if outcome.Agreed() {
		p.SuccessCount++
	}
	p.PatternType = model.ClassifyPattern(outcome, p.SuccessMetrics.SatisfactionScore)
	p.LastOutcome = outcome
	p.LastThreadID = threadID
	p.SuccessRate = rate(p.SuccessCount, p.UsageCount)
	p.Features = features(p)
	p.UpdatedAt = now

	if err := s.put(ctx, p); err != nil {
		return nil, err
	}

	entry := AnalyticsEntry{
		ID:                 ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		PatternID:          id,
		ThreadID:           threadID,
		Outcome:            outcome,
		PatternType:        p.PatternType,
		Tone:               p.Context.NegotiationTone,
		InfluencerCategory: p.Context.InfluencerCategory,
		Metrics:            metrics,
		RecordedAt:         now,
		RecordedUnix:       now.Unix(),
	}
	if err := s.store.Set(ctx, store.CollectionPatternAnalytics, entry.ID, entry, false); err != nil {
		return nil, eris.Wrapf(err, "pattern: analytics entry for %s", id)
	}

	s.log.Info("pattern recorded",
		zap.String("pattern_id", id),
		zap.String("thread_id", threadID),
		zap.String("pattern_type", string(p.PatternType)),
		zap.Int("usage_count", p.UsageCount),
	)
	return &p, nil
}

// FindSimilar returns up to MaxResults success or partial patterns scoring
// at least minSimilarity, most similar first. A non-positive minSimilarity
// uses the configured default.
func (s *Storage) FindSimilar(ctx context.Context, q model.PatternQuery, minSimilarity float64) ([]model.ScoredPattern, error) {
	return s.search(ctx, q, minSimilarity, func(t model.PatternType) bool {
		return t == model.PatternSuccess || t == model.PatternPartial
	})
}

// FindNearby is FindSimilar across every pattern type, failures included.
func (s *Storage) FindNearby(ctx context.Context, q model.PatternQuery, minSimilarity float64) ([]model.ScoredPattern, error) {
	return s.search(ctx, q, minSimilarity, func(model.PatternType) bool { return true })
}

func (s *Storage) search(ctx context.Context, q model.PatternQuery, minSimilarity float64, keep func(model.PatternType) bool) ([]model.ScoredPattern, error) {
	if minSimilarity <= 0 {
		minSimilarity = s.opts.MinSimilarity
	}
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.ScoredPattern
	for _, p := range all {
		if !keep(p.PatternType) {
			continue
		}
		if q.InfluencerCategory != "" && normalize(q.InfluencerCategory) != normalize(p.Context.InfluencerCategory) {
			continue
		}
		if score := Similarity(q, p); score >= minSimilarity {
			out = append(out, model.ScoredPattern{Pattern: p, Similarity: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Pattern.SuccessRate != out[j].Pattern.SuccessRate {
			return out[i].Pattern.SuccessRate > out[j].Pattern.SuccessRate
		}
		return out[i].Pattern.PatternID < out[j].Pattern.PatternID
	})
	if len(out) > s.opts.MaxResults {
		out = out[:s.opts.MaxResults]
	}
	return out, nil
}

// Similarity scores a pattern against a query context in [0, 1]. Each
// known attribute of the query contributes one term and the terms are
// averaged: influencer category (1 or 0), product category (0.8 or 0.2)
// and budget proximity weighted by 0.6.
func Similarity(q model.PatternQuery, p model.NegotiationPattern) float64 {
	var sum float64
	var terms int

	if q.InfluencerCategory != "" {
		terms++
		if normalize(q.InfluencerCategory) == normalize(p.Context.InfluencerCategory) {
			sum += 1.0
		}
	}
	if q.ProductCategory != "" {
		terms++
		if normalize(q.ProductCategory) == normalize(p.Context.ProductCategory) {
			sum += 0.8
		} else {
			sum += 0.2
		}
	}
	b1, b2 := q.BudgetRange.Midpoint(), p.Context.InitialBudgetRange.Midpoint()
	if b1 > 0 && b2 > 0 {
		terms++
		sum += 0.6 * (1 - math.Abs(b1-b2)/math.Max(b1, b2))
	}

	if terms == 0 {
		return 0
	}
	return clamp(sum/float64(terms), 0, 1)
}

// DefaultStrategy is returned when no similar pattern exists.
func DefaultStrategy() model.BestStrategy {
	return model.BestStrategy{
		Approach:          model.ToneBalanced,
		KeyPhrases:        []string{"mutual benefit", "long-term partnership", "creative freedom"},
		RecommendedFlow:   canonicalFlow(),
		AvoidTopics:       []string{},
		BudgetFlexibility: 0.5,
		ExpectedRounds:    3,
		Confidence:        0.5,
	}
}

// GetBestStrategy derives a base strategy from the pattern maximizing
// satisfaction times similarity.
func (s *Storage) GetBestStrategy(ctx context.Context, q model.PatternQuery) (*model.BestStrategy, error) {
	similar, err := s.FindSimilar(ctx, q, 0)
	if err != nil {
		return nil, err
	}
	if len(similar) == 0 {
		def := DefaultStrategy()
		return &def, nil
	}

	best := similar[0]
	bestScore := best.Pattern.SuccessMetrics.SatisfactionScore * best.Similarity
	for _, sp := range similar[1:] {
		if score := sp.Pattern.SuccessMetrics.SatisfactionScore * sp.Similarity; score > bestScore {
			best, bestScore = sp, score
		}
	}

	p := best.Pattern
	approach := p.Context.NegotiationTone
	if approach == "" {
		approach = model.ToneBalanced
	}
	flow := p.ConversationFlow
	if len(flow) == 0 {
		flow = canonicalFlow()
	}
	avoid := []string{}
	for _, dp := range p.DecisionPoints {
		if !dp.Positive {
			avoid = append(avoid, dp.Action)
		}
	}
	rounds := int(math.Round(p.SuccessMetrics.RoundsCount))
	if rounds < 1 {
		rounds = 1
	}

	return &model.BestStrategy{
		Approach:          approach,
		KeyPhrases:        append([]string(nil), p.KeyPhrases...),
		RecommendedFlow:   flow,
		AvoidTopics:       avoid,
		BudgetFlexibility: budgetFlexibility(p.Context),
		ExpectedRounds:    rounds,
		Confidence:        best.Similarity,
		SourcePatternID:   p.PatternID,
	}, nil
}

// UpdatePerformance confirms a pattern against a real outcome.
func (s *Storage) UpdatePerformance(ctx context.Context, patternID string, perf model.PerformanceData) (*model.NegotiationPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, patternID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Wrapf(ErrPatternNotFound, "update performance %s", patternID)
	}

	p := *existing
	p.UsageCount++
	if perf.Success {
		p.SuccessCount++
	}
	p.SuccessRate = rate(p.SuccessCount, p.UsageCount)
	p.UpdatedAt = s.opts.Now().UTC()

	if err := s.put(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns one pattern, or nil when the id is unknown.
func (s *Storage) Get(ctx context.Context, patternID string) (*model.NegotiationPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, patternID)
}

// All returns every recorded pattern ordered by id.
func (s *Storage) All(ctx context.Context) ([]model.NegotiationPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.warm(ctx); err != nil {
		return nil, err
	}
	out := make([]model.NegotiationPattern, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out, nil
}

// GetAnalytics aggregates the patterns recorded within the last days.
func (s *Storage) GetAnalytics(ctx context.Context, days int) (*model.AnalyticsSummary, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	now := s.opts.Now().UTC()
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	docs, err := s.store.Query(ctx, store.CollectionPatternAnalytics, store.Query{
		Conditions: []store.Condition{store.Where("recorded_unix", store.OpGte, cutoff.Unix())},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pattern: analytics")
	}

	summary := &model.AnalyticsSummary{
		WindowDays:    days,
		ByPatternType: make(map[model.PatternType]int),
		TopTones:      []model.ToneCount{},
		ByCategory:    make(map[string]int),
		GeneratedAt:   now,
	}
	tones := make(map[string]int)
	patternIDs := make(map[string]struct{})
	for _, d := range docs {
		var e AnalyticsEntry
		if err := d.Decode(&e); err != nil {
			s.log.Warn("skipping undecodable analytics entry", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		summary.TotalRecords++
		summary.ByPatternType[e.PatternType]++
		if e.Tone != "" {
			tones[e.Tone]++
		}
		if e.InfluencerCategory != "" {
			summary.ByCategory[e.InfluencerCategory]++
		}
		patternIDs[e.PatternID] = struct{}{}
	}

	var rateSum float64
	for id := range patternIDs {
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		summary.TotalPatterns++
		rateSum += p.SuccessRate
	}
	if summary.TotalPatterns > 0 {
		summary.AvgSuccessRate = rateSum / float64(summary.TotalPatterns)
	}

	for tone, n := range tones {
		summary.TopTones = append(summary.TopTones, model.ToneCount{Tone: tone, Count: n})
	}
	sort.Slice(summary.TopTones, func(i, j int) bool {
		if summary.TopTones[i].Count != summary.TopTones[j].Count {
			return summary.TopTones[i].Count > summary.TopTones[j].Count
		}
		return summary.TopTones[i].Tone < summary.TopTones[j].Tone
	})
	if len(summary.TopTones) > 3 {
		summary.TopTones = summary.TopTones[:3]
	}
	return summary, nil
}

// get reads through the cache. Callers hold s.mu.
func (s *Storage) get(ctx context.Context, id string) (*model.NegotiationPattern, error) {
	if p, ok := s.cache[id]; ok {
		return &p, nil
	}
	if s.loaded {
		return nil, nil
	}
	doc, err := s.store.Get(ctx, store.CollectionPatterns, id)
	if err != nil {
		return nil, eris.Wrapf(err, "pattern: load %s", id)
	}
	if doc == nil {
		return nil, nil
	}
	var p model.NegotiationPattern
	if err := doc.Decode(&p); err != nil {
		return nil, eris.Wrapf(err, "pattern: decode %s", id)
	}
	s.cache[id] = p
	return &p, nil
}

// put writes a pattern to the store, then the cache. A failed write leaves
// the cached copy as it was, so it keeps matching the persisted record.
// Callers hold s.mu.
func (s *Storage) put(ctx context.Context, p model.NegotiationPattern) error {
	if err := s.store.Set(ctx, store.CollectionPatterns, p.PatternID, p, false); err != nil {
		return eris.Wrapf(err, "pattern: save %s", p.PatternID)
	}
	s.cache[p.PatternID] = p
	return nil
}

// warm loads every pattern into the cache once. Callers hold s.mu.
func (s *Storage) warm(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	docs, err := s.store.Query(ctx, store.CollectionPatterns, store.Query{})
	if err != nil {
		return eris.Wrap(err, "pattern: load all")
	}
	for _, d := range docs {
		var p model.NegotiationPattern
		if err := d.Decode(&p); err != nil {
			s.log.Warn("skipping undecodable pattern", zap.String("pattern_id", d.ID), zap.Error(err))
			continue
		}
		s.cache[p.PatternID] = p
	}
	s.loaded = true
	return nil
}

func averageMetrics(old, next model.SuccessMetrics, n int) model.SuccessMetrics {
	avg := func(a, b float64) float64 { return a + (b-a)/float64(n) }
	return model.SuccessMetrics{
		DealValue:                avg(old.DealValue, next.DealValue),
		NegotiationDurationHours: avg(old.NegotiationDurationHours, next.NegotiationDurationHours),
		RoundsCount:              avg(old.RoundsCount, next.RoundsCount),
		SatisfactionScore:        avg(old.SatisfactionScore, next.SatisfactionScore),
		BudgetEfficiency:         avg(old.BudgetEfficiency, next.BudgetEfficiency),
	}
}

func unionPhrases(existing, added []string) []string {
	out := make([]string, 0, min(len(existing)+len(added), maxKeyPhrases))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, phrase := range list {
			key := normalize(phrase)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			if len(out) == maxKeyPhrases {
				return out
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(phrase))
		}
	}
	return out
}

func mergeDecisionPoints(existing, added []model.DecisionPoint) []model.DecisionPoint {
	out := append([]model.DecisionPoint{}, existing...)
	for _, dp := range added {
		dup := false
		for _, e := range out {
			if e.Stage == dp.Stage && e.Action == dp.Action && e.Result == dp.Result {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, dp)
		}
	}
	if len(out) > maxDecisionPoints {
		out = out[len(out)-maxDecisionPoints:]
	}
	return out
}

func features(p model.NegotiationPattern) model.PatternFeatures {
	b := p.Context.InitialBudgetRange
	span := 0.0
	if b.Max > b.Min {
		span = b.Max - b.Min
	}
	return model.PatternFeatures{
		InfluencerCategory: normalize(p.Context.InfluencerCategory),
		ProductCategory:    normalize(p.Context.ProductCategory),
		Tone:               normalize(p.Context.NegotiationTone),
		BudgetMidpoint:     b.Midpoint(),
		BudgetSpan:         span,
		Rounds:             p.SuccessMetrics.RoundsCount,
		DurationHours:      p.SuccessMetrics.NegotiationDurationHours,
		Satisfaction:       p.SuccessMetrics.SatisfactionScore,
	}
}

// budgetFlexibility is where the agreed amount landed inside the initial range.
func budgetFlexibility(c model.PatternContext) float64 {
	b := c.InitialBudgetRange
	if c.FinalAgreedAmount <= 0 || b.Max <= b.Min {
		return 0.5
	}
	return clamp((c.FinalAgreedAmount-b.Min)/(b.Max-b.Min), 0, 1)
}

func canonicalFlow() []model.Stage {
	return []model.Stage{
		model.StageInitialContact,
		model.StageInterestConfirmation,
		model.StageConditionNegotiation,
		model.StageFinalAgreement,
		model.StageCompleted,
	}
}

func rate(success, usage int) float64 {
	if usage == 0 {
		return 0
	}
	return float64(success) / float64(usage)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
