package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// DefaultLeaseTTL bounds how long one claim may be held before another
// claimant may take the thread over.
const DefaultLeaseTTL = 10 * time.Minute

// Lease is a thread the orchestrator is negotiating. Since is the first
// claim and survives renewals; Busy marks a claim that is being processed.
type Lease struct {
	ThreadID  string    `json:"thread_id"`
	Since     time.Time `json:"since"`
	ClaimedAt time.Time `json:"claimed_at"`
	Busy      bool      `json:"busy"`
}

// LeaseTable tracks the threads under automation and guarantees at most
// one processor per thread.
type LeaseTable struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	leases map[string]*Lease
}

// NewLeaseTable creates an empty table. A non-positive ttl uses DefaultLeaseTTL.
func NewLeaseTable(ttl time.Duration, now func() time.Time) *LeaseTable {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if now == nil {
		now = time.Now
	}
	return &LeaseTable{ttl: ttl, now: now, leases: make(map[string]*Lease)}
}

// Claim marks threadID busy. It fails while another claim is live; a busy
// claim older than the TTL is taken over.
func (t *LeaseTable) Claim(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	l, ok := t.leases[threadID]
	if !ok {
		t.leases[threadID] = &Lease{ThreadID: threadID, Since: now, ClaimedAt: now, Busy: true}
		return true
	}
	if l.Busy && now.Sub(l.ClaimedAt) < t.ttl {
		return false
	}
	l.Busy = true
	l.ClaimedAt = now
	return true
}

// Release ends processing but keeps the thread tracked.
func (t *LeaseTable) Release(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.leases[threadID]; ok {
		l.Busy = false
	}
}

// Drop forgets threadID.
func (t *LeaseTable) Drop(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.leases, threadID)
}

// Busy reports whether threadID holds a live claim.
func (t *LeaseTable) Busy(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[threadID]
	return ok && l.Busy && t.now().Sub(l.ClaimedAt) < t.ttl
}

// Tracked returns a snapshot of every lease, oldest first.
func (t *LeaseTable) Tracked() []Lease {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Lease, 0, len(t.leases))
	for _, l := range t.leases {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// OlderThan returns the idle leases first claimed more than age ago.
func (t *LeaseTable) OlderThan(age time.Duration) []Lease {
	now := t.now()
	var out []Lease
	for _, l := range t.Tracked() {
		if !l.Busy && now.Sub(l.Since) > age {
			out = append(out, l)
		}
	}
	return out
}

// Len is the number of tracked threads.
func (t *LeaseTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}

// Reset forgets every lease.
func (t *LeaseTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leases = make(map[string]*Lease)
}
