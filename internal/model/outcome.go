package model

import "time"

// NegotiationOutcome is the recorded result of a finished negotiation.
type NegotiationOutcome struct {
	ThreadID              string          `json:"thread_id"`
	UserID                string          `json:"user_id,omitempty"`
	Outcome               Outcome         `json:"outcome"`
	DealClosed            bool            `json:"deal_closed"`
	SatisfactionScore     float64         `json:"satisfaction_score"`
	DealValue             float64         `json:"deal_value"`
	DurationHours         float64         `json:"duration_hours"`
	ExpectedDurationHours float64         `json:"expected_duration_hours"`
	Rounds                int             `json:"rounds"`
	StrategyUsed          AppliedStrategy `json:"strategy_used"`
	PatternID             string          `json:"pattern_id,omitempty"`
	Processed             bool            `json:"processed"`
	RecordedAt            time.Time       `json:"recorded_at"`
	RecordedUnix          int64           `json:"recorded_unix"`
}

// ApprovalKind distinguishes approval requests from escalations.
type ApprovalKind string

const (
	ApprovalKindApproval   ApprovalKind = "approval"
	ApprovalKindEscalation ApprovalKind = "escalation"
	ApprovalKindShutdown   ApprovalKind = "shutdown"
)

// ApprovalItem is one entry of the human review queue.
type ApprovalItem struct {
	ThreadID   string       `json:"thread_id"`
	UserID     string       `json:"user_id,omitempty"`
	Kind       ApprovalKind `json:"kind"`
	Reasons    []string     `json:"reasons"`
	Status     ThreadStatus `json:"status"`
	Stage      Stage        `json:"negotiation_stage"`
	Round      int          `json:"round_number"`
	Confidence float64      `json:"confidence"`
	RiskScore  float64      `json:"risk_score"`
	RiskLevel  Level        `json:"risk_level,omitempty"`
	Resolved   bool         `json:"resolved"`
	Resolution string       `json:"resolution,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}
