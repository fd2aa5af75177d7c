package model

import (
	"sort"
	"time"
)

// ThreadStatus is the automation status of a negotiation thread.
type ThreadStatus string

const (
	ThreadStatusActive          ThreadStatus = "active"
	ThreadStatusWaitingResponse ThreadStatus = "waiting_response"
	ThreadStatusPendingApproval ThreadStatus = "pending_approval"
	ThreadStatusAutoNegotiating ThreadStatus = "auto_negotiating"
	ThreadStatusEscalated       ThreadStatus = "escalated"
	ThreadStatusCompleted       ThreadStatus = "completed"
	ThreadStatusExpired         ThreadStatus = "expired"
)

// Terminal reports whether no further updates are accepted in this status.
func (s ThreadStatus) Terminal() bool {
	return s == ThreadStatusCompleted
}

// OpenStatuses lists every status that ListActive returns by default.
var OpenStatuses = []ThreadStatus{
	ThreadStatusActive,
	ThreadStatusWaitingResponse,
	ThreadStatusPendingApproval,
	ThreadStatusAutoNegotiating,
	ThreadStatusEscalated,
}

// Stage is the canonical progress phase of a negotiation.
type Stage string

const (
	StageInitialContact       Stage = "initial_contact"
	StageInterestConfirmation Stage = "interest_confirmation"
	StageConditionNegotiation Stage = "condition_negotiation"
	StageFinalAgreement       Stage = "final_agreement"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
)

// StageOrder is the canonical forward order. StageFailed is reachable from
// any non-terminal stage and is not part of the order.
var StageOrder = []Stage{
	StageInitialContact,
	StageInterestConfirmation,
	StageConditionNegotiation,
	StageFinalAgreement,
	StageCompleted,
}

// Index returns the position of s in StageOrder, or -1 for failed/unknown.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageFailed || s.Index() >= 0
}

// Terminal reports whether s ends the negotiation.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Next returns the stage following s in canonical order.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(StageOrder) {
		return "", false
	}
	return StageOrder[i+1], true
}

// EventType names an entry in a thread's audit log.
type EventType string

const (
	EventMessageSent         EventType = "message_sent"
	EventResponseReceived    EventType = "response_received"
	EventEscalationTriggered EventType = "escalation_triggered"
	EventSentimentAnalyzed   EventType = "sentiment_analyzed"
	EventStrategyApplied     EventType = "strategy_applied"
	EventApprovalRequested   EventType = "approval_requested"
	EventSendFailed          EventType = "send_failed"
	EventOutcomeRecorded     EventType = "outcome_recorded"
)

// Terms is the commercial context of a negotiation.
type Terms struct {
	InfluencerCategory string  `json:"influencer_category,omitempty"`
	ProductCategory    string  `json:"product_category,omitempty"`
	BudgetMin          float64 `json:"budget_min,omitempty"`
	BudgetMax          float64 `json:"budget_max,omitempty"`
	OfferedAmount      float64 `json:"offered_amount,omitempty"`
	RequestedAmount    float64 `json:"requested_amount,omitempty"`
	AgreedAmount       float64 `json:"agreed_amount,omitempty"`
	Tone               string  `json:"tone,omitempty"`
}

// AppliedStrategy records the strategy most recently executed on a thread.
type AppliedStrategy struct {
	Tone            string    `json:"tone"`
	Timing          string    `json:"timing"`
	BudgetApproach  string    `json:"budget_approach"`
	SourcePatternID string    `json:"source_pattern_id,omitempty"`
	ExpectedRounds  int       `json:"expected_rounds,omitempty"`
	AppliedAt       time.Time `json:"applied_at"`
}

// RoundEntry is one round_history item.
type RoundEntry struct {
	Round     int         `json:"round"`
	Timestamp time.Time   `json:"timestamp"`
	Updates   ThreadPatch `json:"updates"`
}

// ThreadEvent is one event_history item.
type ThreadEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// StageEntry is one stage_history item.
type StageEntry struct {
	Stage     Stage     `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
}

// ThreadState is the persisted state of one negotiation conversation.
type ThreadState struct {
	ThreadID             string       `json:"thread_id"`
	UserID               string       `json:"user_id,omitempty"`
	Status               ThreadStatus `json:"status"`
	Stage                Stage        `json:"negotiation_stage"`
	RoundNumber          int          `json:"round_number"`
	CreatedAt            time.Time    `json:"created_at"`
	LastUpdated          time.Time    `json:"last_updated"`
	LastMessageSent      *time.Time   `json:"last_message_sent,omitempty"`
	LastResponseReceived *time.Time   `json:"last_response_received,omitempty"`
	ResponseTimeHours    *float64     `json:"response_time_hours,omitempty"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
	FailedAt             *time.Time   `json:"failed_at,omitempty"`

	RoundHistory []RoundEntry  `json:"round_history"`
	EventHistory []ThreadEvent `json:"event_history"`
	StageHistory []StageEntry  `json:"stage_history"`

	EscalationCount  int     `json:"escalation_count"`
	EscalationReason string  `json:"escalation_reason,omitempty"`
	Progress         float64 `json:"progress"`

	Terms         Terms            `json:"terms"`
	Strategy      *AppliedStrategy `json:"strategy,omitempty"`
	LastSentiment float64          `json:"last_sentiment"`

	ResponseTimeoutHours int `json:"response_timeout_hours"`
	MaxDurationDays      int `json:"max_duration_days"`
}

// HasNewResponse reports whether the influencer replied after our last message.
func (t *ThreadState) HasNewResponse() bool {
	if t.LastResponseReceived == nil {
		return false
	}
	if t.LastMessageSent == nil {
		return true
	}
	return t.LastResponseReceived.After(*t.LastMessageSent)
}

// ThreadPatch is a partial update to a ThreadState. Nil fields are left untouched.
type ThreadPatch struct {
	Status               *ThreadStatus    `json:"status,omitempty"`
	Stage                *Stage           `json:"negotiation_stage,omitempty"`
	UserID               *string          `json:"user_id,omitempty"`
	EscalationReason     *string          `json:"escalation_reason,omitempty"`
	InfluencerCategory   *string          `json:"influencer_category,omitempty"`
	ProductCategory      *string          `json:"product_category,omitempty"`
	BudgetMin            *float64         `json:"budget_min,omitempty"`
	BudgetMax            *float64         `json:"budget_max,omitempty"`
	OfferedAmount        *float64         `json:"offered_amount,omitempty"`
	RequestedAmount      *float64         `json:"requested_amount,omitempty"`
	AgreedAmount         *float64         `json:"agreed_amount,omitempty"`
	Tone                 *string          `json:"tone,omitempty"`
	LastSentiment        *float64         `json:"last_sentiment,omitempty"`
	Strategy             *AppliedStrategy `json:"strategy,omitempty"`
	ResponseTimeoutHours *int             `json:"response_timeout_hours,omitempty"`
}

// Empty reports whether the patch sets nothing.
func (p ThreadPatch) Empty() bool {
	return p == ThreadPatch{}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Message is one email in a negotiation conversation.
type Message struct {
	Role      string    `json:"role"` // "company" or "influencer"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleCompany    = "company"
	RoleInfluencer = "influencer"
)

// MessagesFromEvents rebuilds the conversation from message_sent and
// response_received events, oldest first.
func MessagesFromEvents(events []ThreadEvent) []Message {
	var msgs []Message
	for _, e := range events {
		var role string
		switch e.Type {
		case EventMessageSent:
			role = RoleCompany
		case EventResponseReceived:
			role = RoleInfluencer
		default:
			continue
		}
		content, _ := e.Data["content"].(string)
		if content == "" {
			continue
		}
		msgs = append(msgs, Message{Role: role, Content: content, Timestamp: e.Timestamp})
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs
}
