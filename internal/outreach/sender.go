// Package outreach composes negotiation emails and hands them to the mail
// bridge for delivery.
package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/config"
	"github.com/sells-group/negotiator/internal/resilience"
)

// ErrSendFailure marks a message that was not accepted for delivery. The
// caller must not record it as sent.
var ErrSendFailure = eris.New("outreach: send failed")

// Sender delivers one message on a thread.
type Sender interface {
	Send(ctx context.Context, threadID, content string) error
}

// NewSender builds the sender selected by cfg.Mode.
func NewSender(cfg config.SenderConfig, retry resilience.RetryConfig, breaker resilience.CircuitBreakerConfig) (Sender, error) {
	switch cfg.Mode {
	case "", "dryrun":
		return NewDryRun(), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, eris.New("outreach: webhook mode needs sender.webhook_url")
		}
		return NewWebhookSender(cfg, resilience.NewGuard("mail-bridge", cfg.RatePerSecond, 1, retry, breaker)), nil
	default:
		return nil, eris.Errorf("outreach: unknown sender mode %q", cfg.Mode)
	}
}

type webhookPayload struct {
	ThreadID string    `json:"thread_id"`
	Content  string    `json:"content"`
	QueuedAt time.Time `json:"queued_at"`
}

// WebhookSender posts messages to the mail bridge webhook.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
	guard  *resilience.Guard
}

// NewWebhookSender returns a sender for cfg.WebhookURL.
func NewWebhookSender(cfg config.SenderConfig, guard *resilience.Guard) *WebhookSender {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookSender{
		url:    cfg.WebhookURL,
		token:  cfg.Token,
		client: &http.Client{Timeout: timeout},
		guard:  guard,
	}
}

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, threadID, content string) error {
	payload, err := json.Marshal(webhookPayload{ThreadID: threadID, Content: content, QueuedAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "outreach: marshal message")
	}

	_, err = resilience.Call(ctx, s.guard, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.post(ctx, payload)
	})
	if err != nil {
		return eris.Wrapf(ErrSendFailure, "thread %s: %v", threadID, err)
	}
	return nil
}

func (s *WebhookSender) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "outreach: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "outreach: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &resilience.StatusError{Service: "mail-bridge", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// SentMessage is a message captured by DryRun.
type SentMessage struct {
	ThreadID string
	Content  string
	SentAt   time.Time
}

// DryRun logs messages instead of delivering them.
type DryRun struct {
	mu   sync.Mutex
	sent []SentMessage
}

// NewDryRun returns a DryRun sender.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// Send implements Sender.
func (d *DryRun) Send(ctx context.Context, threadID, content string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(ErrSendFailure, "thread %s: %v", threadID, err)
	}
	d.mu.Lock()
	d.sent = append(d.sent, SentMessage{ThreadID: threadID, Content: content, SentAt: time.Now().UTC()})
	d.mu.Unlock()

	zap.L().Info("dry run: message not delivered",
		zap.String("component", "outreach"),
		zap.String("thread_id", threadID),
		zap.Int("length", len(content)),
	)
	return nil
}

// Sent returns a copy of the captured messages.
func (d *DryRun) Sent() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SentMessage(nil), d.sent...)
}
