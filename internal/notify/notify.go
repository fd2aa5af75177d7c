// Package notify surfaces threads that need a human to the review queue.
package notify

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/config"
	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/pkg/notion"
)

// Notifier publishes approval items to people.
type Notifier interface {
	Notify(ctx context.Context, item model.ApprovalItem) error
	Resolve(ctx context.Context, threadID, resolution string) error
}

// New returns a Notion notifier when a review database is configured and a
// log-only notifier otherwise.
func New(cfg config.NotionConfig) Notifier {
	if cfg.Token == "" || cfg.ApprovalDB == "" {
		return Log{}
	}
	return NewNotion(notion.NewClient(cfg.Token), cfg.ApprovalDB)
}

// Log writes approval items to the application log.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, item model.ApprovalItem) error {
	zap.L().Info("thread needs review",
		zap.String("component", "notify"),
		zap.String("thread_id", item.ThreadID),
		zap.String("kind", string(item.Kind)),
		zap.Strings("reasons", item.Reasons),
		zap.Float64("confidence", item.Confidence),
		zap.Float64("risk_score", item.RiskScore),
	)
	return nil
}

// Resolve implements Notifier.
func (Log) Resolve(_ context.Context, threadID, resolution string) error {
	zap.L().Info("review resolved",
		zap.String("component", "notify"),
		zap.String("thread_id", threadID),
		zap.String("resolution", resolution),
	)
	return nil
}

// Notion mirrors approval items into a Notion review database.
type Notion struct {
	client notion.Client
	dbID   string
}

// NewNotion returns a notifier writing to database dbID.
func NewNotion(client notion.Client, dbID string) *Notion {
	return &Notion{client: client, dbID: dbID}
}

// Notify implements Notifier. A thread with an open page is not added twice.
func (n *Notion) Notify(ctx context.Context, item model.ApprovalItem) error {
	open, err := notion.FindOpenReviewPages(ctx, n.client, n.dbID, item.ThreadID)
	if err != nil {
		return eris.Wrap(err, "notify: lookup review page")
	}
	if len(open) > 0 {
		return nil
	}

	_, err = notion.CreateReviewPage(ctx, n.client, n.dbID, notion.ReviewItem{
		ThreadID:   item.ThreadID,
		Title:      title(item),
		Kind:       string(item.Kind),
		Reasons:    item.Reasons,
		Stage:      string(item.Stage),
		Round:      item.Round,
		Confidence: item.Confidence,
		RiskScore:  item.RiskScore,
		OpenedAt:   item.CreatedAt,
	})
	if err != nil {
		return eris.Wrap(err, "notify: create review page")
	}
	return nil
}

// Resolve implements Notifier by closing every open page of the thread.
func (n *Notion) Resolve(ctx context.Context, threadID, resolution string) error {
	open, err := notion.FindOpenReviewPages(ctx, n.client, n.dbID, threadID)
	if err != nil {
		return eris.Wrap(err, "notify: lookup review page")
	}
	status := resolutionStatus(resolution)
	for _, p := range open {
		if err := notion.ResolveReviewPage(ctx, n.client, string(p.ID), status); err != nil {
			return eris.Wrap(err, "notify: resolve review page")
		}
	}
	return nil
}

func title(item model.ApprovalItem) string {
	if item.UserID == "" {
		return item.ThreadID
	}
	return item.UserID + " / " + item.ThreadID
}

func resolutionStatus(resolution string) string {
	lower := strings.ToLower(resolution)
	switch {
	case strings.HasPrefix(lower, "approve"):
		return "Approved"
	case strings.HasPrefix(lower, "dismiss"):
		return "Dismissed"
	default:
		if resolution == "" {
			return "Done"
		}
		return strings.ToUpper(resolution[:1]) + resolution[1:]
	}
}
