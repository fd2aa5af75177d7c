package notion

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Review queue database property names.
const (
	PropTitle      = "Thread"
	PropThreadID   = "Thread ID"
	PropKind       = "Kind"
	PropStatus     = "Status"
	PropReasons    = "Reasons"
	PropStage      = "Stage"
	PropRound      = "Round"
	PropConfidence = "Confidence"
	PropRisk       = "Risk Score"
	PropOpened     = "Opened"
	PropResolved   = "Resolved"
)

// StatusOpen is the status of a review page awaiting a human.
const StatusOpen = "Open"

// ReviewItem is one thread that needs a human decision.
type ReviewItem struct {
	ThreadID   string
	Title      string
	Kind       string
	Reasons    []string
	Stage      string
	Round      int
	Confidence float64
	RiskScore  float64
	OpenedAt   time.Time
}

// QueryAll fetches every page of a database query, following cursors.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			return all, nil
		}
		next := *req
		next.StartCursor = resp.NextCursor
		req = &next
	}
}

// CreateReviewPage adds item to the review database and returns the page id.
func CreateReviewPage(ctx context.Context, c Client, dbID string, item ReviewItem) (string, error) {
	opened := notionapi.Date(item.OpenedAt)
	if item.OpenedAt.IsZero() {
		opened = notionapi.Date(time.Now())
	}
	title := item.Title
	if title == "" {
		title = item.ThreadID
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: notionapi.Properties{
			PropTitle: notionapi.TitleProperty{
				Type:  notionapi.PropertyTypeTitle,
				Title: richText(title),
			},
			PropThreadID: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(item.ThreadID),
			},
			PropKind: notionapi.SelectProperty{
				Type:   notionapi.PropertyTypeSelect,
				Select: notionapi.Option{Name: item.Kind},
			},
			PropStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: StatusOpen},
			},
			PropReasons: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(truncate(strings.Join(item.Reasons, "; "), 2000)),
			},
			PropStage: notionapi.SelectProperty{
				Type:   notionapi.PropertyTypeSelect,
				Select: notionapi.Option{Name: item.Stage},
			},
			PropRound:      notionapi.NumberProperty{Number: float64(item.Round)},
			PropConfidence: notionapi.NumberProperty{Number: item.Confidence},
			PropRisk:       notionapi.NumberProperty{Number: item.RiskScore},
			PropOpened: notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &opened},
			},
		},
	})
	if err != nil {
		return "", eris.Wrapf(err, "notion: create review page for %s", item.ThreadID)
	}
	return string(page.ID), nil
}

// FindOpenReviewPages returns the open review pages for threadID.
func FindOpenReviewPages(ctx context.Context, c Client, dbID, threadID string) ([]notionapi.Page, error) {
	pages, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropThreadID,
			RichText: &notionapi.TextFilterCondition{Equals: threadID},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find review pages for %s", threadID)
	}

	open := pages[:0]
	for _, p := range pages {
		if pageStatus(p) == StatusOpen {
			open = append(open, p)
		}
	}
	return open, nil
}

func pageStatus(p notionapi.Page) string {
	prop, ok := p.Properties[PropStatus]
	if !ok {
		return ""
	}
	if sp, ok := prop.(*notionapi.StatusProperty); ok {
		return sp.Status.Name
	}
	return ""
}

// ResolveReviewPage moves a review page to status with a resolution date.
func ResolveReviewPage(ctx context.Context, c Client, pageID, status string) error {
	now := notionapi.Date(time.Now())
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			PropStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: status},
			},
			PropResolved: notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &now},
			},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "notion: resolve review page %s", pageID)
	}
	return nil
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
