package notion

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func statusPage(id, status string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			PropStatus: &notionapi.StatusProperty{Status: notionapi.Status{Name: status}},
		},
	}
}

func TestQueryAll_FollowsCursor(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: notionapi.Cursor("cursor-abc"),
	}, nil).Once()
	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor("cursor-abc")
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p2"}},
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("p2"), pages[1].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_Error(t *testing.T) {
	mc := new(MockClient)
	mc.On("QueryDatabase", mock.Anything, "db-err", mock.Anything).Return(nil, assert.AnError)

	pages, err := QueryAll(context.Background(), mc, "db-err", nil)
	assert.Nil(t, pages)
	assert.ErrorContains(t, err, "notion: query all")
}

func TestCreateReviewPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	opened := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		if req.Parent.DatabaseID != notionapi.DatabaseID("db-review") {
			return false
		}
		kind, ok := req.Properties[PropKind].(notionapi.SelectProperty)
		if !ok || kind.Select.Name != "approval" {
			return false
		}
		status, ok := req.Properties[PropStatus].(notionapi.StatusProperty)
		if !ok || status.Status.Name != StatusOpen {
			return false
		}
		reasons, ok := req.Properties[PropReasons].(notionapi.RichTextProperty)
		if !ok || reasons.RichText[0].Text.Content != "round limit exceeded; high risk" {
			return false
		}
		title, ok := req.Properties[PropTitle].(notionapi.TitleProperty)
		if !ok || title.Title[0].Text.Content != "t-42" {
			return false
		}
		round, ok := req.Properties[PropRound].(notionapi.NumberProperty)
		date, dok := req.Properties[PropOpened].(notionapi.DateProperty)
		return ok && round.Number == 6 && dok && time.Time(*date.Date.Start).Equal(opened)
	})).Return(&notionapi.Page{ID: "page-1"}, nil)

	id, err := CreateReviewPage(ctx, mc, "db-review", ReviewItem{
		ThreadID: "t-42",
		Kind:     "approval",
		Reasons:  []string{"round limit exceeded", "high risk"},
		Stage:    "condition_negotiation",
		Round:    6,
		OpenedAt: opened,
	})
	require.NoError(t, err)
	assert.Equal(t, "page-1", id)
	mc.AssertExpectations(t)
}

func TestCreateReviewPage_Error(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreatePage", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := CreateReviewPage(context.Background(), mc, "db", ReviewItem{ThreadID: "t1"})
	assert.ErrorContains(t, err, "create review page for t1")
}

func TestFindOpenReviewPages(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-review", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == PropThreadID && pf.RichText != nil && pf.RichText.Equals == "t1"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{statusPage("p1", StatusOpen), statusPage("p2", "Approved"), {ID: "p3"}},
	}, nil)

	pages, err := FindOpenReviewPages(ctx, mc, "db-review", "t1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, notionapi.ObjectID("p1"), pages[0].ID)
}

func TestResolveReviewPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("UpdatePage", ctx, "p1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		st, ok := req.Properties[PropStatus].(notionapi.StatusProperty)
		_, hasDate := req.Properties[PropResolved].(notionapi.DateProperty)
		return ok && st.Status.Name == "Approved" && hasDate
	})).Return(&notionapi.Page{ID: "p1"}, nil).Once()
	mc.On("UpdatePage", ctx, "p2", mock.Anything).Return(nil, assert.AnError).Once()

	require.NoError(t, ResolveReviewPage(ctx, mc, "p1", "Approved"))
	assert.ErrorContains(t, ResolveReviewPage(ctx, mc, "p2", "Dismissed"), "resolve review page p2")
	mc.AssertExpectations(t)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
