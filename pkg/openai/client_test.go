package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func responseBody(text string) map[string]any {
	return map[string]any{
		"id":         "resp_001",
		"object":     "response",
		"created_at": 1760000000,
		"model":      "gpt-4o-mini",
		"status":     "completed",
		"output": []map[string]any{
			{
				"type":   "message",
				"id":     "msg_001",
				"status": "completed",
				"role":   "assistant",
				"content": []map[string]any{
					{"type": "output_text", "text": text, "annotations": []any{}},
				},
			},
		},
		"usage": map[string]any{
			"input_tokens":          42,
			"output_tokens":         7,
			"total_tokens":          49,
			"input_tokens_details":  map[string]any{"cached_tokens": 0},
			"output_tokens_details": map[string]any{"reasoning_tokens": 0},
		},
	}
}

func TestSDKClient_CreateResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/responses")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "gpt-4o-mini", got["model"])
		assert.Equal(t, "analyze this thread", got["input"])
		assert.Equal(t, "reply in JSON", got["instructions"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responseBody(`{"confidence":0.7}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", ts.URL)
	resp, err := client.CreateResponse(context.Background(), ResponseRequest{
		Model:           "gpt-4o-mini",
		Instructions:    "reply in JSON",
		Input:           "analyze this thread",
		MaxOutputTokens: 256,
		JSON:            true,
	})
	require.NoError(t, err)
	assert.Equal(t, "resp_001", resp.ID)
	assert.Equal(t, `{"confidence":0.7}`, resp.Text)
	assert.Equal(t, int64(42), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)
}

func TestSDKClient_CreateResponse_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error": map[string]any{"message": "bad model", "type": "invalid_request_error"},
		})
	}))
	defer ts.Close()

	_, err := NewClient("test-key", ts.URL).CreateResponse(context.Background(), ResponseRequest{Model: "nope", Input: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai: create response")
}

func TestSDKClient_MissingModel(t *testing.T) {
	_, err := NewClient("k", "").CreateResponse(context.Background(), ResponseRequest{Input: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing model")
}

func TestCompleter(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("CreateResponse", ctx, ResponseRequest{
		Model:           "gpt-4o-mini",
		Instructions:    "sys",
		Input:           "prompt",
		MaxOutputTokens: 1024,
		JSON:            true,
	}).Return(&Response{Text: `{"ok":true}`}, nil)

	c := NewCompleter(mc, "gpt-4o-mini", 0)
	assert.Equal(t, "openai", c.Name())
	out, err := c.Complete(ctx, "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	mc.AssertExpectations(t)
}

func TestCompleter_Failures(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateResponse", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited")).Once()
	mc.On("CreateResponse", mock.Anything, mock.Anything).Return(&Response{Status: "incomplete"}, nil).Once()

	c := NewCompleter(mc, "gpt-4o-mini", 128)
	_, err := c.Complete(context.Background(), "s", "p")
	assert.ErrorContains(t, err, "rate limited")

	_, err = c.Complete(context.Background(), "s", "p")
	assert.ErrorContains(t, err, "incomplete")
}
