// Package openai wraps the OpenAI Responses API for single-turn JSON
// completions.
package openai

import (
	"context"
	"strings"

	oai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the OpenAI operations used by the analyzer.
type Client interface {
	CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error)
}

// ResponseRequest is our own request type for CreateResponse.
type ResponseRequest struct {
	Model           string
	Instructions    string
	Input           string
	MaxOutputTokens int64
	JSON            bool
}

// Response is our own response type from CreateResponse.
type Response struct {
	ID           string
	Model        string
	Status       string
	Text         string
	InputTokens  int64
	OutputTokens int64
}

type sdkClient struct {
	client oai.Client
}

// NewClient creates an OpenAI client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL string, opts ...ooption.RequestOption) Client {
	base := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(apiKey)),
		ooption.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		base = append(base, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &sdkClient{client: oai.NewClient(append(base, opts...)...)}
}

func (c *sdkClient) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, eris.New("openai: missing model")
	}
	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(strings.TrimSpace(req.Model)),
		Input: oresponses.ResponseNewParamsInputUnion{OfString: oai.String(req.Input)},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = oai.Int(req.MaxOutputTokens)
	}
	if strings.TrimSpace(req.Instructions) != "" {
		params.Instructions = oai.String(strings.TrimSpace(req.Instructions))
	}
	if req.JSON {
		obj := oshared.NewResponseFormatJSONObjectParam()
		params.Text = oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &obj},
		}
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create response")
	}

	out := &Response{
		ID:           resp.ID,
		Model:        string(resp.Model),
		Status:       string(resp.Status),
		Text:         resp.OutputText(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	zap.L().Debug("cost attribution",
		zap.String("provider", "openai"),
		zap.String("model", out.Model),
		zap.Int64("input_tokens", out.InputTokens),
		zap.Int64("output_tokens", out.OutputTokens),
	)
	return out, nil
}

// Completer adapts a Client to a single-turn system + prompt completion.
type Completer struct {
	client    Client
	model     string
	maxTokens int64
}

// NewCompleter returns a Completer for model.
func NewCompleter(client Client, model string, maxTokens int64) *Completer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Completer{client: client, model: model, maxTokens: maxTokens}
}

// Name identifies the provider in analysis records.
func (c *Completer) Name() string { return "openai" }

// Complete requests a JSON object answer to prompt under the system instructions.
func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.CreateResponse(ctx, ResponseRequest{
		Model:           c.model,
		Instructions:    system,
		Input:           prompt,
		MaxOutputTokens: c.maxTokens,
		JSON:            true,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", eris.Errorf("openai: empty completion (status %q)", resp.Status)
	}
	return resp.Text, nil
}
