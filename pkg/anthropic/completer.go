package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

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
func (c *Completer) Name() string { return "anthropic" }

// Complete sends one user prompt under a cached system prompt and returns
// the text of the reply.
func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, error) {
	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      BuildCachedSystemBlocks(system, ""),
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(c.model, "analyze")

	text := resp.Text()
	if text == "" {
		return "", eris.Errorf("anthropic: empty completion (stop reason %q)", resp.StopReason)
	}
	return text, nil
}
