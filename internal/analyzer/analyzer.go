// Package analyzer interprets a negotiation thread: the stage it has reached,
// how the influencer feels about it, and what the company should do next.
package analyzer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/negotiator/internal/model"
)

// ErrAnalyzerUnavailable is returned when an analysis cannot be produced.
// Callers treat it as insufficient confidence and escalate the thread.
var ErrAnalyzerUnavailable = eris.New("analyzer: unavailable")

// ContextAnalyzer turns a message thread into a structured analysis.
type ContextAnalyzer interface {
	Analyze(ctx context.Context, messages []model.Message, settings *model.CompanySettings) (*model.Analysis, error)
}

// Options configures the heuristic analyzer.
type Options struct {
	// MaxMessages caps how many trailing messages are considered. Zero keeps all.
	MaxMessages int
	// CompetitorTerms extends the built-in competitor phrases.
	CompetitorTerms []string
}

// trimMessages keeps the last max messages.
func trimMessages(messages []model.Message, max int) []model.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}
