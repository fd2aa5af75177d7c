package api

import (
	"net/http"
	"strconv"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/optimizer"
)

// PatternAnalytics aggregates recorded patterns. ?days= bounds the window.
func (h *Handler) PatternAnalytics(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	summary, err := h.deps.Patterns.GetAnalytics(r.Context(), days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

type recommendRequest struct {
	ThreadID  string                 `json:"thread_id,omitempty"`
	Goal      model.Goal             `json:"goal,omitempty"`
	Settings  *model.CompanySettings `json:"settings,omitempty"`
	Situation *optimizer.Situation   `json:"situation,omitempty"`
}

// Recommend returns the optimized strategy for a thread or an explicit
// situation. Nothing is sent.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings := req.Settings
	if settings == nil {
		settings = h.deps.Settings
	}
	goal := req.Goal
	if goal == "" && settings != nil {
		goal = settings.Goal
	}
	if goal == "" {
		goal = model.GoalClosureRate
	}
	if !goal.Valid() {
		Error(w, http.StatusBadRequest, "unknown goal")
		return
	}

	var sit optimizer.Situation
	switch {
	case req.Situation != nil:
		sit = *req.Situation
	case req.ThreadID != "":
		state, err := h.deps.Threads.GetState(r.Context(), req.ThreadID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		sit = optimizer.SituationFor(state, nil, settings)
	default:
		sit = optimizer.SituationFor(nil, nil, settings)
	}

	history, err := h.deps.Orchestrator.History(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	strategy, err := h.deps.Optimizer.OptimizeStrategy(r.Context(), sit, history, goal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, strategy)
}

// Adaptive returns in-flight adjustments for a thread given live signals.
func (h *Handler) Adaptive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string                `json:"thread_id"`
		Signals  model.RealTimeSignals `json:"signals"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		Error(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	state, err := h.deps.Threads.GetState(r.Context(), req.ThreadID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recs := optimizer.GetAdaptiveRecommendations(state, req.Signals)
	JSON(w, http.StatusOK, map[string]any{"thread_id": req.ThreadID, "recommendations": recs})
}

// Predict estimates the outcome of a proposed action on a thread.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string               `json:"thread_id"`
		Action   model.ProposedAction `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		Error(w, http.StatusBadRequest, "thread_id is required")
		return
	}
	state, err := h.deps.Threads.GetState(r.Context(), req.ThreadID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.deps.Optimizer.PredictNegotiationOutcome(r.Context(), state, req.Action))
}
