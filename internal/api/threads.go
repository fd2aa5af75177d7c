package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/negotiator/internal/model"
)

// ListThreads lists threads by status (comma separated, every open status
// by default) and optionally by user.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	var statuses []model.ThreadStatus
	if v := r.URL.Query().Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			statuses = append(statuses, model.ThreadStatus(strings.TrimSpace(s)))
		}
	}
	threads, err := h.deps.Threads.ListActive(r.Context(), statuses, r.URL.Query().Get("user_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"threads": threads, "count": len(threads)})
}

// GetThread returns one thread's state.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.Threads.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

type responseRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id,omitempty"`
}

// RecordResponse ingests an influencer reply. The thread is attributed to
// the request's user, the running automation's user or the default user,
// so the orchestrator picks it up on its next pass.
func (h *Handler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req responseRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	state, err := h.deps.Threads.GetState(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if state.UserID == "" {
		if user := h.userFor(req.UserID); user != "" {
			if _, err := h.deps.Threads.UpdateState(r.Context(), id, model.ThreadPatch{UserID: model.Ptr(user)}, false); err != nil {
				h.fail(w, r, err)
				return
			}
		}
	}

	state, err = h.deps.Threads.RecordEvent(r.Context(), id, model.EventResponseReceived, map[string]any{
		"content": req.Content,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, state)
}

func (h *Handler) userFor(requested string) string {
	if requested != "" {
		return requested
	}
	if st := h.deps.Orchestrator.Status(); st.Running && st.UserID != "" {
		return st.UserID
	}
	return h.deps.UserID
}

// RecordOutcome closes a negotiation with a known result.
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	var oc model.NegotiationOutcome
	if err := decode(r, &oc); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	oc.ThreadID = chi.URLParam(r, "id")
	switch oc.Outcome {
	case model.OutcomeDealClosed, model.OutcomePriceAgreed, model.OutcomeFailed, model.OutcomeEscalated, model.OutcomeExpired:
	default:
		Error(w, http.StatusBadRequest, "outcome must be one of deal_closed, price_agreed, failed, escalated, expired")
		return
	}

	recorded, err := h.deps.Orchestrator.RecordOutcome(r.Context(), oc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, recorded)
}

// ListApprovals lists the review queue. ?all=true includes resolved items.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	items, err := h.deps.Orchestrator.Approvals(r.Context(), all)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"approvals": items, "count": len(items)})
}

// Approve hands a reviewed thread back to automation.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.Orchestrator.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// Dismiss ends a reviewed thread as failed.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := h.deps.Orchestrator.Dismiss(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}
