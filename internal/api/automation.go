package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
)

type startRequest struct {
	UserID   string                 `json:"user_id"`
	Mode     model.AutomationMode   `json:"mode"`
	Settings *model.CompanySettings `json:"settings,omitempty"`
}

// StartAutomation starts the orchestrator for one user.
func (h *Handler) StartAutomation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Mode.Valid() {
		Error(w, http.StatusBadRequest, "mode must be one of manual, semi_auto, full_auto, learning")
		return
	}
	if req.UserID == "" {
		req.UserID = h.deps.UserID
	}
	settings := req.Settings
	if settings == nil {
		settings = h.deps.Settings
	}
	if settings == nil {
		Error(w, http.StatusBadRequest, "company settings are required")
		return
	}
	if settings.Goal == "" {
		settings.Goal = model.GoalClosureRate
	}
	if err := settings.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.deps.Orchestrator.Start(r.Context(), req.UserID, settings, req.Mode); err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("automation started via api", zap.String("user_id", req.UserID), zap.String("mode", string(req.Mode)))
	JSON(w, http.StatusOK, h.deps.Orchestrator.Status())
}

// StopAutomation stops the orchestrator and reports what was preserved.
func (h *Handler) StopAutomation(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Orchestrator.Stop(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

// AutomationStatus reports the orchestrator's state.
func (h *Handler) AutomationStatus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.deps.Orchestrator.Status())
}

// Tick runs one orchestration pass immediately.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Orchestrator.RunOnce(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

// MonitoringSnapshot returns the current health metrics.
func (h *Handler) MonitoringSnapshot(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	snap, err := h.deps.Collector.Collect(r.Context(), hours)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, snap)
}
