// Package api is the HTTP control surface for automated negotiations.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/monitoring"
	"github.com/sells-group/negotiator/internal/optimizer"
	"github.com/sells-group/negotiator/internal/orchestrator"
	"github.com/sells-group/negotiator/internal/pattern"
	"github.com/sells-group/negotiator/internal/threadstate"
)

// Deps are the components the handlers serve.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Threads      *threadstate.Manager
	Patterns     *pattern.Storage
	Optimizer    *optimizer.Engine
	// Collector is optional; without it the monitoring route is not mounted.
	Collector *monitoring.Collector

	// Settings and UserID are used when a request does not carry its own.
	Settings *model.CompanySettings
	UserID   string
}

// Handler provides the route handlers.
type Handler struct {
	deps Deps
	log  *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, log: zap.L().With(zap.String("component", "api"))}
}

// NewRouter builds the router with middleware and every route mounted.
func NewRouter(deps Deps, allowedOrigins []string) http.Handler {
	h := NewHandler(deps)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts every route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/automation", func(r chi.Router) {
		r.Get("/status", h.AutomationStatus)
		r.Post("/start", h.StartAutomation)
		r.Post("/stop", h.StopAutomation)
		r.Post("/tick", h.Tick)
	})

	r.Route("/threads", func(r chi.Router) {
		r.Get("/", h.ListThreads)
		r.Get("/{id}", h.GetThread)
		r.Post("/{id}/responses", h.RecordResponse)
		r.Post("/{id}/outcome", h.RecordOutcome)
	})

	r.Route("/approvals", func(r chi.Router) {
		r.Get("/", h.ListApprovals)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/dismiss", h.Dismiss)
	})

	r.Get("/patterns/analytics", h.PatternAnalytics)

	r.Route("/strategy", func(r chi.Router) {
		r.Post("/recommend", h.Recommend)
		r.Post("/adaptive", h.Adaptive)
		r.Post("/predict", h.Predict)
	})

	if h.deps.Collector != nil {
		r.Get("/monitoring/snapshot", h.MonitoringSnapshot)
	}
}

// Health reports liveness and whether automation is running.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"automation": h.deps.Orchestrator.Status().Running,
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// fail maps a domain error onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrNotRunning),
		errors.Is(err, threadstate.ErrThreadClosed):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrApprovalNotFound), errors.Is(err, pattern.ErrPatternNotFound):
		status = http.StatusNotFound
	case errors.Is(err, threadstate.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	Error(w, status, err.Error())
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
