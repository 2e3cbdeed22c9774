package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kanavdutta/fastlimit/internal/logger"
	"github.com/kanavdutta/fastlimit/metrics"
	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
)

// maxBodyBytes bounds the size of a check request body
const maxBodyBytes = 64 << 10

// Error codes returned in ErrorResponse.Error
const (
	CodeLimit          = fastlimit.LimitKind
	CodeNoToken        = "NO_TOKEN"
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
)

// MetricsProvider defines the interface for getting metrics
type MetricsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// Handler serves the admission API
type Handler struct {
	limiter fastlimit.RateLimiter
	metrics MetricsProvider
	logger  *slog.Logger
}

// NewHandler creates a new API handler. provider may be nil, in which case
// the metrics endpoint answers 404.
func NewHandler(limiter fastlimit.RateLimiter, provider MetricsProvider, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		limiter: limiter,
		metrics: provider,
		logger:  log,
	}
}

// Routes returns the router of the admission API. Callers may mount more
// routes on it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog(h.logger))

	r.Get("/healthz", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/consume", h.handleConsume)
		r.Post("/peek", h.handlePeek)
		r.Get("/namespaces/{namespace}", h.handleInspect)
		r.Delete("/namespaces/{namespace}", h.handleReset)
		r.With(cors).Get("/metrics", h.handleMetrics)
	})

	return r
}

// CheckRequest represents the incoming admission check
type CheckRequest struct {
	// Namespace identifies the caller. Empty means no throttling.
	Namespace string `json:"namespace"`
}

// CheckResponse represents the admission check response
type CheckResponse struct {
	Allowed   bool   `json:"allowed"`
	Bypassed  bool   `json:"bypassed,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`
	// ResetAt is the unix time in milliseconds when the window ends
	ResetAt int64 `json:"reset_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, true)
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, false)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request, consume bool) {
	var req CheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.WithRequestID(r.Context(), h.logger).Debug("invalid_request", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   CodeInvalidRequest,
			Message: "invalid JSON body",
		})
		return
	}

	decision := h.limiter.Check(req.Namespace, consume)

	if !decision.Allowed {
		code := CodeLimit
		if !consume {
			code = CodeNoToken
		}
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:        code,
			Namespace:    decision.Namespace,
			RetryAfterMs: decision.RetryAfter.Milliseconds(),
		})
		return
	}

	writeJSON(w, http.StatusOK, toResponse(decision))
}

func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	decision, ok := h.limiter.Inspect(namespace)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:     CodeNotFound,
			Message:   "no live window for namespace",
			Namespace: namespace,
		})
		return
	}

	writeJSON(w, http.StatusOK, toResponse(decision))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	h.limiter.Reset(namespace)
	logger.WithRequestID(r.Context(), h.logger).Info("namespace_reset", slog.String("namespace", namespace))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: "metrics disabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.GetSnapshot())
}

func toResponse(d fastlimit.Decision) CheckResponse {
	resp := CheckResponse{
		Allowed:   d.Allowed,
		Bypassed:  d.Bypassed,
		Namespace: d.Namespace,
		Remaining: d.Remaining,
		Limit:     d.Limit,
	}
	if !d.ResetAt.IsZero() {
		resp.ResetAt = d.ResetAt.UnixMilli()
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
