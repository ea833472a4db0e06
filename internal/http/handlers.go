package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-flow-service/internal/ai"
	"github.com/kjstillabower/weather-flow-service/internal/observability"
	"github.com/kjstillabower/weather-flow-service/internal/traffic"
	"github.com/kjstillabower/weather-flow-service/internal/weather"
)

// maxBodyBytes bounds flow request bodies.
const maxBodyBytes = 1 << 20

// Canonical status strings used in error bodies.
const (
	StatusInvalidArgument   = "INVALID_ARGUMENT"
	StatusNotFound          = "NOT_FOUND"
	StatusDeadlineExceeded  = "DEADLINE_EXCEEDED"
	StatusResourceExhausted = "RESOURCE_EXHAUSTED"
	StatusInternal          = "INTERNAL"
)

// HealthConfig describes how /health reports.
type HealthConfig struct {
	Service string
	Version string
	Policy  traffic.HealthPolicy
}

// Handler serves registered flows and the health endpoint.
type Handler struct {
	flows        map[string]ai.Flow
	tracker      *traffic.Tracker
	healthConfig HealthConfig
	logger       *zap.Logger
	shuttingDown atomic.Bool

	healthStatusMu   sync.Mutex
	healthStatusPrev traffic.Status
}

// NewHandler returns a Handler serving flows. Flow names must be unique.
func NewHandler(flows []ai.Flow, tracker *traffic.Tracker, healthConfig HealthConfig, logger *zap.Logger) (*Handler, error) {
	if tracker == nil {
		return nil, errors.New("traffic tracker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]ai.Flow, len(flows))
	for _, f := range flows {
		if _, ok := byName[f.Name()]; ok {
			return nil, fmt.Errorf("duplicate flow name %q", f.Name())
		}
		byName[f.Name()] = f
	}
	return &Handler{
		flows:        byName,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}, nil
}

// SetShuttingDown flips /health to shutting-down.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

func (h *Handler) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

type flowRequest struct {
	Data json.RawMessage `json:"data"`
}

type flowResponse struct {
	Result any `json:"result"`
}

// RunFlow handles POST /{flowName}.
func (h *Handler) RunFlow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["flowName"]
	flow, ok := h.flows[name]
	if !ok {
		writeError(w, r, http.StatusNotFound, StatusNotFound, "flow not found: "+name, "unknown_flow")
		return
	}

	var req flowRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, StatusInvalidArgument, "request body must be a JSON object with a data field", ai.CategoryInvalidInput)
		return
	}

	result, err := flow.RunJSON(r.Context(), req.Data)
	if err != nil {
		if !errors.Is(err, ai.ErrFlowInput) {
			h.tracker.RecordError()
		}
		writeFlowError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()
	writeJSON(w, http.StatusOK, flowResponse{Result: result})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     traffic.Status
	statusCode int
	reason     string
}

const statusShuttingDown traffic.Status = "shutting-down"

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(result.status)),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	errCount, total := h.tracker.ErrorRate()
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":  result.status,
		"service": h.healthConfig.Service,
		"version": h.healthConfig.Version,
		"checks": map[string]int{
			"requestsInWindow": h.tracker.RequestCount(),
			"errorsInWindow":   errCount,
			"runsInWindow":     total,
			"deniedInWindow":   h.tracker.DenialCount(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus checks shutdown first, then defers to the traffic policy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.ShuttingDown() {
		return healthResult{statusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	status, reason := h.healthConfig.Policy.Evaluate(h.tracker)
	if status == traffic.StatusHealthy {
		return healthResult{status, http.StatusOK, ""}
	}
	return healthResult{status, http.StatusServiceUnavailable, reason}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId"`
}

// writeError writes {"error": {...}} with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, code int, status, message, reason string) {
	writeJSON(w, code, map[string]errorBody{
		"error": {
			Status:    status,
			Message:   message,
			Reason:    reason,
			RequestID: observability.CorrelationID(r.Context()),
		},
	})
}

// writeFlowError maps a flow failure to a response. Only schema violations echo
// the error text; upstream failures are reduced to a reason category.
func writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	reason := errorReason(err)
	logger := observability.LoggerFromContext(r.Context(), nil)

	switch {
	case errors.Is(err, ai.ErrFlowInput):
		writeError(w, r, http.StatusBadRequest, StatusInvalidArgument, err.Error(), reason)
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, StatusDeadlineExceeded, "flow did not complete before the deadline", reason)
	default:
		writeError(w, r, http.StatusInternalServerError, StatusInternal, "flow failed", reason)
	}
	logger.Warn("flow failed", zap.String("reason", reason), zap.Error(err))
}

// errorReason prefers model/runtime categories, then weather categories.
func errorReason(err error) string {
	if c := ai.CategorizeError(err); c != ai.CategoryError {
		return c
	}
	if c := weather.CategorizeError(err); c != weather.ErrorCategoryUnknown {
		return string(c)
	}
	return ai.CategoryError
}
