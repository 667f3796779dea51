package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"fleetalert/internal/domain"
	"fleetalert/internal/store"
)

// AlertAPI is the lifecycle surface exposed over HTTP.
// Params: alert id / request payloads per operation.
// Returns: alert state or lifecycle error.
type AlertAPI interface {
	AlertSink
	GetAlert(ctx context.Context, alertID string) (domain.Alert, error)
	ActiveAlerts(ctx context.Context) ([]domain.Alert, error)
	AlertsByStatus(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error)
	ResolveAlert(ctx context.Context, alertID, actorID, reason string) (domain.Alert, error)
	EscalateManually(ctx context.Context, alertID string, severity domain.AlertSeverity, reason, actorID string) (domain.Alert, error)
	UpdateCondition(ctx context.Context, alertID, condition string) (domain.Alert, error)
	History(ctx context.Context, alertID string) ([]domain.AlertHistory, error)
	RecentHistory(ctx context.Context, limit int) ([]domain.AlertHistory, error)
}

// APIHandler serves the alert lifecycle REST endpoints.
// Params: api sink, body size limit, and logger.
// Returns: HTTP handler for /api/v1 routes.
type APIHandler struct {
	api         AlertAPI
	maxBodySize int64
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewAPIHandler creates the REST handler with its route table.
// Params: api implementation, max request body size in bytes, logger.
// Returns: configured handler.
func NewAPIHandler(api AlertAPI, maxBodySize int64, logger *slog.Logger) *APIHandler {
	handler := &APIHandler{
		api:         api,
		maxBodySize: maxBodySize,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	handler.mux.HandleFunc("POST /api/v1/alerts", handler.handleCreate)
	handler.mux.HandleFunc("GET /api/v1/alerts", handler.handleList)
	handler.mux.HandleFunc("GET /api/v1/alerts/active", handler.handleActive)
	handler.mux.HandleFunc("GET /api/v1/alerts/{id}", handler.handleGet)
	handler.mux.HandleFunc("PUT /api/v1/alerts/{id}/resolve", handler.handleResolve)
	handler.mux.HandleFunc("PUT /api/v1/alerts/{id}/escalate", handler.handleEscalate)
	handler.mux.HandleFunc("PATCH /api/v1/alerts/{id}/condition", handler.handleCondition)
	handler.mux.HandleFunc("GET /api/v1/alerts/{id}/history", handler.handleHistory)
	handler.mux.HandleFunc("GET /api/v1/history", handler.handleRecentHistory)
	return handler
}

// ServeHTTP dispatches one request through the route table.
// Params: HTTP request/response writer pair.
// Returns: response written by the matched route.
func (h *APIHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mux.ServeHTTP(writer, request)
}

// handleCreate ingests one alert event.
func (h *APIHandler) handleCreate(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	createRequest, err := domain.DecodeCreateAlertRequest(body)
	if err != nil {
		h.writeError(writer, http.StatusBadRequest, err)
		return
	}
	if err := createRequest.Validate(); err != nil {
		h.writeError(writer, http.StatusBadRequest, err)
		return
	}
	alert, err := h.api.CreateAlert(request.Context(), createRequest)
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusCreated, alert)
}

// handleList lists alerts filtered by optional status query parameter.
func (h *APIHandler) handleList(writer http.ResponseWriter, request *http.Request) {
	rawStatus := strings.TrimSpace(request.URL.Query().Get("status"))
	if rawStatus == "" {
		alerts, err := h.api.ActiveAlerts(request.Context())
		if err != nil {
			h.writeLifecycleError(writer, err)
			return
		}
		h.writeJSON(writer, http.StatusOK, alerts)
		return
	}

	status := domain.AlertStatus(strings.ToUpper(rawStatus))
	switch status {
	case domain.StatusOpen, domain.StatusEscalated, domain.StatusAutoClosed, domain.StatusResolved:
	default:
		h.writeError(writer, http.StatusBadRequest, errors.New("unknown status "+rawStatus))
		return
	}
	alerts, err := h.api.AlertsByStatus(request.Context(), status)
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alerts)
}

// handleActive lists alerts in OPEN or ESCALATED state.
func (h *APIHandler) handleActive(writer http.ResponseWriter, request *http.Request) {
	alerts, err := h.api.ActiveAlerts(request.Context())
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alerts)
}

// handleGet fetches one alert by id.
func (h *APIHandler) handleGet(writer http.ResponseWriter, request *http.Request) {
	alert, err := h.api.GetAlert(request.Context(), request.PathValue("id"))
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alert)
}

// resolvePayload is the operator resolution request body.
type resolvePayload struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

// handleResolve closes one alert on operator request.
func (h *APIHandler) handleResolve(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	var payload resolvePayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			h.writeError(writer, http.StatusBadRequest, err)
			return
		}
	}
	if strings.TrimSpace(payload.ActorID) == "" {
		h.writeError(writer, http.StatusBadRequest, errors.New("actorId is required"))
		return
	}
	alert, err := h.api.ResolveAlert(request.Context(), request.PathValue("id"), payload.ActorID, payload.Reason)
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alert)
}

// escalatePayload is the manual escalation request body.
type escalatePayload struct {
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actorId"`
}

// handleEscalate escalates one alert on operator request.
func (h *APIHandler) handleEscalate(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	var payload escalatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(writer, http.StatusBadRequest, err)
		return
	}
	severity, err := domain.ParseSeverity(payload.Severity)
	if err != nil {
		h.writeError(writer, http.StatusBadRequest, err)
		return
	}
	actorID := strings.TrimSpace(payload.ActorID)
	if actorID == "" {
		h.writeError(writer, http.StatusBadRequest, errors.New("actorId is required"))
		return
	}
	alert, err := h.api.EscalateManually(request.Context(), request.PathValue("id"), severity, payload.Reason, actorID)
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alert)
}

// conditionPayload is the condition observation request body.
type conditionPayload struct {
	Condition string `json:"condition"`
}

// handleCondition records one condition observation on an alert.
func (h *APIHandler) handleCondition(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	var payload conditionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(writer, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Condition) == "" {
		h.writeError(writer, http.StatusBadRequest, errors.New("condition is required"))
		return
	}
	alert, err := h.api.UpdateCondition(request.Context(), request.PathValue("id"), payload.Condition)
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alert)
}

// handleHistory lists the audit trail of one alert.
func (h *APIHandler) handleHistory(writer http.ResponseWriter, request *http.Request) {
	entries, err := h.api.History(request.Context(), request.PathValue("id"))
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, entries)
}

// handleRecentHistory lists the newest audit entries across all alerts.
func (h *APIHandler) handleRecentHistory(writer http.ResponseWriter, request *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(request.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(writer, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.api.RecentHistory(request.Context(), limit)
	if err != nil {
		h.writeLifecycleError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, entries)
}

// readBody reads one size-limited request body.
// Params: HTTP pair.
// Returns: body bytes and false when the read already wrote an error.
func (h *APIHandler) readBody(writer http.ResponseWriter, request *http.Request) ([]byte, bool) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		h.writeError(writer, http.StatusBadRequest, err)
		return nil, false
	}
	return body, true
}

// writeLifecycleError maps lifecycle errors to HTTP status codes.
// Params: writer and lifecycle error.
// Returns: JSON error body with mapped status.
func (h *APIHandler) writeLifecycleError(writer http.ResponseWriter, err error) {
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(writer, http.StatusNotFound, err)
	case errors.As(err, &invalid), errors.Is(err, store.ErrConflict):
		h.writeError(writer, http.StatusConflict, err)
	default:
		if h.logger != nil {
			h.logger.Error("api request failed", "error", err.Error())
		}
		h.writeError(writer, http.StatusInternalServerError, err)
	}
}

// writeError writes one JSON error body.
// Params: writer, status code, and error.
// Returns: encoded error payload.
func (h *APIHandler) writeError(writer http.ResponseWriter, status int, err error) {
	h.writeJSON(writer, status, map[string]string{"error": err.Error()})
}

// writeJSON writes one JSON response with status code.
// Params: writer, status code, and payload.
// Returns: encoded payload.
func (h *APIHandler) writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
