package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetalert/internal/domain"
	"fleetalert/internal/store"
)

// fakeAPI implements AlertAPI over a scripted in-memory state.
type fakeAPI struct {
	alerts  map[string]domain.Alert
	history map[string][]domain.AlertHistory
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		alerts:  make(map[string]domain.Alert),
		history: make(map[string][]domain.AlertHistory),
	}
}

func (f *fakeAPI) CreateAlert(_ context.Context, req domain.CreateAlertRequest) (domain.Alert, error) {
	if err := req.Validate(); err != nil {
		return domain.Alert{}, err
	}
	alert := req.ToAlert("generated-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	f.alerts[alert.AlertID] = alert
	return alert, nil
}

func (f *fakeAPI) GetAlert(_ context.Context, alertID string) (domain.Alert, error) {
	alert, ok := f.alerts[alertID]
	if !ok {
		return domain.Alert{}, store.ErrNotFound
	}
	return alert, nil
}

func (f *fakeAPI) ActiveAlerts(context.Context) ([]domain.Alert, error) {
	out := make([]domain.Alert, 0)
	for _, alert := range f.alerts {
		if alert.Status.IsActive() {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (f *fakeAPI) AlertsByStatus(_ context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	out := make([]domain.Alert, 0)
	for _, alert := range f.alerts {
		if alert.Status == status {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (f *fakeAPI) ResolveAlert(_ context.Context, alertID, actorID, reason string) (domain.Alert, error) {
	alert, ok := f.alerts[alertID]
	if !ok {
		return domain.Alert{}, store.ErrNotFound
	}
	if err := alert.Resolve(actorID, reason, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)); err != nil {
		return domain.Alert{}, err
	}
	f.alerts[alertID] = alert
	return alert, nil
}

func (f *fakeAPI) EscalateManually(_ context.Context, alertID string, severity domain.AlertSeverity, reason, actorID string) (domain.Alert, error) {
	alert, ok := f.alerts[alertID]
	if !ok {
		return domain.Alert{}, store.ErrNotFound
	}
	if err := alert.Escalate(severity, reason, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)); err != nil {
		return domain.Alert{}, err
	}
	f.alerts[alertID] = alert
	return alert, nil
}

func (f *fakeAPI) UpdateCondition(_ context.Context, alertID, condition string) (domain.Alert, error) {
	alert, ok := f.alerts[alertID]
	if !ok {
		return domain.Alert{}, store.ErrNotFound
	}
	alert.SetMetadata(domain.MetadataKeyCondition, condition)
	f.alerts[alertID] = alert
	return alert, nil
}

func (f *fakeAPI) History(_ context.Context, alertID string) ([]domain.AlertHistory, error) {
	if _, ok := f.alerts[alertID]; !ok {
		return nil, store.ErrNotFound
	}
	return f.history[alertID], nil
}

func (f *fakeAPI) RecentHistory(context.Context, int) ([]domain.AlertHistory, error) {
	out := make([]domain.AlertHistory, 0)
	for _, entries := range f.history {
		out = append(out, entries...)
	}
	return out, nil
}

func seedAlert(api *fakeAPI, id string, status domain.AlertStatus) {
	api.alerts[id] = domain.Alert{
		AlertID:   id,
		AlertType: domain.TypeOverspeeding,
		Severity:  domain.SeverityWarning,
		Status:    status,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DriverID:  "driver-1",
	}
}

func newTestHandler(api *fakeAPI) *APIHandler {
	return NewAPIHandler(api, 1<<20, nil)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestCreateAlertEndpoint(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(newFakeAPI())
	response := doRequest(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"alertType":"OVERSPEEDING","severity":"WARNING","driverId":"driver-1"}`)

	if response.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", response.Code, response.Body.String())
	}
	var alert domain.Alert
	if err := json.Unmarshal(response.Body.Bytes(), &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.Status != domain.StatusOpen {
		t.Fatalf("created status = %s", alert.Status)
	}
}

func TestCreateAlertRejectsUnknownType(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(newFakeAPI())
	response := doRequest(t, handler, http.MethodPost, "/api/v1/alerts",
		`{"alertType":"METEOR_STRIKE","severity":"WARNING"}`)

	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", response.Code)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(newFakeAPI())
	response := doRequest(t, handler, http.MethodGet, "/api/v1/alerts/missing", "")
	if response.Code != http.StatusNotFound {
		t.Fatalf("status = %d", response.Code)
	}
}

func TestResolveEndpointMapsInvalidTransitionToConflict(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	seedAlert(api, "a-1", domain.StatusResolved)
	handler := newTestHandler(api)

	response := doRequest(t, handler, http.MethodPut, "/api/v1/alerts/a-1/escalate",
		`{"severity":"CRITICAL","reason":"late","actorId":"op-1"}`)
	if response.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", response.Code)
	}
}

func TestResolveEndpointRequiresActor(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	seedAlert(api, "a-1", domain.StatusOpen)
	handler := newTestHandler(api)

	response := doRequest(t, handler, http.MethodPut, "/api/v1/alerts/a-1/resolve",
		`{"reason":"no actor"}`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", response.Code)
	}

	response = doRequest(t, handler, http.MethodPut, "/api/v1/alerts/a-1/resolve",
		`{"actorId":"op-1","reason":"handled"}`)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", response.Code, response.Body.String())
	}
	var alert domain.Alert
	if err := json.Unmarshal(response.Body.Bytes(), &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.Status != domain.StatusResolved {
		t.Fatalf("status = %s", alert.Status)
	}
}

func TestConditionEndpoint(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	seedAlert(api, "a-1", domain.StatusOpen)
	handler := newTestHandler(api)

	response := doRequest(t, handler, http.MethodPatch, "/api/v1/alerts/a-1/condition",
		`{"condition":"document_renewed"}`)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
	if api.alerts["a-1"].Metadata[domain.MetadataKeyCondition] != "document_renewed" {
		t.Fatal("condition not recorded")
	}

	response = doRequest(t, handler, http.MethodPatch, "/api/v1/alerts/a-1/condition", `{}`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("empty condition status = %d", response.Code)
	}
}

func TestListEndpointValidatesStatus(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	seedAlert(api, "a-1", domain.StatusOpen)
	seedAlert(api, "a-2", domain.StatusResolved)
	handler := newTestHandler(api)

	response := doRequest(t, handler, http.MethodGet, "/api/v1/alerts?status=RESOLVED", "")
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
	var alerts []domain.Alert
	if err := json.Unmarshal(response.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(alerts) != 1 || alerts[0].AlertID != "a-2" {
		t.Fatalf("alerts = %+v", alerts)
	}

	response = doRequest(t, handler, http.MethodGet, "/api/v1/alerts?status=BOGUS", "")
	if response.Code != http.StatusBadRequest {
		t.Fatalf("bogus status = %d", response.Code)
	}
}

func TestActiveEndpoint(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	seedAlert(api, "a-1", domain.StatusOpen)
	seedAlert(api, "a-2", domain.StatusEscalated)
	seedAlert(api, "a-3", domain.StatusAutoClosed)
	handler := newTestHandler(api)

	response := doRequest(t, handler, http.MethodGet, "/api/v1/alerts/active", "")
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
	var alerts []domain.Alert
	if err := json.Unmarshal(response.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("active = %d, want 2", len(alerts))
	}
}

func TestRecentHistoryLimitValidation(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(newFakeAPI())
	response := doRequest(t, handler, http.MethodGet, "/api/v1/history?limit=abc", "")
	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", response.Code)
	}

	response = doRequest(t, handler, http.MethodGet, "/api/v1/history?limit=10", "")
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d", response.Code)
	}
}
