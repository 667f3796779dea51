package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleetalert/internal/clock"
	"fleetalert/internal/domain"
	"fleetalert/internal/engine"
	"fleetalert/internal/metrics"
	"fleetalert/internal/rules"
	"fleetalert/internal/store"

	"github.com/google/uuid"
)

const (
	escalationTriggerRule   = "rule"
	escalationTriggerManual = "manual"

	workflowEscalation = "escalation"
	workflowAutoClose  = "auto_close"
)

// Notifier delivers one lifecycle notification to outbound channels.
// Params: context and notification payload.
// Returns: delivery error after channel retries.
type Notifier interface {
	Notify(ctx context.Context, notification domain.Notification) error
}

// Manager orchestrates the alert lifecycle over stores, rules, and engine.
// Params: persistence backends, rule provider, clock, and optional notifier.
// Returns: workflow entry points used by ingest surfaces and schedulers.
type Manager struct {
	alerts   store.AlertStore
	history  store.HistoryStore
	rules    *rules.Provider
	clock    clock.Clock
	notifier Notifier
	logger   *slog.Logger
}

// NewManager builds the lifecycle orchestrator.
// Params: stores, rule provider, clock, notifier (nil disables notifications), logger.
// Returns: configured manager.
func NewManager(
	alerts store.AlertStore,
	history store.HistoryStore,
	provider *rules.Provider,
	clk clock.Clock,
	notifier Notifier,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		alerts:   alerts,
		history:  history,
		rules:    provider,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateAlert persists a new alert, records its audit entry, and runs
// escalation evaluation in the same unit of work. Evaluation failures are
// contained: they are logged and counted, never surfaced to the caller.
// Params: validated or raw create request.
// Returns: alert in its post-evaluation state, or persistence error.
func (m *Manager) CreateAlert(ctx context.Context, req domain.CreateAlertRequest) (domain.Alert, error) {
	if err := req.Validate(); err != nil {
		return domain.Alert{}, err
	}

	now := m.clock.Now()
	alert := req.ToAlert(uuid.NewString(), now)

	created, err := m.alerts.Create(ctx, alert)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	if err := m.history.Append(ctx, domain.HistoryForCreation(created.AlertID, now)); err != nil {
		return domain.Alert{}, fmt.Errorf("append creation history: %w", err)
	}
	metrics.AlertsCreated.WithLabelValues(string(created.AlertType), string(created.Severity)).Inc()
	m.logger.Info("alert created",
		"alert_id", created.AlertID,
		"alert_type", string(created.AlertType),
		"severity", string(created.Severity),
		"driver_id", created.DriverID)

	if err := m.evaluateEscalation(ctx, created); err != nil {
		metrics.EvaluationFailures.WithLabelValues(workflowEscalation).Inc()
		m.logger.Error("escalation evaluation failed",
			"alert_id", created.AlertID,
			"alert_type", string(created.AlertType),
			"error", err.Error())
	}

	// Re-read so the caller sees the post-evaluation state.
	refreshed, err := m.alerts.GetByID(ctx, created.AlertID)
	if err != nil {
		return created, nil
	}
	return refreshed, nil
}

// evaluateEscalation runs the escalation rule for one freshly created alert
// and applies the decision to every candidate in the window.
// Params: the triggering alert.
// Returns: evaluation error; individual candidate failures are contained.
func (m *Manager) evaluateEscalation(ctx context.Context, trigger domain.Alert) error {
	set := m.rules.Snapshot()
	rule, ok := set.ForType(trigger.AlertType)
	if !ok || !rule.Enabled {
		return nil
	}

	now := m.clock.Now()
	windowStart := now.Add(-time.Duration(rule.EscalationWindowMinutes()) * time.Minute)
	candidates, err := m.alerts.FindRecent(ctx, trigger.AlertType, trigger.DriverID, windowStart)
	if err != nil {
		return fmt.Errorf("find escalation candidates: %w", err)
	}
	candidates = ensureMember(candidates, trigger)

	decision := engine.EvaluateEscalation(set, trigger.AlertType, candidates, now)
	if !decision.Escalate {
		m.logger.Debug("escalation not triggered",
			"alert_id", trigger.AlertID,
			"alert_type", string(trigger.AlertType),
			"reason", decision.Reason)
		return nil
	}

	for _, candidate := range candidates {
		if err := m.escalateOne(ctx, candidate.AlertID, decision, now); err != nil {
			metrics.EvaluationFailures.WithLabelValues(workflowEscalation).Inc()
			m.logger.Warn("candidate escalation failed",
				"alert_id", candidate.AlertID,
				"error", err.Error())
		}
	}
	return nil
}

// escalateOne applies one escalation decision to one alert. Alerts already
// ESCALATED keep their original reason and history; alerts that reached a
// terminal state since the candidate query are skipped.
// Params: alert id, decision, and evaluation time.
// Returns: persistence error for this alert only.
func (m *Manager) escalateOne(ctx context.Context, alertID string, decision engine.EscalationDecision, now time.Time) error {
	alert, err := m.alerts.GetByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.Status == domain.StatusEscalated {
		return nil
	}
	fromStatus := alert.Status

	if err := alert.Escalate(decision.NewSeverity, decision.Reason, now); err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil
		}
		return err
	}

	saved, err := m.alerts.Save(ctx, alert)
	if err != nil {
		return err
	}
	if err := m.history.Append(ctx, domain.HistoryForEscalation(saved.AlertID, fromStatus, domain.SystemActor, decision.Reason, now)); err != nil {
		return err
	}
	metrics.AlertsEscalated.WithLabelValues(string(saved.AlertType), escalationTriggerRule).Inc()
	m.logger.Info("alert escalated",
		"alert_id", saved.AlertID,
		"alert_type", string(saved.AlertType),
		"severity", string(saved.Severity),
		"reason", decision.Reason)

	m.sendNotification(ctx, saved, domain.EventEscalated, decision.Reason)
	return nil
}

// EscalateManually escalates one alert on operator request.
// Params: alert id, target severity, free-form reason, and acting operator.
// Returns: updated alert; InvalidTransitionError when the alert is closed.
func (m *Manager) EscalateManually(ctx context.Context, alertID string, severity domain.AlertSeverity, reason, actorID string) (domain.Alert, error) {
	alert, err := m.alerts.GetByID(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	fromStatus := alert.Status
	now := m.clock.Now()

	if err := alert.Escalate(severity, reason, now); err != nil {
		return domain.Alert{}, err
	}
	saved, err := m.alerts.Save(ctx, alert)
	if err != nil {
		return domain.Alert{}, err
	}
	if err := m.history.Append(ctx, domain.HistoryForEscalation(saved.AlertID, fromStatus, actorID, reason, now)); err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertsEscalated.WithLabelValues(string(saved.AlertType), escalationTriggerManual).Inc()
	m.logger.Info("alert escalated manually",
		"alert_id", saved.AlertID,
		"severity", string(saved.Severity),
		"actor", actorID)

	m.sendNotification(ctx, saved, domain.EventEscalated, reason)
	return saved, nil
}

// ResolveAlert closes one alert on operator request. Resolving an already
// closed alert is an idempotent no-op returning the stored state.
// Params: alert id, acting operator, and closure reason.
// Returns: alert in its closed state or persistence error.
func (m *Manager) ResolveAlert(ctx context.Context, alertID, actorID, reason string) (domain.Alert, error) {
	alert, err := m.alerts.GetByID(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	if alert.Status.IsClosed() {
		return alert, nil
	}
	fromStatus := alert.Status
	now := m.clock.Now()

	if err := alert.Resolve(actorID, reason, now); err != nil {
		return domain.Alert{}, err
	}
	saved, err := m.alerts.Save(ctx, alert)
	if err != nil {
		return domain.Alert{}, err
	}
	if err := m.history.Append(ctx, domain.HistoryForResolution(saved.AlertID, fromStatus, actorID, reason, now)); err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertsResolved.WithLabelValues(string(saved.AlertType)).Inc()
	m.logger.Info("alert resolved",
		"alert_id", saved.AlertID,
		"actor", actorID,
		"reason", reason)

	m.sendNotification(ctx, saved, domain.EventResolved, reason)
	return saved, nil
}

// UpdateCondition records one condition observation on an alert's metadata
// and runs auto-close evaluation in the same unit of work. As with creation,
// evaluation failures are contained.
// Params: alert id and observed condition value.
// Returns: alert state after evaluation, or persistence error.
func (m *Manager) UpdateCondition(ctx context.Context, alertID, condition string) (domain.Alert, error) {
	alert, err := m.alerts.GetByID(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	if alert.Status.IsClosed() {
		return alert, nil
	}

	now := m.clock.Now()
	alert.SetMetadata(domain.MetadataKeyCondition, condition)
	alert.UpdatedAt = now
	saved, err := m.alerts.Save(ctx, alert)
	if err != nil {
		return domain.Alert{}, err
	}

	if _, err := m.evaluateAutoCloseOne(ctx, saved); err != nil {
		metrics.EvaluationFailures.WithLabelValues(workflowAutoClose).Inc()
		m.logger.Error("auto-close evaluation failed",
			"alert_id", saved.AlertID,
			"error", err.Error())
	}

	refreshed, err := m.alerts.GetByID(ctx, saved.AlertID)
	if err != nil {
		return saved, nil
	}
	return refreshed, nil
}

// BatchEvaluateAutoClose evaluates auto-close for each given alert with
// per-item fault isolation: one failing alert never aborts the batch.
// Params: active alerts to evaluate.
// Returns: number of alerts closed by this batch.
func (m *Manager) BatchEvaluateAutoClose(ctx context.Context, alerts []domain.Alert) int {
	closed := 0
	for _, alert := range alerts {
		didClose, err := m.evaluateAutoCloseOne(ctx, alert)
		if err != nil {
			metrics.EvaluationFailures.WithLabelValues(workflowAutoClose).Inc()
			m.logger.Warn("auto-close evaluation failed",
				"alert_id", alert.AlertID,
				"error", err.Error())
			continue
		}
		if didClose {
			closed++
		}
	}
	return closed
}

// evaluateAutoCloseOne evaluates and applies auto-close for one alert.
// The canonical copy is re-read first so sweep batches never act on a
// snapshot another workflow already mutated.
// Params: alert snapshot to evaluate.
// Returns: whether the alert was closed, and evaluation/persistence error.
func (m *Manager) evaluateAutoCloseOne(ctx context.Context, stale domain.Alert) (bool, error) {
	alert, err := m.alerts.GetByID(ctx, stale.AlertID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if alert.Status.IsClosed() {
		return false, nil
	}
	set := m.rules.Snapshot()
	rule, ok := set.ForType(alert.AlertType)
	if !ok || !rule.Enabled {
		return false, nil
	}

	now := m.clock.Now()
	var candidates []domain.Alert
	if rule.AutoCloseIfNoRepeat {
		found, err := m.alerts.FindRecent(ctx, alert.AlertType, alert.DriverID, alert.Timestamp)
		if err != nil {
			return false, fmt.Errorf("find repeat candidates: %w", err)
		}
		candidates = found
	}

	decision := engine.EvaluateAutoClose(set, alert, candidates, now)
	if !decision.Close {
		m.logger.Debug("auto-close not triggered",
			"alert_id", alert.AlertID,
			"reason", decision.Reason)
		return false, nil
	}

	fromStatus := alert.Status
	if err := alert.AutoClose(decision.Reason, now); err != nil {
		return false, err
	}
	saved, err := m.alerts.Save(ctx, alert)
	if err != nil {
		return false, err
	}
	if err := m.history.Append(ctx, domain.HistoryForAutoClose(saved.AlertID, fromStatus, decision.Reason, now)); err != nil {
		return false, err
	}
	metrics.AlertsAutoClosed.WithLabelValues(string(saved.AlertType)).Inc()
	m.logger.Info("alert auto-closed",
		"alert_id", saved.AlertID,
		"alert_type", string(saved.AlertType),
		"reason", decision.Reason)

	m.sendNotification(ctx, saved, domain.EventAutoClosed, decision.Reason)
	return true, nil
}

// GetAlert fetches one alert by id.
// Params: alert id.
// Returns: stored alert or store.ErrNotFound.
func (m *Manager) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	return m.alerts.GetByID(ctx, alertID)
}

// ActiveAlerts lists alerts in OPEN or ESCALATED state.
// Params: none.
// Returns: active alerts ordered by event time ascending.
func (m *Manager) ActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
	return m.alerts.FindByStatusIn(ctx, []domain.AlertStatus{domain.StatusOpen, domain.StatusEscalated})
}

// AlertsByStatus lists alerts in one state.
// Params: alert status.
// Returns: matching alerts ordered by event time ascending.
func (m *Manager) AlertsByStatus(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	return m.alerts.FindByStatusIn(ctx, []domain.AlertStatus{status})
}

// History lists the audit trail of one alert.
// Params: alert id.
// Returns: entries ordered by timestamp ascending; NotFound for unknown ids.
func (m *Manager) History(ctx context.Context, alertID string) ([]domain.AlertHistory, error) {
	if _, err := m.alerts.GetByID(ctx, alertID); err != nil {
		return nil, err
	}
	return m.history.FindByAlert(ctx, alertID)
}

// RecentHistory lists the newest audit entries across all alerts.
// Params: maximum number of entries; non-positive values use the store default.
// Returns: entries ordered by timestamp descending.
func (m *Manager) RecentHistory(ctx context.Context, limit int) ([]domain.AlertHistory, error) {
	return m.history.FindRecentHistory(ctx, limit)
}

// sendNotification delivers one lifecycle notification when a notifier is set.
// Delivery failures are logged inside the dispatcher and never propagate.
// Params: saved alert, event kind, and audit reason.
// Returns: none.
func (m *Manager) sendNotification(ctx context.Context, alert domain.Alert, event domain.HistoryEventType, reason string) {
	if m.notifier == nil {
		return
	}
	notification := domain.Notification{
		AlertID:    alert.AlertID,
		AlertType:  alert.AlertType,
		Severity:   alert.Severity,
		Status:     alert.Status,
		Event:      event,
		Reason:     reason,
		DriverID:   alert.DriverID,
		VehicleID:  alert.VehicleID,
		OccurredAt: alert.UpdatedAt,
	}
	_ = m.notifier.Notify(ctx, notification)
}

// ensureMember guarantees the trigger alert is part of the candidate list.
// Params: candidate list and trigger alert.
// Returns: list containing the trigger exactly once.
func ensureMember(candidates []domain.Alert, trigger domain.Alert) []domain.Alert {
	for _, candidate := range candidates {
		if candidate.AlertID == trigger.AlertID {
			return candidates
		}
	}
	return append(candidates, trigger)
}
