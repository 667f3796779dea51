package domain

import (
	"fmt"
	"time"
)

// AlertStatus is the lifecycle state of one alert.
// Params: open/escalated/auto-closed/resolved state constants.
// Returns: forward-only state transitions for the state machine.
type AlertStatus string

const (
	// StatusOpen indicates a newly ingested, still active alert.
	StatusOpen AlertStatus = "OPEN"
	// StatusEscalated indicates severity was raised by rule or operator.
	StatusEscalated AlertStatus = "ESCALATED"
	// StatusAutoClosed indicates terminal closure by the system.
	StatusAutoClosed AlertStatus = "AUTO_CLOSED"
	// StatusResolved indicates terminal closure by an operator.
	StatusResolved AlertStatus = "RESOLVED"
)

// IsActive reports whether the alert still participates in evaluation.
// Params: none.
// Returns: true for OPEN and ESCALATED.
func (s AlertStatus) IsActive() bool {
	return s == StatusOpen || s == StatusEscalated
}

// IsClosed reports whether the status is terminal.
// Params: none.
// Returns: true for AUTO_CLOSED and RESOLVED.
func (s AlertStatus) IsClosed() bool {
	return s == StatusAutoClosed || s == StatusResolved
}

// AlertSeverity is an ordered severity level.
// Params: INFO/WARNING/CRITICAL constants.
// Returns: comparable level for escalation decisions.
type AlertSeverity string

const (
	// SeverityInfo is the lowest level.
	SeverityInfo AlertSeverity = "INFO"
	// SeverityWarning is the middle level.
	SeverityWarning AlertSeverity = "WARNING"
	// SeverityCritical is the highest level.
	SeverityCritical AlertSeverity = "CRITICAL"
)

var severityRank = map[AlertSeverity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Rank returns the numeric order of the severity.
// Params: none.
// Returns: 0 for INFO, 1 for WARNING, 2 for CRITICAL, -1 for unknown.
func (s AlertSeverity) Rank() int {
	rank, ok := severityRank[s]
	if !ok {
		return -1
	}
	return rank
}

// ParseSeverity validates a severity token.
// Params: raw severity string.
// Returns: severity constant or validation error.
func ParseSeverity(raw string) (AlertSeverity, error) {
	severity := AlertSeverity(raw)
	if _, ok := severityRank[severity]; !ok {
		return "", fmt.Errorf("unsupported severity %q", raw)
	}
	return severity, nil
}

// AlertType identifies the upstream monitoring source of an alert.
// Params: closed enumeration grouped by source module.
// Returns: key for rule lookup and candidate-set queries.
type AlertType string

const (
	// TypeOverspeeding reports a speed limit violation (safety module).
	TypeOverspeeding AlertType = "OVERSPEEDING"
	// TypeHarshBraking reports harsh braking (safety module).
	TypeHarshBraking AlertType = "HARSH_BRAKING"
	// TypeHarshAcceleration reports harsh acceleration (safety module).
	TypeHarshAcceleration AlertType = "HARSH_ACCELERATION"
	// TypeRouteDeviation reports a vehicle leaving its route (safety module).
	TypeRouteDeviation AlertType = "ROUTE_DEVIATION"
	// TypeComplianceDocumentExpiry reports an expiring document (compliance module).
	TypeComplianceDocumentExpiry AlertType = "COMPLIANCE_DOCUMENT_EXPIRY"
	// TypeComplianceLicenseInvalid reports an invalid license (compliance module).
	TypeComplianceLicenseInvalid AlertType = "COMPLIANCE_LICENSE_INVALID"
	// TypeComplianceInsuranceExpiry reports expiring insurance (compliance module).
	TypeComplianceInsuranceExpiry AlertType = "COMPLIANCE_INSURANCE_EXPIRY"
	// TypeFeedbackNegative reports negative feedback (feedback module).
	TypeFeedbackNegative AlertType = "FEEDBACK_NEGATIVE"
	// TypeFeedbackComplaint reports a filed complaint (feedback module).
	TypeFeedbackComplaint AlertType = "FEEDBACK_COMPLAINT"
	// TypeMaintenanceOverdue reports overdue maintenance (maintenance module).
	TypeMaintenanceOverdue AlertType = "MAINTENANCE_OVERDUE"
	// TypeFuelTheft reports suspected fuel theft (maintenance module).
	TypeFuelTheft AlertType = "FUEL_THEFT"
)

var alertTypeModules = map[AlertType]string{
	TypeOverspeeding:              "Safety",
	TypeHarshBraking:              "Safety",
	TypeHarshAcceleration:         "Safety",
	TypeRouteDeviation:            "Safety",
	TypeComplianceDocumentExpiry:  "Compliance",
	TypeComplianceLicenseInvalid:  "Compliance",
	TypeComplianceInsuranceExpiry: "Compliance",
	TypeFeedbackNegative:          "Feedback",
	TypeFeedbackComplaint:         "Feedback",
	TypeMaintenanceOverdue:        "Maintenance",
	TypeFuelTheft:                 "Maintenance",
}

// SourceModule returns the module that emits this alert type.
// Params: none.
// Returns: module name or empty string for unknown types.
func (t AlertType) SourceModule() string {
	return alertTypeModules[t]
}

// ParseAlertType validates an alert type token.
// Params: raw alert type string.
// Returns: alert type constant or validation error.
func ParseAlertType(raw string) (AlertType, error) {
	alertType := AlertType(raw)
	if _, ok := alertTypeModules[alertType]; !ok {
		return "", fmt.Errorf("unsupported alert type %q", raw)
	}
	return alertType, nil
}

// MetadataKeyCondition is the reserved metadata key read by
// condition-based auto-close.
const MetadataKeyCondition = "condition"

// SystemActor marks system-performed closures in ClosedBy/ChangedBy fields.
const SystemActor = "SYSTEM"

// InvalidTransitionError reports a rejected state machine operation.
// Params: attempted operation and current status.
// Returns: error surfaced to synchronous callers as a conflict.
type InvalidTransitionError struct {
	Op     string
	Status AlertStatus
}

// Error renders the rejection message.
// Params: none.
// Returns: operation and blocking status.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s alert in status %s", e.Op, e.Status)
}

// Alert is one ingested incident with its lifecycle fields.
// Params: identity, classification, correlation keys, and transition markers.
// Returns: entity mutated only through state machine methods.
type Alert struct {
	AlertID   string        `json:"alertId"`
	AlertType AlertType     `json:"alertType"`
	Severity  AlertSeverity `json:"severity"`
	Status    AlertStatus   `json:"status"`
	Timestamp time.Time     `json:"timestamp"`

	DriverID  string `json:"driverId,omitempty"`
	VehicleID string `json:"vehicleId,omitempty"`
	RouteID   string `json:"routeId,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
	EscalationReason string     `json:"escalationReason,omitempty"`

	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	ClosureReason string     `json:"closureReason,omitempty"`
	ClosedBy      string     `json:"closedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the optimistic-concurrency token managed by the store.
	Version uint64 `json:"version"`
}

// Escalate raises the alert severity and moves it to ESCALATED.
// Re-escalating an already escalated alert is legal; severity never drops.
// Params: new severity, escalation reason, and transition time.
// Returns: InvalidTransitionError when the alert is terminal.
func (a *Alert) Escalate(newSeverity AlertSeverity, reason string, now time.Time) error {
	if a.Status != StatusOpen && a.Status != StatusEscalated {
		return &InvalidTransitionError{Op: "escalate", Status: a.Status}
	}
	firstEscalation := a.Status == StatusOpen
	a.Status = StatusEscalated
	if newSeverity.Rank() > a.Severity.Rank() {
		a.Severity = newSeverity
	}
	if firstEscalation || a.EscalatedAt == nil {
		escalatedAt := now
		a.EscalatedAt = &escalatedAt
	}
	a.EscalationReason = reason
	a.UpdatedAt = now
	return nil
}

// AutoClose moves an active alert to AUTO_CLOSED with ClosedBy=SYSTEM.
// Params: closure reason and transition time.
// Returns: nil no-op when terminal, InvalidTransitionError otherwise.
func (a *Alert) AutoClose(reason string, now time.Time) error {
	return a.close(StatusAutoClosed, SystemActor, reason, now)
}

// Resolve moves an active alert to RESOLVED on behalf of an operator.
// Params: operator identity, resolution reason, and transition time.
// Returns: nil no-op when terminal, InvalidTransitionError otherwise.
func (a *Alert) Resolve(actorID, reason string, now time.Time) error {
	return a.close(StatusResolved, actorID, reason, now)
}

// close applies one terminal transition. Terminal alerts are left untouched
// so repeated close calls stay idempotent.
func (a *Alert) close(target AlertStatus, actor, reason string, now time.Time) error {
	if a.Status.IsClosed() {
		return nil
	}
	if a.Status != StatusOpen && a.Status != StatusEscalated {
		return &InvalidTransitionError{Op: "close", Status: a.Status}
	}
	a.Status = target
	closedAt := now
	a.ClosedAt = &closedAt
	a.ClosureReason = reason
	a.ClosedBy = actor
	a.UpdatedAt = now
	return nil
}

// IsExpired reports whether the alert's event time lies outside the window.
// Params: trailing window in minutes and reference time.
// Returns: true only strictly after timestamp+window.
func (a *Alert) IsExpired(windowMinutes int, now time.Time) bool {
	return now.After(a.Timestamp.Add(time.Duration(windowMinutes) * time.Minute))
}

// SetMetadata writes one metadata entry, allocating the map on first use.
// Params: key and value.
// Returns: none.
func (a *Alert) SetMetadata(key, value string) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
}

// Condition returns the reserved condition metadata value.
// Params: none.
// Returns: condition token or empty string when unset.
func (a *Alert) Condition() string {
	return a.Metadata[MetadataKeyCondition]
}
