package domain

import "time"

// Notification is the outbound payload describing one lifecycle event.
// Params: alert identity, event kind, and human-readable reason.
// Returns: channel-agnostic notification model.
type Notification struct {
	AlertID    string           `json:"alertId"`
	AlertType  AlertType        `json:"alertType"`
	Severity   AlertSeverity    `json:"severity"`
	Status     AlertStatus      `json:"status"`
	Event      HistoryEventType `json:"event"`
	Reason     string           `json:"reason"`
	DriverID   string           `json:"driverId,omitempty"`
	VehicleID  string           `json:"vehicleId,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
	Message    string           `json:"message"`
}
