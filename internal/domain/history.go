package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEventType classifies one audit entry.
// Params: CREATED/ESCALATED/AUTO_CLOSED/RESOLVED constants.
// Returns: event marker stored with each transition.
type HistoryEventType string

const (
	// EventCreated marks the creation entry of an alert.
	EventCreated HistoryEventType = "CREATED"
	// EventEscalated marks an escalation transition.
	EventEscalated HistoryEventType = "ESCALATED"
	// EventAutoClosed marks a system closure transition.
	EventAutoClosed HistoryEventType = "AUTO_CLOSED"
	// EventResolved marks an operator closure transition.
	EventResolved HistoryEventType = "RESOLVED"
)

// AlertHistory is one append-only audit entry for an alert transition.
// Params: alert reference, from/to statuses, reason, and actor.
// Returns: immutable record written once per transition.
type AlertHistory struct {
	HistoryID  string           `json:"historyId"`
	AlertID    string           `json:"alertId"`
	FromStatus *AlertStatus     `json:"fromStatus,omitempty"`
	ToStatus   AlertStatus      `json:"toStatus"`
	Timestamp  time.Time        `json:"timestamp"`
	Reason     string           `json:"reason,omitempty"`
	ChangedBy  string           `json:"changedBy"`
	EventType  HistoryEventType `json:"eventType"`
}

// HistoryForCreation builds the creation audit entry. FromStatus stays nil
// only on this entry.
// Params: alert id and entry time.
// Returns: CREATED entry attributed to the system.
func HistoryForCreation(alertID string, now time.Time) AlertHistory {
	return AlertHistory{
		HistoryID: uuid.NewString(),
		AlertID:   alertID,
		ToStatus:  StatusOpen,
		Timestamp: now,
		Reason:    "Alert created",
		ChangedBy: SystemActor,
		EventType: EventCreated,
	}
}

// HistoryForEscalation builds an escalation audit entry.
// Params: alert id, pre-escalation status, actor, reason, and entry time.
// Returns: ESCALATED entry.
func HistoryForEscalation(alertID string, fromStatus AlertStatus, actor, reason string, now time.Time) AlertHistory {
	from := fromStatus
	return AlertHistory{
		HistoryID:  uuid.NewString(),
		AlertID:    alertID,
		FromStatus: &from,
		ToStatus:   StatusEscalated,
		Timestamp:  now,
		Reason:     reason,
		ChangedBy:  actor,
		EventType:  EventEscalated,
	}
}

// HistoryForAutoClose builds a system closure audit entry.
// Params: alert id, pre-closure status, reason, and entry time.
// Returns: AUTO_CLOSED entry attributed to the system.
func HistoryForAutoClose(alertID string, fromStatus AlertStatus, reason string, now time.Time) AlertHistory {
	from := fromStatus
	return AlertHistory{
		HistoryID:  uuid.NewString(),
		AlertID:    alertID,
		FromStatus: &from,
		ToStatus:   StatusAutoClosed,
		Timestamp:  now,
		Reason:     reason,
		ChangedBy:  SystemActor,
		EventType:  EventAutoClosed,
	}
}

// HistoryForResolution builds an operator closure audit entry.
// Params: alert id, pre-closure status, operator identity, reason, and entry time.
// Returns: RESOLVED entry.
func HistoryForResolution(alertID string, fromStatus AlertStatus, actorID, reason string, now time.Time) AlertHistory {
	from := fromStatus
	return AlertHistory{
		HistoryID:  uuid.NewString(),
		AlertID:    alertID,
		FromStatus: &from,
		ToStatus:   StatusResolved,
		Timestamp:  now,
		Reason:     reason,
		ChangedBy:  actorID,
		EventType:  EventResolved,
	}
}
