package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreateAlertRequest is the inbound payload for alert ingestion.
// Params: classification, correlation keys, metadata, and optional event time.
// Returns: validated creation request for the manager.
type CreateAlertRequest struct {
	AlertType string            `json:"alertType"`
	Severity  string            `json:"severity"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	DriverID  string            `json:"driverId,omitempty"`
	VehicleID string            `json:"vehicleId,omitempty"`
	RouteID   string            `json:"routeId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DecodeCreateAlertRequest decodes and validates one creation payload.
// Params: JSON document bytes.
// Returns: validated request or decode/validation error.
func DecodeCreateAlertRequest(raw []byte) (CreateAlertRequest, error) {
	var request CreateAlertRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return CreateAlertRequest{}, fmt.Errorf("decode create alert request: %w", err)
	}
	if err := request.Validate(); err != nil {
		return CreateAlertRequest{}, err
	}
	return request, nil
}

// Validate checks the creation request contract.
// Params: request fields parsed from transport.
// Returns: validation error when type or severity is missing/unknown.
func (r CreateAlertRequest) Validate() error {
	if _, err := ParseAlertType(r.AlertType); err != nil {
		return err
	}
	if _, err := ParseSeverity(r.Severity); err != nil {
		return err
	}
	return nil
}

// ToAlert builds an OPEN alert from the request.
// Params: generated alert id and creation time.
// Returns: alert entity ready for persistence.
func (r CreateAlertRequest) ToAlert(alertID string, now time.Time) Alert {
	timestamp := now
	if r.Timestamp != nil {
		timestamp = r.Timestamp.UTC()
	}
	metadata := make(map[string]string, len(r.Metadata))
	for key, value := range r.Metadata {
		metadata[key] = value
	}
	return Alert{
		AlertID:   alertID,
		AlertType: AlertType(r.AlertType),
		Severity:  AlertSeverity(r.Severity),
		Status:    StatusOpen,
		Timestamp: timestamp,
		DriverID:  r.DriverID,
		VehicleID: r.VehicleID,
		RouteID:   r.RouteID,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
