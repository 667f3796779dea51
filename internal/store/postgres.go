package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fleetalert/internal/domain"
)

const alertColumns = `alert_id, alert_type, severity, status, timestamp,
	driver_id, vehicle_id, route_id, metadata,
	escalated_at, escalation_reason, closed_at, closure_reason, closed_by,
	created_at, updated_at, version`

const schemaDDL = `
CREATE TABLE IF NOT EXISTS alerts (
	alert_id          TEXT PRIMARY KEY,
	alert_type        TEXT NOT NULL,
	severity          TEXT NOT NULL,
	status            TEXT NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL,
	driver_id         TEXT,
	vehicle_id        TEXT,
	route_id          TEXT,
	metadata          JSONB,
	escalated_at      TIMESTAMPTZ,
	escalation_reason TEXT,
	closed_at         TIMESTAMPTZ,
	closure_reason    TEXT,
	closed_by         TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	version           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts (status);
CREATE INDEX IF NOT EXISTS idx_alerts_type_driver_ts ON alerts (alert_type, driver_id, timestamp);
CREATE TABLE IF NOT EXISTS alert_history (
	history_id  TEXT PRIMARY KEY,
	alert_id    TEXT NOT NULL,
	from_status TEXT,
	to_status   TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	reason      TEXT,
	changed_by  TEXT,
	event_type  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_alert ON alert_history (alert_id);
CREATE INDEX IF NOT EXISTS idx_history_ts ON alert_history (timestamp);
`

// PostgresStore persists alerts and history in PostgreSQL.
// Params: shared sql.DB handle from OpenPostgres.
// Returns: AlertStore and HistoryStore implementation.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to PostgreSQL and verifies the connection.
// Params: context and lib/pq DSN.
// Returns: ready store or connection error.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates tables and indexes when they do not exist.
// Params: context.
// Returns: DDL execution error.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new alert with version 1.
// Params: context and alert entity.
// Returns: persisted copy or insert error.
func (s *PostgresStore) Create(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("encode metadata: %w", err)
	}
	alert.Version = 1
	const q = `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`
	_, err = s.db.ExecContext(ctx, q,
		alert.AlertID, string(alert.AlertType), string(alert.Severity), string(alert.Status), alert.Timestamp,
		nullString(alert.DriverID), nullString(alert.VehicleID), nullString(alert.RouteID), metadata,
		alert.EscalatedAt, nullString(alert.EscalationReason),
		alert.ClosedAt, nullString(alert.ClosureReason), nullString(alert.ClosedBy),
		alert.CreatedAt, alert.UpdatedAt, alert.Version,
	)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

// GetByID fetches one alert.
// Params: context and alert id.
// Returns: alert, ErrNotFound, or query error.
func (s *PostgresStore) GetByID(ctx context.Context, alertID string) (domain.Alert, error) {
	const q = `SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = $1`
	alert, err := scanAlert(s.db.QueryRowContext(ctx, q, alertID))
	if err == sql.ErrNoRows {
		return domain.Alert{}, ErrNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("query alert %q: %w", alertID, err)
	}
	return alert, nil
}

// FindByStatusIn lists alerts by status set.
// Params: context and status filter.
// Returns: matching alerts ordered by timestamp ascending.
func (s *PostgresStore) FindByStatusIn(ctx context.Context, statuses []domain.AlertStatus) ([]domain.Alert, error) {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	const q = `SELECT ` + alertColumns + ` FROM alerts WHERE status = ANY($1) ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, q, pq.Array(values))
	if err != nil {
		return nil, fmt.Errorf("query alerts by status: %w", err)
	}
	return collectAlerts(rows)
}

// FindRecent lists same-type same-driver alerts inside the window.
// Params: context, alert type, driver id, and inclusive lower time bound.
// Returns: matches ordered by timestamp descending.
func (s *PostgresStore) FindRecent(ctx context.Context, alertType domain.AlertType, driverID string, since time.Time) ([]domain.Alert, error) {
	const q = `SELECT ` + alertColumns + ` FROM alerts
		WHERE alert_type = $1 AND COALESCE(driver_id, '') = $2 AND timestamp >= $3
		ORDER BY timestamp DESC`
	rows, err := s.db.QueryContext(ctx, q, string(alertType), driverID, since)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	return collectAlerts(rows)
}

// Save updates an alert guarded by its version token.
// Params: context and mutated alert carrying the version it was read at.
// Returns: copy with incremented version, ErrNotFound, or ErrConflict.
func (s *PostgresStore) Save(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("encode metadata: %w", err)
	}
	const q = `
		UPDATE alerts SET
			severity = $1, status = $2, metadata = $3,
			escalated_at = $4, escalation_reason = $5,
			closed_at = $6, closure_reason = $7, closed_by = $8,
			updated_at = $9, version = version + 1
		WHERE alert_id = $10 AND version = $11
	`
	result, err := s.db.ExecContext(ctx, q,
		string(alert.Severity), string(alert.Status), metadata,
		alert.EscalatedAt, nullString(alert.EscalationReason),
		alert.ClosedAt, nullString(alert.ClosureReason), nullString(alert.ClosedBy),
		alert.UpdatedAt, alert.AlertID, alert.Version,
	)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("update alert %q: %w", alert.AlertID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Alert{}, fmt.Errorf("update alert %q: %w", alert.AlertID, err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alerts WHERE alert_id = $1)`, alert.AlertID).Scan(&exists); err != nil {
			return domain.Alert{}, fmt.Errorf("check alert %q: %w", alert.AlertID, err)
		}
		if !exists {
			return domain.Alert{}, ErrNotFound
		}
		return domain.Alert{}, ErrConflict
	}
	alert.Version++
	return alert, nil
}

// DeleteOlderThan removes alerts with a timestamp before the threshold.
// Params: context and retention threshold.
// Returns: number of deleted rows.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE timestamp < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete old alerts: %w", err)
	}
	return result.RowsAffected()
}

// Close releases the database handle.
// Params: none.
// Returns: close error.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Append inserts one audit entry.
// Params: context and history entry.
// Returns: insert error.
func (s *PostgresStore) Append(ctx context.Context, entry domain.AlertHistory) error {
	const q = `
		INSERT INTO alert_history
		(history_id, alert_id, from_status, to_status, timestamp, reason, changed_by, event_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	var from sql.NullString
	if entry.FromStatus != nil {
		from = sql.NullString{String: string(*entry.FromStatus), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		entry.HistoryID, entry.AlertID, from, string(entry.ToStatus),
		entry.Timestamp, entry.Reason, entry.ChangedBy, string(entry.EventType),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// FindByAlert lists audit entries for one alert.
// Params: context and alert id.
// Returns: entries ordered by timestamp ascending.
func (s *PostgresStore) FindByAlert(ctx context.Context, alertID string) ([]domain.AlertHistory, error) {
	const q = `
		SELECT history_id, alert_id, from_status, to_status, timestamp, reason, changed_by, event_type
		FROM alert_history WHERE alert_id = $1 ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, q, alertID)
	if err != nil {
		return nil, fmt.Errorf("query history for %q: %w", alertID, err)
	}
	return collectHistory(rows)
}

// FindRecentHistory lists the newest audit entries.
// Params: context and row limit.
// Returns: entries ordered by timestamp descending.
func (s *PostgresStore) FindRecentHistory(ctx context.Context, limit int) ([]domain.AlertHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT history_id, alert_id, from_status, to_status, timestamp, reason, changed_by, event_type
		FROM alert_history ORDER BY timestamp DESC LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent history: %w", err)
	}
	return collectHistory(rows)
}

// DeleteHistoryOlderThan removes audit entries before the threshold.
// Params: context and retention threshold.
// Returns: number of deleted rows.
func (s *PostgresStore) DeleteHistoryOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alert_history WHERE timestamp < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete old history: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAlert reads one alert row.
// Params: row scanner positioned on alertColumns.
// Returns: decoded alert or scan error.
func scanAlert(row rowScanner) (domain.Alert, error) {
	var (
		alert            domain.Alert
		alertType        string
		severity         string
		status           string
		driverID         sql.NullString
		vehicleID        sql.NullString
		routeID          sql.NullString
		metadata         []byte
		escalatedAt      sql.NullTime
		escalationReason sql.NullString
		closedAt         sql.NullTime
		closureReason    sql.NullString
		closedBy         sql.NullString
	)
	err := row.Scan(
		&alert.AlertID, &alertType, &severity, &status, &alert.Timestamp,
		&driverID, &vehicleID, &routeID, &metadata,
		&escalatedAt, &escalationReason, &closedAt, &closureReason, &closedBy,
		&alert.CreatedAt, &alert.UpdatedAt, &alert.Version,
	)
	if err != nil {
		return domain.Alert{}, err
	}
	alert.AlertType = domain.AlertType(alertType)
	alert.Severity = domain.AlertSeverity(severity)
	alert.Status = domain.AlertStatus(status)
	alert.DriverID = driverID.String
	alert.VehicleID = vehicleID.String
	alert.RouteID = routeID.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &alert.Metadata); err != nil {
			return domain.Alert{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if escalatedAt.Valid {
		at := escalatedAt.Time
		alert.EscalatedAt = &at
	}
	alert.EscalationReason = escalationReason.String
	if closedAt.Valid {
		at := closedAt.Time
		alert.ClosedAt = &at
	}
	alert.ClosureReason = closureReason.String
	alert.ClosedBy = closedBy.String
	return alert, nil
}

// collectAlerts drains alert rows.
// Params: open result set.
// Returns: decoded alerts or first scan error.
func collectAlerts(rows *sql.Rows) ([]domain.Alert, error) {
	defer rows.Close()
	out := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// collectHistory drains history rows.
// Params: open result set.
// Returns: decoded entries or first scan error.
func collectHistory(rows *sql.Rows) ([]domain.AlertHistory, error) {
	defer rows.Close()
	out := make([]domain.AlertHistory, 0)
	for rows.Next() {
		var (
			entry      domain.AlertHistory
			fromStatus sql.NullString
			toStatus   string
			eventType  string
		)
		err := rows.Scan(
			&entry.HistoryID, &entry.AlertID, &fromStatus, &toStatus,
			&entry.Timestamp, &entry.Reason, &entry.ChangedBy, &eventType,
		)
		if err != nil {
			return nil, err
		}
		if fromStatus.Valid {
			from := domain.AlertStatus(fromStatus.String)
			entry.FromStatus = &from
		}
		entry.ToStatus = domain.AlertStatus(toStatus)
		entry.EventType = domain.HistoryEventType(eventType)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullString maps empty strings to SQL NULL.
// Params: possibly empty value.
// Returns: NullString for exec arguments.
func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
