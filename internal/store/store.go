package store

import (
	"context"
	"errors"
	"time"

	"fleetalert/internal/domain"
)

var (
	// ErrNotFound indicates an unknown alert id.
	ErrNotFound = errors.New("alert not found")
	// ErrConflict indicates a version mismatch on optimistic save.
	ErrConflict = errors.New("version conflict")
)

// AlertStore provides alert persistence operations.
// Params: CRUD plus window and status queries used by evaluation workflows.
// Returns: backend persistence behavior.
type AlertStore interface {
	Create(ctx context.Context, alert domain.Alert) (domain.Alert, error)
	GetByID(ctx context.Context, alertID string) (domain.Alert, error)
	FindByStatusIn(ctx context.Context, statuses []domain.AlertStatus) ([]domain.Alert, error)
	// FindRecent returns same-type same-driver alerts with timestamp >= since,
	// ordered by timestamp descending.
	FindRecent(ctx context.Context, alertType domain.AlertType, driverID string, since time.Time) ([]domain.Alert, error)
	// Save persists a mutated alert using its Version as optimistic token and
	// returns the copy with the incremented version.
	Save(ctx context.Context, alert domain.Alert) (domain.Alert, error)
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
	Close() error
}

// HistoryStore provides append-only audit log persistence.
// Params: append plus per-alert and recent listings.
// Returns: audit backend behavior.
type HistoryStore interface {
	Append(ctx context.Context, entry domain.AlertHistory) error
	// FindByAlert returns entries ordered by timestamp ascending.
	FindByAlert(ctx context.Context, alertID string) ([]domain.AlertHistory, error)
	FindRecentHistory(ctx context.Context, limit int) ([]domain.AlertHistory, error)
	DeleteHistoryOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}
