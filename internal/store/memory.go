package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetalert/internal/domain"
)

// MemoryStore keeps alerts and history in process memory for single mode.
// Params: in-memory maps guarded by one mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	alerts  map[string]domain.Alert
	history []domain.AlertHistory
}

// NewMemoryStore creates an empty in-memory store.
// Params: none.
// Returns: initialized store implementing AlertStore and HistoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]domain.Alert)}
}

// copyAlert detaches map-backed fields so callers never alias stored state.
func copyAlert(alert domain.Alert) domain.Alert {
	out := alert
	if alert.Metadata != nil {
		out.Metadata = make(map[string]string, len(alert.Metadata))
		for key, value := range alert.Metadata {
			out.Metadata[key] = value
		}
	}
	return out
}

// Create persists a new alert with version 1.
// Params: alert entity from the manager.
// Returns: persisted copy.
func (s *MemoryStore) Create(_ context.Context, alert domain.Alert) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.Version = 1
	s.alerts[alert.AlertID] = copyAlert(alert)
	return alert, nil
}

// GetByID returns the stored alert copy.
// Params: alert id.
// Returns: alert or ErrNotFound.
func (s *MemoryStore) GetByID(_ context.Context, alertID string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	return copyAlert(alert), nil
}

// FindByStatusIn lists alerts whose status is in the given set.
// Params: status filter.
// Returns: matching alerts ordered by timestamp ascending.
func (s *MemoryStore) FindByStatusIn(_ context.Context, statuses []domain.AlertStatus) ([]domain.Alert, error) {
	wanted := make(map[domain.AlertStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if _, ok := wanted[alert.Status]; ok {
			out = append(out, copyAlert(alert))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// FindRecent lists same-type same-driver alerts inside the window.
// Params: alert type, driver id, and inclusive lower time bound.
// Returns: matches ordered by timestamp descending.
func (s *MemoryStore) FindRecent(_ context.Context, alertType domain.AlertType, driverID string, since time.Time) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if alert.AlertType != alertType || alert.DriverID != driverID {
			continue
		}
		if alert.Timestamp.Before(since) {
			continue
		}
		out = append(out, copyAlert(alert))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Save replaces a stored alert using its version as optimistic token.
// Params: mutated alert carrying the version it was read at.
// Returns: copy with incremented version, ErrNotFound, or ErrConflict.
func (s *MemoryStore) Save(_ context.Context, alert domain.Alert) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.alerts[alert.AlertID]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	if stored.Version != alert.Version {
		return domain.Alert{}, ErrConflict
	}
	alert.Version++
	s.alerts[alert.AlertID] = copyAlert(alert)
	return alert, nil
}

// DeleteOlderThan removes alerts with a timestamp before the threshold.
// Params: retention threshold.
// Returns: number of deleted alerts.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, alert := range s.alerts {
		if alert.Timestamp.Before(threshold) {
			delete(s.alerts, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

// Append adds one audit entry.
// Params: history entry.
// Returns: nil (in-memory append).
func (s *MemoryStore) Append(_ context.Context, entry domain.AlertHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

// FindByAlert lists audit entries for one alert.
// Params: alert id.
// Returns: entries ordered by timestamp ascending.
func (s *MemoryStore) FindByAlert(_ context.Context, alertID string) ([]domain.AlertHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AlertHistory, 0)
	for _, entry := range s.history {
		if entry.AlertID == alertID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// FindRecentHistory lists the newest audit entries.
// Params: maximum number of entries.
// Returns: entries ordered by timestamp descending.
func (s *MemoryStore) FindRecentHistory(_ context.Context, limit int) ([]domain.AlertHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AlertHistory, len(s.history))
	copy(out, s.history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteHistoryOlderThan removes audit entries before the threshold.
// Params: retention threshold.
// Returns: number of removed entries.
func (s *MemoryStore) DeleteHistoryOlderThan(_ context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	var deleted int64
	for _, entry := range s.history {
		if entry.Timestamp.Before(threshold) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	s.history = kept
	return deleted, nil
}
