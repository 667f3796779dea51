package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetalert/internal/domain"
)

func storedAlert(id string, ts time.Time) domain.Alert {
	return domain.Alert{
		AlertID:   id,
		AlertType: domain.TypeOverspeeding,
		Severity:  domain.SeverityWarning,
		Status:    domain.StatusOpen,
		Timestamp: ts,
		DriverID:  "driver-1",
		Metadata:  map[string]string{"speed": "120"},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	created, err := mem.Create(ctx, storedAlert("a-1", now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}

	fetched, err := mem.GetByID(ctx, "a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	fetched.Metadata["speed"] = "0"
	again, _ := mem.GetByID(ctx, "a-1")
	if again.Metadata["speed"] != "120" {
		t.Fatal("stored metadata mutated through returned copy")
	}

	if _, err := mem.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveDetectsVersionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	created, _ := mem.Create(ctx, storedAlert("a-1", now))

	first := created
	first.Severity = domain.SeverityCritical
	saved, err := mem.Save(ctx, first)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("version = %d, want 2", saved.Version)
	}

	stale := created
	stale.Severity = domain.SeverityInfo
	if _, err := mem.Save(ctx, stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestMemoryFindRecentFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, _ = mem.Create(ctx, storedAlert("old", base.Add(-2*time.Hour)))
	_, _ = mem.Create(ctx, storedAlert("mid", base.Add(-30*time.Minute)))
	_, _ = mem.Create(ctx, storedAlert("new", base))

	other := storedAlert("other-driver", base)
	other.DriverID = "driver-2"
	_, _ = mem.Create(ctx, other)

	found, err := mem.FindRecent(ctx, domain.TypeOverspeeding, "driver-1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("len = %d, want 2", len(found))
	}
	if found[0].AlertID != "new" || found[1].AlertID != "mid" {
		t.Fatalf("order = %s,%s, want newest first", found[0].AlertID, found[1].AlertID)
	}
}

func TestMemoryFindByStatusIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	open := storedAlert("open", base)
	closed := storedAlert("closed", base.Add(time.Minute))
	closed.Status = domain.StatusResolved
	_, _ = mem.Create(ctx, open)
	_, _ = mem.Create(ctx, closed)

	active, err := mem.FindByStatusIn(ctx, []domain.AlertStatus{domain.StatusOpen, domain.StatusEscalated})
	if err != nil {
		t.Fatalf("find by status: %v", err)
	}
	if len(active) != 1 || active[0].AlertID != "open" {
		t.Fatalf("active = %+v", active)
	}
}

func TestMemoryRetentionDeletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, _ = mem.Create(ctx, storedAlert("ancient", base.Add(-100*24*time.Hour)))
	_, _ = mem.Create(ctx, storedAlert("fresh", base))
	_ = mem.Append(ctx, domain.HistoryForCreation("ancient", base.Add(-100*24*time.Hour)))
	_ = mem.Append(ctx, domain.HistoryForCreation("fresh", base))

	threshold := base.Add(-90 * 24 * time.Hour)
	deleted, err := mem.DeleteOlderThan(ctx, threshold)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := mem.GetByID(ctx, "fresh"); err != nil {
		t.Fatalf("fresh alert removed: %v", err)
	}

	deletedHistory, err := mem.DeleteHistoryOlderThan(ctx, threshold)
	if err != nil {
		t.Fatalf("delete history: %v", err)
	}
	if deletedHistory != 1 {
		t.Fatalf("deleted history = %d, want 1", deletedHistory)
	}
}

func TestMemoryHistoryOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_ = mem.Append(ctx, domain.HistoryForCreation("a-1", base))
	_ = mem.Append(ctx, domain.HistoryForEscalation("a-1", domain.StatusOpen, domain.SystemActor, "repeat", base.Add(time.Minute)))
	_ = mem.Append(ctx, domain.HistoryForCreation("a-2", base.Add(2*time.Minute)))

	trail, err := mem.FindByAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("find by alert: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("len = %d, want 2", len(trail))
	}
	if trail[0].EventType != domain.EventCreated || trail[1].EventType != domain.EventEscalated {
		t.Fatalf("order = %s,%s", trail[0].EventType, trail[1].EventType)
	}

	recent, err := mem.FindRecentHistory(ctx, 2)
	if err != nil {
		t.Fatalf("recent history: %v", err)
	}
	if len(recent) != 2 || recent[0].AlertID != "a-2" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestMemoryFindRecentMatchesDriverlessAlerts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	driverless := storedAlert("a-1", now)
	driverless.DriverID = ""
	if _, err := mem.Create(ctx, driverless); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mem.Create(ctx, storedAlert("a-2", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := mem.FindRecent(ctx, domain.TypeOverspeeding, "", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if len(found) != 1 || found[0].AlertID != "a-1" {
		t.Fatalf("found = %v, want only the driverless alert", found)
	}
}
