package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"fleetalert/internal/domain"
	"fleetalert/internal/rules"
	"fleetalert/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) byEvent(event domain.HistoryEventType) []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, 0)
	for _, notification := range n.sent {
		if notification.Event == event {
			out = append(out, notification)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func overspeedProvider() *rules.Provider {
	return rules.NewProvider(rules.NewSet([]rules.EscalationRule{{
		AlertType:          domain.TypeOverspeeding,
		EscalateIfCount:    3,
		WindowMinutes:      60,
		EscalationSeverity: domain.SeverityCritical,
		Enabled:            true,
	}}))
}

func overspeedRequest(driverID string) domain.CreateAlertRequest {
	return domain.CreateAlertRequest{
		AlertType: "OVERSPEEDING",
		Severity:  "WARNING",
		DriverID:  driverID,
		VehicleID: "v-1",
	}
}

func newTestManager(provider *rules.Provider, clk *fakeClock) (*Manager, *store.MemoryStore, *recordingNotifier) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	manager := NewManager(mem, mem, provider, clk, notifier, testLogger())
	return manager, mem, notifier
}

func TestThirdAlertInWindowEscalatesAllCandidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, mem, notifier := newTestManager(overspeedProvider(), clk)

	first, err := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	clk.Advance(10 * time.Minute)
	second, err := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Status != domain.StatusOpen {
		t.Fatalf("second alert status = %s before threshold", second.Status)
	}

	clk.Advance(10 * time.Minute)
	third, err := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	if err != nil {
		t.Fatalf("create third: %v", err)
	}
	if third.Status != domain.StatusEscalated {
		t.Fatalf("third alert status = %s, want ESCALATED", third.Status)
	}

	for _, id := range []string{first.AlertID, second.AlertID, third.AlertID} {
		alert, err := mem.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if alert.Status != domain.StatusEscalated {
			t.Fatalf("alert %s status = %s, want ESCALATED", id, alert.Status)
		}
		if alert.Severity != domain.SeverityCritical {
			t.Fatalf("alert %s severity = %s", id, alert.Severity)
		}
		if !strings.Contains(alert.EscalationReason, "3 occurrences of OVERSPEEDING") {
			t.Fatalf("alert %s reason = %q", id, alert.EscalationReason)
		}

		trail, err := mem.FindByAlert(ctx, id)
		if err != nil {
			t.Fatalf("history %s: %v", id, err)
		}
		last := trail[len(trail)-1]
		if last.EventType != domain.EventEscalated || last.ChangedBy != domain.SystemActor {
			t.Fatalf("alert %s last history = %+v", id, last)
		}
	}

	if got := len(notifier.byEvent(domain.EventEscalated)); got != 3 {
		t.Fatalf("escalation notifications = %d, want 3", got)
	}
}

func TestTwoAlertsStayOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, mem, _ := newTestManager(overspeedProvider(), clk)

	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(30 * time.Minute)
	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))

	active, err := mem.FindByStatusIn(ctx, []domain.AlertStatus{domain.StatusOpen})
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("open alerts = %d, want 2", len(active))
	}
}

func TestAlertsOutsideWindowDoNotEscalate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, mem, _ := newTestManager(overspeedProvider(), clk)

	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(61 * time.Minute)
	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(1 * time.Minute)
	third, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))

	if third.Status != domain.StatusOpen {
		t.Fatalf("status = %s, first alert aged out of the window", third.Status)
	}
	escalated, _ := mem.FindByStatusIn(ctx, []domain.AlertStatus{domain.StatusEscalated})
	if len(escalated) != 0 {
		t.Fatalf("escalated = %d, want 0", len(escalated))
	}
}

func TestDifferentDriversDoNotShareWindows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, mem, _ := newTestManager(overspeedProvider(), clk)

	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-2"))
	third, _ := manager.CreateAlert(ctx, overspeedRequest("driver-3"))

	if third.Status != domain.StatusOpen {
		t.Fatalf("status = %s, drivers should not share windows", third.Status)
	}
	escalated, _ := mem.FindByStatusIn(ctx, []domain.AlertStatus{domain.StatusEscalated})
	if len(escalated) != 0 {
		t.Fatalf("escalated = %d, want 0", len(escalated))
	}
}

func TestConditionObservationAutoCloses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	provider := rules.NewProvider(rules.NewSet([]rules.EscalationRule{{
		AlertType:   domain.TypeComplianceDocumentExpiry,
		AutoCloseIf: "document_renewed",
		Enabled:     true,
	}}))
	manager, mem, notifier := newTestManager(provider, clk)

	created, err := manager.CreateAlert(ctx, domain.CreateAlertRequest{
		AlertType: "COMPLIANCE_DOCUMENT_EXPIRY",
		Severity:  "WARNING",
		DriverID:  "driver-9",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(time.Hour)
	updated, err := manager.UpdateCondition(ctx, created.AlertID, "document_renewed")
	if err != nil {
		t.Fatalf("update condition: %v", err)
	}
	if updated.Status != domain.StatusAutoClosed {
		t.Fatalf("status = %s, want AUTO_CLOSED", updated.Status)
	}
	if updated.ClosedBy != domain.SystemActor {
		t.Fatalf("closedBy = %q", updated.ClosedBy)
	}
	if updated.ClosureReason != "Condition met: document_renewed" {
		t.Fatalf("reason = %q", updated.ClosureReason)
	}

	trail, _ := mem.FindByAlert(ctx, created.AlertID)
	last := trail[len(trail)-1]
	if last.EventType != domain.EventAutoClosed {
		t.Fatalf("last history = %+v", last)
	}
	if got := len(notifier.byEvent(domain.EventAutoClosed)); got != 1 {
		t.Fatalf("auto-close notifications = %d, want 1", got)
	}
}

func TestBatchAutoCloseTimePath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	provider := rules.NewProvider(rules.NewSet([]rules.EscalationRule{{
		AlertType:              domain.TypeOverspeeding,
		AutoCloseIfNoRepeat:    true,
		AutoCloseWindowMinutes: 120,
		Enabled:                true,
	}}))
	manager, mem, _ := newTestManager(provider, clk)

	stale, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(121 * time.Minute)
	fresh, _ := manager.CreateAlert(ctx, overspeedRequest("driver-2"))

	active, _ := manager.ActiveAlerts(ctx)
	closed := manager.BatchEvaluateAutoClose(ctx, active)
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	staleAlert, _ := mem.GetByID(ctx, stale.AlertID)
	if staleAlert.Status != domain.StatusAutoClosed {
		t.Fatalf("stale status = %s", staleAlert.Status)
	}
	freshAlert, _ := mem.GetByID(ctx, fresh.AlertID)
	if freshAlert.Status != domain.StatusOpen {
		t.Fatalf("fresh status = %s", freshAlert.Status)
	}
}

func TestRepeatBlocksTimeBasedAutoClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	provider := rules.NewProvider(rules.NewSet([]rules.EscalationRule{{
		AlertType:              domain.TypeOverspeeding,
		AutoCloseIfNoRepeat:    true,
		AutoCloseWindowMinutes: 120,
		Enabled:                true,
	}}))
	manager, mem, _ := newTestManager(provider, clk)

	anchor, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(60 * time.Minute)
	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(61 * time.Minute)

	active, _ := manager.ActiveAlerts(ctx)
	closed := manager.BatchEvaluateAutoClose(ctx, active)
	if closed != 0 {
		t.Fatalf("closed = %d, repeat should block closure", closed)
	}
	anchorAlert, _ := mem.GetByID(ctx, anchor.AlertID)
	if anchorAlert.Status != domain.StatusOpen {
		t.Fatalf("anchor status = %s", anchorAlert.Status)
	}
}

func TestResolveIsIdempotentAndManualEscalateConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, _, notifier := newTestManager(overspeedProvider(), clk)

	created, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))

	resolved, err := manager.ResolveAlert(ctx, created.AlertID, "op-1", "driver contacted")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.StatusResolved {
		t.Fatalf("status = %s", resolved.Status)
	}

	again, err := manager.ResolveAlert(ctx, created.AlertID, "op-2", "duplicate click")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.ClosedBy != "op-1" {
		t.Fatalf("closedBy = %q, second resolve should be a no-op", again.ClosedBy)
	}
	if got := len(notifier.byEvent(domain.EventResolved)); got != 1 {
		t.Fatalf("resolve notifications = %d, want 1", got)
	}

	_, err = manager.EscalateManually(ctx, created.AlertID, domain.SeverityCritical, "too late", "op-3")
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

// failingFindStore breaks the candidate query to prove that evaluation
// failures never surface to the creating caller.
type failingFindStore struct {
	store.AlertStore
}

func (s *failingFindStore) FindRecent(context.Context, domain.AlertType, string, time.Time) ([]domain.Alert, error) {
	return nil, errors.New("window query broke")
}

func TestEvaluationFailureDoesNotFailCreation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore()
	manager := NewManager(&failingFindStore{AlertStore: mem}, mem, overspeedProvider(), clk, nil, testLogger())

	created, err := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.StatusOpen {
		t.Fatalf("status = %s, want OPEN", created.Status)
	}
}

// conflictOnSaveStore rejects saves for one alert id to prove per-candidate
// fault isolation during escalation fan-out.
type conflictOnSaveStore struct {
	store.AlertStore
	conflictID string
}

func (s *conflictOnSaveStore) Save(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	if alert.AlertID == s.conflictID {
		return domain.Alert{}, store.ErrConflict
	}
	return s.AlertStore.Save(ctx, alert)
}

func TestSaveConflictOnOneCandidateDoesNotAbortOthers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore()
	wrapper := &conflictOnSaveStore{AlertStore: mem}
	manager := NewManager(wrapper, mem, overspeedProvider(), clk, nil, testLogger())

	first, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	wrapper.conflictID = first.AlertID
	clk.Advance(5 * time.Minute)
	second, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(5 * time.Minute)
	third, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))

	firstAlert, _ := mem.GetByID(ctx, first.AlertID)
	if firstAlert.Status != domain.StatusOpen {
		t.Fatalf("conflicted alert status = %s, want untouched OPEN", firstAlert.Status)
	}
	for _, id := range []string{second.AlertID, third.AlertID} {
		alert, _ := mem.GetByID(ctx, id)
		if alert.Status != domain.StatusEscalated {
			t.Fatalf("alert %s status = %s, want ESCALATED", id, alert.Status)
		}
	}
}

func TestHistoryListingRequiresKnownAlert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, _, _ := newTestManager(overspeedProvider(), clk)

	if _, err := manager.History(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEscalatedAlertsAreNotReescalated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, mem, notifier := newTestManager(overspeedProvider(), clk)

	first, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(10 * time.Minute)
	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	clk.Advance(10 * time.Minute)
	_, _ = manager.CreateAlert(ctx, overspeedRequest("driver-1"))

	firstAfterBurst, _ := mem.GetByID(ctx, first.AlertID)
	if firstAfterBurst.Status != domain.StatusEscalated {
		t.Fatalf("first status = %s, want ESCALATED", firstAfterBurst.Status)
	}

	clk.Advance(10 * time.Minute)
	fourth, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	if fourth.Status != domain.StatusEscalated {
		t.Fatalf("fourth status = %s, want ESCALATED", fourth.Status)
	}

	firstAfterFourth, _ := mem.GetByID(ctx, first.AlertID)
	if firstAfterFourth.EscalationReason != firstAfterBurst.EscalationReason {
		t.Fatalf("escalation reason rewritten: %q -> %q",
			firstAfterBurst.EscalationReason, firstAfterFourth.EscalationReason)
	}
	if !firstAfterFourth.EscalatedAt.Equal(*firstAfterBurst.EscalatedAt) {
		t.Fatal("escalation time changed on already-escalated alert")
	}

	entries, _ := mem.FindByAlert(ctx, first.AlertID)
	escalatedEntries := 0
	for _, entry := range entries {
		if entry.EventType == domain.EventEscalated {
			escalatedEntries++
		}
	}
	if escalatedEntries != 1 {
		t.Fatalf("first alert has %d ESCALATED history entries, want 1", escalatedEntries)
	}

	if got := len(notifier.byEvent(domain.EventEscalated)); got != 4 {
		t.Fatalf("escalation notifications = %d, want 4", got)
	}
}

func TestStaleBatchSnapshotDoesNotCloseResolvedAlert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	manager, mem, _ := newTestManager(timeCloseProvider(), clk)

	created, _ := manager.CreateAlert(ctx, overspeedRequest("driver-1"))
	snapshot, _ := manager.ActiveAlerts(ctx)

	clk.Advance(121 * time.Minute)
	if _, err := manager.ResolveAlert(ctx, created.AlertID, "op-1", "handled"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	closed := manager.BatchEvaluateAutoClose(ctx, snapshot)
	if closed != 0 {
		t.Fatalf("closed = %d, stale snapshot must not close a resolved alert", closed)
	}

	current, _ := mem.GetByID(ctx, created.AlertID)
	if current.Status != domain.StatusResolved {
		t.Fatalf("status = %s, want RESOLVED", current.Status)
	}
	entries, _ := mem.FindByAlert(ctx, created.AlertID)
	for _, entry := range entries {
		if entry.EventType == domain.EventAutoClosed {
			t.Fatal("stale snapshot produced an AUTO_CLOSED history entry")
		}
	}
}
