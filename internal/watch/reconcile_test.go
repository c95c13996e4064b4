package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"coursewatch/internal/domain"
)

func statusPtr(s domain.Status) *domain.Status { return &s }

func TestDecideTransitionTable(t *testing.T) {
	cases := []struct {
		name     string
		previous *domain.Status
		current  domain.Status
		want     domain.AlertAction
	}{
		{"new section open", nil, domain.StatusOpen, domain.ActionAlertOpen},
		{"new section waitlisted", nil, domain.StatusWaitlisted, domain.ActionNone},
		{"new section closed", nil, domain.StatusClosed, domain.ActionNone},

		{"open unchanged", statusPtr(domain.StatusOpen), domain.StatusOpen, domain.ActionNone},
		{"waitlisted unchanged", statusPtr(domain.StatusWaitlisted), domain.StatusWaitlisted, domain.ActionNone},
		{"closed unchanged", statusPtr(domain.StatusClosed), domain.StatusClosed, domain.ActionNone},

		{"closed to open", statusPtr(domain.StatusClosed), domain.StatusOpen, domain.ActionAlertOpen},
		{"waitlisted to open", statusPtr(domain.StatusWaitlisted), domain.StatusOpen, domain.ActionAlertOpen},

		{"closed to waitlisted", statusPtr(domain.StatusClosed), domain.StatusWaitlisted, domain.ActionAlertWaitlisted},
		{"open to waitlisted downgrade", statusPtr(domain.StatusOpen), domain.StatusWaitlisted, domain.ActionNone},

		{"open to closed", statusPtr(domain.StatusOpen), domain.StatusClosed, domain.ActionNone},
		{"waitlisted to closed", statusPtr(domain.StatusWaitlisted), domain.StatusClosed, domain.ActionNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.previous, tc.current); got != tc.want {
				t.Errorf("Decide(%v, %s) = %s; want %s", tc.previous, tc.current, got, tc.want)
			}
		})
	}
}

// fakeStore is an in-memory TaskStore.
type fakeStore struct {
	sections map[string]domain.WatchedSection

	findErr    error
	upsertErr  error
	updateErr  error
	updateCnt  int
	upsertCnt  int
	enabledCnt int
}

func newFakeStore(sections ...domain.WatchedSection) *fakeStore {
	fs := &fakeStore{sections: map[string]domain.WatchedSection{}}
	for _, ws := range sections {
		fs.sections[ws.SectionID] = ws
	}
	return fs
}

func (f *fakeStore) FindEnabled(context.Context) ([]domain.WatchedSection, error) {
	f.enabledCnt++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.WatchedSection
	for _, ws := range f.sections {
		if ws.Enabled {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (f *fakeStore) FindBySectionID(_ context.Context, id string) (*domain.WatchedSection, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	ws, ok := f.sections[id]
	if !ok {
		return nil, nil
	}
	return &ws, nil
}

func (f *fakeStore) Upsert(_ context.Context, ws domain.WatchedSection) error {
	f.upsertCnt++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.sections[ws.SectionID] = ws
	return nil
}

func (f *fakeStore) UpdateLastStatus(_ context.Context, id string, st domain.Status) error {
	f.updateCnt++
	if f.updateErr != nil {
		return f.updateErr
	}
	ws, ok := f.sections[id]
	if !ok {
		return errors.New("no such section")
	}
	ws.LastStatus = &st
	f.sections[id] = ws
	return nil
}

type notification struct {
	action    domain.AlertAction
	sectionID string
	label     string
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, action domain.AlertAction, sectionID, label string) {
	f.sent = append(f.sent, notification{action, sectionID, label})
}

func newTestReconciler(store TaskStore, n *fakeNotifier) *Reconciler {
	return &Reconciler{
		Store:    store,
		Notifier: n,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func obsWith(status domain.Status) domain.SectionObservation {
	return domain.SectionObservation{
		Subject:       "COMP SCI",
		CatalogNumber: "577",
		SectionID:     "60035",
		Status:        status,
		CourseID:      "004289",
	}
}

func TestReconcileDiscoversNewSection(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusOpen))

	if action != domain.ActionAlertOpen {
		t.Errorf("expected alert-open on discovery of an open section, got %s", action)
	}
	if !persisted {
		t.Error("expected record to be persisted")
	}

	ws := store.sections["60035"]
	if ws.Enabled {
		t.Error("discovered sections must start disabled")
	}
	if ws.DisplayName != "COMP SCI 577" || ws.CourseID != "004289" {
		t.Errorf("unexpected stored record: %+v", ws)
	}
	if ws.LastStatus == nil || *ws.LastStatus != domain.StatusOpen {
		t.Errorf("expected last status OPEN, got %v", ws.LastStatus)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].action != domain.ActionAlertOpen {
		t.Errorf("expected one open alert, got %v", notifier.sent)
	}
	if notifier.sent[0].label != "COMP SCI 577" {
		t.Errorf("unexpected course label %q", notifier.sent[0].label)
	}
}

func TestReconcileDiscoveryOfClosedSectionIsSilent(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusClosed))

	if action != domain.ActionNone || !persisted {
		t.Errorf("expected (none, persisted), got (%s, %v)", action, persisted)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("expected no alert, got %v", notifier.sent)
	}
	if _, ok := store.sections["60035"]; !ok {
		t.Error("expected record to be created")
	}
}

func TestReconcileClosedToWaitlistedAlerts(t *testing.T) {
	store := newFakeStore(domain.WatchedSection{
		SectionID: "60035", CourseID: "004289", DisplayName: "COMP SCI 577",
		Enabled: true, LastStatus: statusPtr(domain.StatusClosed),
	})
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusWaitlisted))

	if action != domain.ActionAlertWaitlisted || !persisted {
		t.Errorf("expected (alert-waitlisted, persisted), got (%s, %v)", action, persisted)
	}
	if got := store.sections["60035"].LastStatus; got == nil || *got != domain.StatusWaitlisted {
		t.Errorf("expected stored status WAITLISTED, got %v", got)
	}
}

func TestReconcileOpenToWaitlistedDowngradeStillPersists(t *testing.T) {
	store := newFakeStore(domain.WatchedSection{
		SectionID: "60035", CourseID: "004289", DisplayName: "COMP SCI 577",
		Enabled: true, LastStatus: statusPtr(domain.StatusOpen),
	})
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusWaitlisted))

	if action != domain.ActionNone {
		t.Errorf("downgrade must not alert, got %s", action)
	}
	if !persisted {
		t.Error("status must be recorded even without an alert")
	}
	if got := store.sections["60035"].LastStatus; got == nil || *got != domain.StatusWaitlisted {
		t.Errorf("expected stored status WAITLISTED, got %v", got)
	}
}

func TestReconcileDisabledSectionSuppressesAlertButUpdates(t *testing.T) {
	store := newFakeStore(domain.WatchedSection{
		SectionID: "60035", CourseID: "004289", DisplayName: "COMP SCI 577",
		Enabled: false, LastStatus: statusPtr(domain.StatusClosed),
	})
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusOpen))

	if action != domain.ActionNone {
		t.Errorf("disabled section must not alert, got %s", action)
	}
	if !persisted {
		t.Error("disabled section still tracks status changes")
	}
	if len(notifier.sent) != 0 {
		t.Errorf("expected no notification, got %v", notifier.sent)
	}
	if got := store.sections["60035"].LastStatus; got == nil || *got != domain.StatusOpen {
		t.Errorf("expected stored status OPEN, got %v", got)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := newFakeStore(domain.WatchedSection{
		SectionID: "60035", CourseID: "004289", DisplayName: "COMP SCI 577",
		Enabled: true, LastStatus: statusPtr(domain.StatusClosed),
	})
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	first, persistedFirst := r.Reconcile(context.Background(), obsWith(domain.StatusOpen))
	if first != domain.ActionAlertOpen || !persistedFirst {
		t.Fatalf("first call: expected (alert-open, persisted), got (%s, %v)", first, persistedFirst)
	}

	second, persistedSecond := r.Reconcile(context.Background(), obsWith(domain.StatusOpen))
	if second != domain.ActionNone {
		t.Errorf("second identical observation must yield none, got %s", second)
	}
	if persistedSecond {
		t.Error("second identical observation must not write")
	}
	if store.updateCnt != 1 {
		t.Errorf("expected exactly one status update, got %d", store.updateCnt)
	}
}

func TestReconcilePersistFailureStillAlerts(t *testing.T) {
	store := newFakeStore(domain.WatchedSection{
		SectionID: "60035", CourseID: "004289", DisplayName: "COMP SCI 577",
		Enabled: true, LastStatus: statusPtr(domain.StatusClosed),
	})
	store.updateErr = errors.New("disk full")
	notifier := &fakeNotifier{}
	r := newTestReconciler(store, notifier)

	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusOpen))

	if action != domain.ActionAlertOpen {
		t.Errorf("persist failure must not eat the alert, got %s", action)
	}
	if persisted {
		t.Error("expected didPersist=false on store failure")
	}
	if len(notifier.sent) != 1 {
		t.Errorf("expected the alert to be dispatched, got %v", notifier.sent)
	}
}

type fakeHistory struct {
	appended []domain.SectionObservation
	err      error
}

func (f *fakeHistory) AppendObservation(_ context.Context, obs domain.SectionObservation, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, obs)
	return nil
}

func TestReconcileAppendsHistory(t *testing.T) {
	store := newFakeStore()
	hist := &fakeHistory{}
	r := newTestReconciler(store, &fakeNotifier{})
	r.History = hist

	r.Reconcile(context.Background(), obsWith(domain.StatusClosed))
	if len(hist.appended) != 1 {
		t.Fatalf("expected one history row, got %d", len(hist.appended))
	}

	// history failures are swallowed
	hist.err = errors.New("log unavailable")
	action, persisted := r.Reconcile(context.Background(), obsWith(domain.StatusClosed))
	if action != domain.ActionNone || persisted {
		t.Errorf("history failure must not change the outcome, got (%s, %v)", action, persisted)
	}
}
