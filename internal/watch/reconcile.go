package watch

import (
	"context"
	"log/slog"
	"time"

	"coursewatch/internal/domain"
	"coursewatch/internal/notify"
)

// TaskStore is the slice of the persisted store that the watch loop needs.
type TaskStore interface {
	FindEnabled(ctx context.Context) ([]domain.WatchedSection, error)
	FindBySectionID(ctx context.Context, sectionID string) (*domain.WatchedSection, error)
	Upsert(ctx context.Context, ws domain.WatchedSection) error
	UpdateLastStatus(ctx context.Context, sectionID string, status domain.Status) error
}

// ObservationLog is the append-only history sink. Reconciliation treats it
// as best-effort: append failures are logged and dropped.
type ObservationLog interface {
	AppendObservation(ctx context.Context, obs domain.SectionObservation, at time.Time) error
}

// Decide runs the alert transition table.
//
//	previous      current     action
//	none (new)    OPEN        alert-open
//	none (new)    other       none
//	X             X           none
//	any != OPEN   OPEN        alert-open
//	CLOSED        WAITLISTED  alert-waitlisted
//	OPEN          WAITLISTED  none (downgrade stays quiet)
//	any           CLOSED      none
func Decide(previous *domain.Status, current domain.Status) domain.AlertAction {
	if previous == nil {
		if current == domain.StatusOpen {
			return domain.ActionAlertOpen
		}
		return domain.ActionNone
	}
	if *previous == current {
		return domain.ActionNone
	}

	switch current {
	case domain.StatusOpen:
		return domain.ActionAlertOpen
	case domain.StatusWaitlisted:
		if *previous == domain.StatusClosed {
			return domain.ActionAlertWaitlisted
		}
		return domain.ActionNone
	default:
		return domain.ActionNone
	}
}

// Reconciler diffs fresh observations against the persisted last-known
// state and carries out the persistence and alert side effects.
type Reconciler struct {
	Store    TaskStore
	Notifier notify.Notifier
	History  ObservationLog // may be nil
	Logger   *slog.Logger

	// Now overrides the history timestamp source in tests.
	Now func() time.Time
}

// Reconcile applies one observation. It returns the decided alert action
// and whether a store write happened. Store and notifier failures are
// logged here and never abort the rest of the batch.
func (r *Reconciler) Reconcile(ctx context.Context, obs domain.SectionObservation) (domain.AlertAction, bool) {
	r.appendHistory(ctx, obs)

	rec, err := r.Store.FindBySectionID(ctx, obs.SectionID)
	if err != nil {
		r.Logger.Error("section lookup failed", "section_id", obs.SectionID, "error", err)
		return domain.ActionNone, false
	}

	if rec == nil {
		return r.discover(ctx, obs)
	}

	// Existing records gate alerts on the enabled flag.
	action := domain.ActionNone
	if rec.Enabled {
		action = Decide(rec.LastStatus, obs.Status)
	}

	persisted := false
	if rec.LastStatus == nil || *rec.LastStatus != obs.Status {
		if rec.LastStatus != nil {
			r.Logger.Info("status changed",
				"section_id", obs.SectionID,
				"course", rec.DisplayName,
				"from", string(*rec.LastStatus),
				"to", string(obs.Status),
			)
		}
		if err := r.Store.UpdateLastStatus(ctx, obs.SectionID, obs.Status); err != nil {
			r.Logger.Error("status persist failed", "section_id", obs.SectionID, "error", err)
		} else {
			persisted = true
		}
	}

	r.dispatch(ctx, action, obs)
	return action, persisted
}

// discover handles a section id with no stored record. The new record
// starts disabled, yet the decision rule still runs with previous=none:
// a brand-new section that is already open alerts on first sight. This is
// the one place where a disabled record can produce an alert.
func (r *Reconciler) discover(ctx context.Context, obs domain.SectionObservation) (domain.AlertAction, bool) {
	action := Decide(nil, obs.Status)

	status := obs.Status
	ws := domain.WatchedSection{
		SectionID:   obs.SectionID,
		CourseID:    obs.CourseID,
		DisplayName: obs.CourseLabel(),
		Enabled:     false,
		LastStatus:  &status,
	}
	r.Logger.Info("new section discovered",
		"section_id", obs.SectionID,
		"course", ws.DisplayName,
		"status", string(obs.Status),
	)

	persisted := true
	if err := r.Store.Upsert(ctx, ws); err != nil {
		r.Logger.Error("discovery persist failed", "section_id", obs.SectionID, "error", err)
		persisted = false
	}

	r.dispatch(ctx, action, obs)
	return action, persisted
}

func (r *Reconciler) dispatch(ctx context.Context, action domain.AlertAction, obs domain.SectionObservation) {
	if action == domain.ActionNone || r.Notifier == nil {
		return
	}
	r.Notifier.Notify(ctx, action, obs.SectionID, obs.CourseLabel())
}

func (r *Reconciler) appendHistory(ctx context.Context, obs domain.SectionObservation) {
	if r.History == nil {
		return
	}
	if err := r.History.AppendObservation(ctx, obs, r.now()); err != nil {
		r.Logger.Warn("history append failed", "section_id", obs.SectionID, "error", err)
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
