package watch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"coursewatch/internal/domain"
	"coursewatch/internal/providers"
)

const (
	defaultInterval = 3 * time.Minute
	defaultPaceBase = 120 * time.Second
)

// Scheduler drives the polling pipeline: one cycle at a time, one course
// fetch at a time, fully sequential. Concurrency would only grow the
// request burst and invite provider-side blocking.
type Scheduler struct {
	Store      TaskStore
	Source     providers.SectionSource
	Reconciler *Reconciler
	Logger     *slog.Logger

	// Interval is measured from the end of one cycle to the start of the
	// next, so cycle duration does not compound.
	Interval time.Duration

	// PaceBase/PaceJitter control the randomized sleep between course
	// fetches inside a cycle. The pacing is a deliberate throughput
	// ceiling that keeps the provider's anti-bot defenses quiet.
	PaceBase   time.Duration
	PaceJitter time.Duration
}

// Run polls forever. It returns the context error once the context is
// cancelled; any in-progress pacing or inter-cycle sleep is interrupted.
func (s *Scheduler) Run(ctx context.Context) error {
	s.applyDefaults()

	for {
		s.RunCycle(ctx)
		if err := sleepCtx(ctx, s.Interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) applyDefaults() {
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	if s.PaceBase <= 0 {
		s.PaceBase = defaultPaceBase
	}
	if s.PaceJitter < 0 {
		s.PaceJitter = 0
	}
}

// RunCycle performs one pass over every distinct course id with enabled
// watched sections. A failure on one course never aborts the rest.
func (s *Scheduler) RunCycle(ctx context.Context) {
	tasks, err := s.Store.FindEnabled(ctx)
	if err != nil {
		s.Logger.Error("load enabled sections failed", "error", err)
		return
	}

	courseIDs := distinctCourseIDs(tasks)
	if len(courseIDs) == 0 {
		s.Logger.Info("no active sections, idle cycle")
		return
	}

	s.Logger.Info("cycle started", "courses", len(courseIDs))

	for i, courseID := range courseIDs {
		if ctx.Err() != nil {
			return
		}
		s.processCourse(ctx, courseID)

		// no pacing sleep after the last course of the cycle
		if i < len(courseIDs)-1 {
			if err := sleepCtx(ctx, s.pace()); err != nil {
				return
			}
		}
	}
}

func (s *Scheduler) processCourse(ctx context.Context, courseID string) {
	observations, err := s.Source.FetchCourseSections(ctx, courseID)
	switch {
	case errors.Is(err, providers.ErrRateLimited):
		s.Logger.Warn("provider throttling, skipping course this cycle", "course_id", courseID, "error", err)
		return
	case err != nil:
		s.Logger.Error("course fetch failed", "course_id", courseID, "error", err)
		return
	}

	for _, obs := range observations {
		if ctx.Err() != nil {
			return
		}
		s.Reconciler.Reconcile(ctx, obs)
	}
}

// distinctCourseIDs reduces the work set to unique course ids in a
// consistent (sorted) order. One provider request per course covers all of
// its sections.
func distinctCourseIDs(tasks []domain.WatchedSection) []string {
	seen := make(map[string]struct{}, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.CourseID]; ok {
			continue
		}
		seen[t.CourseID] = struct{}{}
		ids = append(ids, t.CourseID)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) pace() time.Duration {
	d := s.PaceBase
	if s.PaceJitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.PaceJitter)))
	}
	return d
}

// sleepCtx waits for d or until the context is cancelled, whichever comes
// first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
