package providers

import (
	"context"
	"errors"

	"coursewatch/internal/domain"
)

// ErrRateLimited signals that the provider is throttling or blocking us
// (WAF challenge or rate limit). Callers skip the course for the current
// cycle and retry at the normal cadence; no backoff state is carried
// forward.
var ErrRateLimited = errors.New("provider rate limited")

// SectionSource fetches the live status of every section of a course in a
// single provider request.
type SectionSource interface {
	FetchCourseSections(ctx context.Context, courseID string) ([]domain.SectionObservation, error)
}

// CourseSearcher resolves a free-text course name into a concrete course
// descriptor with its section identifiers.
type CourseSearcher interface {
	SearchCourse(ctx context.Context, query string) (domain.CourseMatch, error)
}
