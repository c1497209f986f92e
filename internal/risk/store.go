package risk

import (
	"context"
	"time"
)

// ListFilter narrows an at-risk listing. Zero values mean "any".
type ListFilter struct {
	CourseID int64
	Level    Level
	MinScore int
	Limit    int
	Offset   int
}

// DefaultMinScore is the score floor applied to at-risk listings when
// the caller does not provide one.
const DefaultMinScore = 50

func (f ListFilter) normalized() ListFilter {
	if f.MinScore <= 0 {
		f.MinScore = DefaultMinScore
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store persists risk snapshots, one row per student and course.
type Store interface {
	// Upsert writes the snapshot, replacing any existing one for the
	// same student and course.
	Upsert(ctx context.Context, r *Result) error

	// Latest returns the stored snapshot, or nil when none exists.
	Latest(ctx context.Context, userID, courseID int64) (*Result, error)

	// AtOrBefore returns the snapshot if it was calculated at or
	// before t, or nil. Used for trend comparisons.
	AtOrBefore(ctx context.Context, userID, courseID int64, t time.Time) (*Result, error)

	// ListAtRisk returns snapshots matching the filter, most severe
	// first (score descending, then least recently active).
	ListAtRisk(ctx context.Context, f ListFilter) ([]*Result, error)

	// CountAtRisk returns the total snapshots matching the filter,
	// ignoring pagination.
	CountAtRisk(ctx context.Context, f ListFilter) (int, error)
}
