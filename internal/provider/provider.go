// Package provider abstracts the host LMS and social platform as a
// read-only source of raw student activity signals.
//
// The risk engine never talks to host tables directly; it asks a
// DataProvider for windowed counts and averages. Signals that the host
// deployment does not track are declared up front via capability flags
// instead of being probed at call time.
package provider

import (
	"context"
	"time"
)

// DataProvider supplies per-student, per-course activity signals.
// All reads are bounded, synchronous queries.
type DataProvider interface {
	// LastActivity returns the timestamp of the student's most recent
	// activity in the course. ok is false when no activity was ever
	// recorded ("never active").
	LastActivity(ctx context.Context, userID, courseID int64) (t time.Time, ok bool, err error)

	// CompletionCount returns the number of items the student completed
	// in the course within [from, to).
	CompletionCount(ctx context.Context, userID, courseID int64, from, to time.Time) (int, error)

	// QuizAverage returns the student's mean quiz score (percentage
	// points) for attempts within [from, to). Zero when no attempts.
	QuizAverage(ctx context.Context, userID, courseID int64, from, to time.Time) (float64, error)

	// ForumActivityCount returns the student's forum posts within
	// [from, to). Only meaningful when HasForumSignal reports true.
	ForumActivityCount(ctx context.Context, userID int64, from, to time.Time) (int, error)

	// DelayedAssignmentCount returns the number of assignment
	// submissions turned in after their due date within [from, to).
	DelayedAssignmentCount(ctx context.Context, userID, courseID int64, from, to time.Time) (int, error)

	// HasForumSignal reports whether the social layer is connected.
	// When false the forum factor is excluded from scoring entirely.
	HasForumSignal() bool

	// HasAssignmentSignal reports whether assignment delay tracking is
	// available in this deployment.
	HasAssignmentSignal() bool
}

// Pair identifies one (student, course) combination.
type Pair struct {
	UserID   int64 `json:"userId"`
	CourseID int64 `json:"courseId"`
}

// PairLister enumerates pairs with recent activity, used by the
// background sweep to bound recalculation work.
type PairLister interface {
	ActivePairs(ctx context.Context, since time.Time) ([]Pair, error)
}
