// Package activity records learning events and answers summary and
// inactivity queries over them. Recorded events feed the signal tables
// the risk calculators read from.
package activity

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidEvent is returned when an event fails validation.
var ErrInvalidEvent = errors.New("activity: invalid event")

// Type names a kind of learning event.
type Type string

const (
	TypeLogin            Type = "login"
	TypeLessonView       Type = "lesson_view"
	TypeLessonComplete   Type = "lesson_complete"
	TypeQuizAttempt      Type = "quiz_attempt"
	TypeForumPost        Type = "forum_post"
	TypeAssignmentSubmit Type = "assignment_submit"
)

// ValidType reports whether s names a known event type.
func ValidType(s string) bool {
	switch Type(s) {
	case TypeLogin, TypeLessonView, TypeLessonComplete,
		TypeQuizAttempt, TypeForumPost, TypeAssignmentSubmit:
		return true
	}
	return false
}

// courseless reports whether events of this type may omit a course.
func courseless(t Type) bool {
	return t == TypeLogin || t == TypeForumPost
}

// Event is one recorded learning action.
type Event struct {
	ID       string `json:"id"`
	UserID   int64  `json:"userId"`
	CourseID int64  `json:"courseId,omitempty"`
	Type     Type   `json:"type"`

	// ObjectID identifies the lesson, quiz or assignment involved.
	ObjectID int64 `json:"objectId,omitempty"`

	// Score accompanies quiz_attempt events, as a percentage.
	Score *float64 `json:"score,omitempty"`

	// DueAt accompanies assignment_submit events so delays can be
	// detected.
	DueAt *time.Time `json:"dueAt,omitempty"`

	OccurredAt time.Time `json:"occurredAt"`
}

// Validate checks the event's shape before recording.
func (e *Event) Validate() error {
	if e.UserID <= 0 {
		return errors.New("activity: user ID is required")
	}
	if !ValidType(string(e.Type)) {
		return errors.New("activity: unknown event type")
	}
	if e.CourseID <= 0 && !courseless(e.Type) {
		return errors.New("activity: course ID is required for " + string(e.Type))
	}
	if e.Type == TypeQuizAttempt && e.Score == nil {
		return errors.New("activity: quiz_attempt requires a score")
	}
	if e.Score != nil && (*e.Score < 0 || *e.Score > 100) {
		return errors.New("activity: score must be between 0 and 100")
	}
	if e.Type == TypeAssignmentSubmit && e.DueAt == nil {
		return errors.New("activity: assignment_submit requires dueAt")
	}
	return nil
}

// Summary aggregates a student's events since a point in time.
type Summary struct {
	UserID       int64        `json:"userId"`
	Since        time.Time    `json:"since"`
	Total        int          `json:"total"`
	ByType       map[Type]int `json:"byType"`
	LastActivity *time.Time   `json:"lastActivity,omitempty"`
}

// InactiveFilter narrows an inactivity query.
type InactiveFilter struct {
	CourseID int64
	Cutoff   time.Time
	Limit    int
	Offset   int
}

func (f InactiveFilter) normalized() InactiveFilter {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// InactiveStudent is one student who has gone quiet in a course.
type InactiveStudent struct {
	UserID       int64     `json:"userId"`
	CourseID     int64     `json:"courseId"`
	LastActivity time.Time `json:"lastActivity"`
	DaysInactive int       `json:"daysInactive"`
}

// Store persists events and answers aggregate queries.
type Store interface {
	Record(ctx context.Context, e *Event) error
	Summary(ctx context.Context, userID int64, since time.Time) (*Summary, error)

	// Inactive lists students whose last course activity predates the
	// cutoff, quietest first.
	Inactive(ctx context.Context, f InactiveFilter) ([]InactiveStudent, error)
}
