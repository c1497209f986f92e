package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edupulse/edupulse/internal/cache"
	"github.com/edupulse/edupulse/internal/idgen"
	"github.com/edupulse/edupulse/internal/logging"
	"github.com/edupulse/edupulse/internal/metrics"
)

// Tracker records events and keeps cached risk scores honest by
// invalidating a student's entries whenever new activity lands.
type Tracker struct {
	store   Store
	cache   cache.Cache
	onEvent func(ctx context.Context, e *Event)
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker without cache invalidation.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, logger: slog.Default(), now: time.Now}
}

// WithCache enables cache invalidation on recorded events.
func (t *Tracker) WithCache(c cache.Cache) *Tracker {
	t.cache = c
	return t
}

// OnTracked registers a callback fired after an event is recorded.
// Used to fan recorded activity out to live dashboard streams.
func (t *Tracker) OnTracked(fn func(ctx context.Context, e *Event)) *Tracker {
	t.onEvent = fn
	return t
}

// WithLogger sets the tracker logger.
func (t *Tracker) WithLogger(l *slog.Logger) *Tracker {
	t.logger = l
	return t
}

// WithClock overrides the time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Track validates, stamps and records an event, then invalidates the
// student's cached risk entries.
func (t *Tracker) Track(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, err)
	}
	if e.ID == "" {
		e.ID = idgen.WithPrefix("evt_")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = t.now().UTC()
	}

	if err := t.store.Record(ctx, e); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	metrics.ActivityEventsTotal.WithLabelValues(string(e.Type)).Inc()

	if t.cache != nil {
		if err := t.cache.InvalidateUser(ctx, e.UserID); err != nil {
			logging.L(ctx).Warn("risk cache invalidation failed",
				"user_id", e.UserID, "error", err)
		}
		if e.CourseID > 0 {
			if err := t.cache.InvalidateCourse(ctx, e.CourseID); err != nil {
				logging.L(ctx).Warn("course cache invalidation failed",
					"course_id", e.CourseID, "error", err)
			}
		}
	}

	logging.L(ctx).Debug("activity recorded",
		"event_id", e.ID, "user_id", e.UserID, "course_id", e.CourseID, "type", e.Type)

	if t.onEvent != nil {
		t.onEvent(ctx, e)
	}
	return nil
}

// Summary aggregates a student's events over the trailing days.
func (t *Tracker) Summary(ctx context.Context, userID int64, days int) (*Summary, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidEvent)
	}
	if days <= 0 {
		days = 30
	}
	since := t.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return t.store.Summary(ctx, userID, since)
}

// Inactive lists students quiet for at least minDays.
func (t *Tracker) Inactive(ctx context.Context, courseID int64, minDays, limit, offset int) ([]InactiveStudent, error) {
	if minDays <= 0 {
		minDays = 7
	}
	return t.store.Inactive(ctx, InactiveFilter{
		CourseID: courseID,
		Cutoff:   t.now().UTC().Add(-time.Duration(minDays) * 24 * time.Hour),
		Limit:    limit,
		Offset:   offset,
	})
}
