package interventions

import (
	"context"
	"fmt"
	"time"

	"github.com/edupulse/edupulse/internal/idgen"
	"github.com/edupulse/edupulse/internal/logging"
	"github.com/edupulse/edupulse/internal/metrics"
	"github.com/edupulse/edupulse/internal/validation"
)

// Service owns intervention lifecycle rules on top of a Store.
type Service struct {
	store   Store
	onEvent func(ctx context.Context, iv *Intervention)
	now     func() time.Time
}

// NewService creates an intervention service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// OnLogged registers a callback fired after an intervention is
// created. Used to fan out webhook notifications.
func (s *Service) OnLogged(fn func(ctx context.Context, iv *Intervention)) *Service {
	s.onEvent = fn
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Log validates and records a new intervention. Status defaults to
// sent, matching the common case of outreach logged after the fact.
func (s *Service) Log(ctx context.Context, iv *Intervention) error {
	if iv.UserID <= 0 || iv.CourseID <= 0 {
		return fmt.Errorf("%w: user and course identifiers are required", ErrInvalid)
	}
	if !ValidType(string(iv.Type)) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalid, iv.Type)
	}
	if iv.Status == "" {
		iv.Status = StatusSent
	}
	if !ValidStatus(string(iv.Status)) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, iv.Status)
	}
	if iv.RiskScore < 0 || iv.RiskScore > 100 {
		return fmt.Errorf("%w: risk score out of range", ErrInvalid)
	}
	iv.Notes = validation.SanitizeString(iv.Notes, validation.MaxNotesLength)
	iv.CreatedBy = validation.SanitizeString(iv.CreatedBy, 200)

	iv.ID = idgen.WithPrefix("iv_")
	now := s.now().UTC()
	iv.CreatedAt = now
	iv.UpdatedAt = now

	if err := s.store.Create(ctx, iv); err != nil {
		return fmt.Errorf("create intervention: %w", err)
	}
	metrics.InterventionsTotal.WithLabelValues(string(iv.Type)).Inc()

	logging.L(ctx).Info("intervention logged",
		"intervention_id", iv.ID, "user_id", iv.UserID,
		"course_id", iv.CourseID, "type", iv.Type)

	if s.onEvent != nil {
		s.onEvent(ctx, iv)
	}
	return nil
}

// Get fetches one intervention.
func (s *Service) Get(ctx context.Context, id string) (*Intervention, error) {
	return s.store.Get(ctx, id)
}

// Advance moves an intervention to a new status. The lifecycle only
// moves forward; regressions are rejected.
func (s *Service) Advance(ctx context.Context, id string, status Status) (*Intervention, error) {
	if !ValidStatus(string(status)) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if statusRank(status) < statusRank(cur.Status) {
		return nil, fmt.Errorf("%w: cannot move from %s back to %s", ErrInvalid, cur.Status, status)
	}
	return s.store.UpdateStatus(ctx, id, status, s.now().UTC())
}

// List returns interventions matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Intervention, error) {
	return s.store.List(ctx, f)
}

// Pending returns interventions still awaiting any outcome.
func (s *Service) Pending(ctx context.Context, courseID int64, limit int) ([]*Intervention, error) {
	return s.store.List(ctx, ListFilter{CourseID: courseID, Status: StatusPending, Limit: limit})
}

// Stats summarizes outcomes over the trailing days.
func (s *Service) Stats(ctx context.Context, courseID int64, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return s.store.Stats(ctx, courseID, since)
}

func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusOpened:
		return 2
	case StatusReplied:
		return 3
	case StatusResolved:
		return 4
	}
	return -1
}
