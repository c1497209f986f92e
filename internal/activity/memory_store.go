package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edupulse/edupulse/internal/provider"
)

// MemoryStore is an in-memory Store for demo mode and tests. Recorded
// events are mirrored into a seedable provider so risk calculations
// see them immediately.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	last   map[provider.Pair]time.Time
	sink   *provider.Memory
}

// NewMemoryStore creates an in-memory store. sink may be nil.
func NewMemoryStore(sink *provider.Memory) *MemoryStore {
	return &MemoryStore{
		last: make(map[provider.Pair]time.Time),
		sink: sink,
	}
}

func (s *MemoryStore) Record(_ context.Context, e *Event) error {
	s.mu.Lock()
	s.events = append(s.events, *e)
	if e.CourseID > 0 {
		p := provider.Pair{UserID: e.UserID, CourseID: e.CourseID}
		if e.OccurredAt.After(s.last[p]) {
			s.last[p] = e.OccurredAt
		}
	}
	s.mu.Unlock()

	if s.sink != nil {
		s.feed(e)
	}
	return nil
}

func (s *MemoryStore) feed(e *Event) {
	if e.CourseID > 0 {
		s.sink.Touch(e.UserID, e.CourseID, e.OccurredAt)
	}
	switch e.Type {
	case TypeLessonComplete:
		s.sink.AddCompletion(e.UserID, e.CourseID, e.OccurredAt)
	case TypeQuizAttempt:
		if e.Score != nil {
			s.sink.AddQuizAttempt(e.UserID, e.CourseID, *e.Score, e.OccurredAt)
		}
	case TypeForumPost:
		s.sink.AddForumPost(e.UserID, e.OccurredAt)
	case TypeAssignmentSubmit:
		if e.DueAt != nil {
			s.sink.AddSubmission(e.UserID, e.CourseID, *e.DueAt, e.OccurredAt)
		}
	}
}

func (s *MemoryStore) Summary(_ context.Context, userID int64, since time.Time) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &Summary{UserID: userID, Since: since, ByType: make(map[Type]int)}
	for i := range s.events {
		e := &s.events[i]
		if e.UserID != userID {
			continue
		}
		if sum.LastActivity == nil || e.OccurredAt.After(*sum.LastActivity) {
			t := e.OccurredAt
			sum.LastActivity = &t
		}
		if e.OccurredAt.Before(since) {
			continue
		}
		sum.Total++
		sum.ByType[e.Type]++
	}
	return sum, nil
}

func (s *MemoryStore) Inactive(_ context.Context, f InactiveFilter) ([]InactiveStudent, error) {
	f = f.normalized()

	s.mu.RLock()
	var out []InactiveStudent
	for p, last := range s.last {
		if f.CourseID != 0 && p.CourseID != f.CourseID {
			continue
		}
		if !last.Before(f.Cutoff) {
			continue
		}
		days := int(time.Since(last).Hours() / 24)
		if days < 0 {
			days = 0
		}
		out = append(out, InactiveStudent{
			UserID:       p.UserID,
			CourseID:     p.CourseID,
			LastActivity: last,
			DaysInactive: days,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.Before(out[j].LastActivity)
		}
		return out[i].UserID < out[j].UserID
	})

	if f.Offset >= len(out) {
		return []InactiveStudent{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
