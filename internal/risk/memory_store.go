package risk

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pairKey struct {
	userID   int64
	courseID int64
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[pairKey]*Result
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[pairKey]*Result)}
}

func (s *MemoryStore) Upsert(_ context.Context, r *Result) error {
	cp := *r
	s.mu.Lock()
	s.rows[pairKey{r.UserID, r.CourseID}] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, userID, courseID int64) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[pairKey{userID, courseID}]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) AtOrBefore(_ context.Context, userID, courseID int64, t time.Time) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[pairKey{userID, courseID}]
	if !ok || r.CalculatedAt.After(t) {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListAtRisk(_ context.Context, f ListFilter) ([]*Result, error) {
	f = f.normalized()

	s.mu.RLock()
	matched := make([]*Result, 0, len(s.rows))
	for _, r := range s.rows {
		if matchesFilter(r, f) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		// Least recently active first. Unknown activity sorts first.
		li, lj := matched[i].LastActivity, matched[j].LastActivity
		switch {
		case li == nil:
			return lj != nil
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})

	if f.Offset >= len(matched) {
		return []*Result{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountAtRisk(_ context.Context, f ListFilter) (int, error) {
	f = f.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rows {
		if matchesFilter(r, f) {
			n++
		}
	}
	return n, nil
}

func matchesFilter(r *Result, f ListFilter) bool {
	if r.Score < f.MinScore {
		return false
	}
	if f.CourseID != 0 && r.CourseID != f.CourseID {
		return false
	}
	if f.Level != "" && r.Level != f.Level {
		return false
	}
	return true
}
