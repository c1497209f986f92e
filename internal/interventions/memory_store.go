package interventions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Intervention
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Intervention)}
}

func (s *MemoryStore) Create(_ context.Context, iv *Intervention) error {
	cp := *iv
	s.mu.Lock()
	s.rows[iv.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *iv
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, at time.Time) (*Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	iv.Status = status
	iv.UpdatedAt = at
	cp := *iv
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*Intervention, error) {
	f = f.normalized()

	s.mu.RLock()
	var out []*Intervention
	for _, iv := range s.rows {
		if f.UserID != 0 && iv.UserID != f.UserID {
			continue
		}
		if f.CourseID != 0 && iv.CourseID != f.CourseID {
			continue
		}
		if f.Status != "" && iv.Status != f.Status {
			continue
		}
		cp := *iv
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset >= len(out) {
		return []*Intervention{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, courseID int64, since time.Time) (*Stats, error) {
	stats := &Stats{
		CourseID: courseID,
		Since:    since,
		ByType:   make(map[Type]int),
		ByStatus: make(map[Status]int),
	}

	s.mu.RLock()
	respondedCount := 0
	for _, iv := range s.rows {
		if courseID != 0 && iv.CourseID != courseID {
			continue
		}
		if iv.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByType[iv.Type]++
		stats.ByStatus[iv.Status]++
		if responded(iv.Status) {
			respondedCount++
		}
	}
	s.mu.RUnlock()

	if stats.Total > 0 {
		stats.ResponseRate = float64(respondedCount) / float64(stats.Total)
	}
	return stats, nil
}
