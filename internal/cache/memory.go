package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache for demo mode and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemory creates an in-process cache. A janitor goroutine evicts
// expired entries every minute until Stop is called.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go m.janitor()
	return m
}

// Stop terminates the janitor goroutine.
func (m *Memory) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get returns the value for key if present and unexpired.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: cp, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Delete removes a single key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// InvalidateUser drops the student's risk entries and all list entries.
func (m *Memory) InvalidateUser(ctx context.Context, userID int64) error {
	m.deletePattern(userRiskPattern(userID))
	m.deletePattern(listPattern())
	return nil
}

// InvalidateCourse drops the course's stat entries and all list entries.
func (m *Memory) InvalidateCourse(ctx context.Context, courseID int64) error {
	m.deletePattern(courseStatsPattern(courseID))
	m.deletePattern(listPattern())
	return nil
}

// Flush drops everything.
func (m *Memory) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) deletePattern(pattern string) {
	m.mu.Lock()
	for k := range m.entries {
		if matchPattern(k, pattern) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}
