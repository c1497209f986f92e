// Package notify delivers engagement events to external services.
//
// Advisors' tooling can register webhook URLs to be told when a risk
// score is computed, when a student crosses into a high or critical
// level, or when an intervention is logged.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("notify: subscription not found")

// EventType represents the type of webhook event.
type EventType string

const (
	EventRiskCalculated     EventType = "risk.calculated"
	EventRiskHigh           EventType = "risk.high"
	EventRiskCritical       EventType = "risk.critical"
	EventInterventionLogged EventType = "intervention.logged"
)

// ValidEventType reports whether s names a known event type.
func ValidEventType(s string) bool {
	switch EventType(s) {
	case EventRiskCalculated, EventRiskHigh, EventRiskCritical, EventInterventionLogged:
		return true
	}
	return false
}

// Event represents a webhook event.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription represents a webhook subscription.
type Subscription struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Secret string      `json:"-"` // Used for HMAC signing
	Events []EventType `json:"events"`
	Active bool        `json:"active"`

	// CourseID scopes delivery to one course; zero means all courses.
	CourseID int64 `json:"courseId,omitempty"`

	CreatedAt           time.Time  `json:"createdAt"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures,omitempty"`
}

// wantsCourse reports whether the subscription covers events from the
// given course.
func (s *Subscription) wantsCourse(courseID int64) bool {
	return s.CourseID == 0 || courseID == 0 || s.CourseID == courseID
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// maxConsecutiveFailures is the point at which a subscription is
// deactivated instead of retried forever.
const maxConsecutiveFailures = 10

// Dispatcher sends webhook events to subscribers.
type Dispatcher struct {
	store  Store
	client *http.Client
	wg     sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Dispatch sends an event to every active subscriber of its type.
// courseID scopes delivery for course-bound subscriptions; pass zero
// for events without a course.
func (d *Dispatcher) Dispatch(ctx context.Context, courseID int64, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wantsCourse(courseID) {
			continue
		}

		// Send async to avoid blocking the caller.
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.send(ctx, sub, event)
		}(sub)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish. For tests and
// shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.recordFailure(ctx, sub, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-EduPulse-Event", string(event.Type))
	req.Header.Set("X-EduPulse-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	if sub.Secret != "" {
		req.Header.Set("X-EduPulse-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.recordSuccess(ctx, sub)
	} else {
		d.recordFailure(ctx, sub, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

// Sign computes the hex HMAC-SHA256 signature receivers verify.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	d.store.Update(ctx, sub)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory Store for demo mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	cp := *sub
	m.mu.Lock()
	m.subs[sub.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		cp := *sub
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetByEvent(_ context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				cp := *sub
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}
