package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capture struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func (cp *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cp.mu.Lock()
		cp.bodies = append(cp.bodies, body)
		cp.headers = append(cp.headers, r.Header.Clone())
		cp.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (cp *capture) count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.bodies)
}

func newSub(id, url string, events ...EventType) *Subscription {
	return &Subscription{
		ID:        id,
		URL:       url,
		Secret:    "s3cret",
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func TestDispatchDeliversSignedEvent(t *testing.T) {
	var cp capture
	srv := httptest.NewServer(cp.handler(http.StatusOK))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), newSub("wh_1", srv.URL, EventRiskCritical)))

	d := NewDispatcher(store)
	event := &Event{
		ID:        "evt_1",
		Type:      EventRiskCritical,
		Timestamp: time.Now(),
		Data:      map[string]any{"userId": float64(7), "score": float64(82)},
	}
	require.NoError(t, d.Dispatch(context.Background(), 0, event))
	d.Wait()

	require.Equal(t, 1, cp.count())

	var got Event
	require.NoError(t, json.Unmarshal(cp.bodies[0], &got))
	assert.Equal(t, EventRiskCritical, got.Type)
	assert.Equal(t, float64(82), got.Data["score"])

	h := cp.headers[0]
	assert.Equal(t, "risk.critical", h.Get("X-EduPulse-Event"))
	assert.NotEmpty(t, h.Get("X-EduPulse-Timestamp"))
	assert.Equal(t, Sign(cp.bodies[0], "s3cret"), h.Get("X-EduPulse-Signature"))

	sub, err := store.Get(context.Background(), "wh_1")
	require.NoError(t, err)
	assert.NotNil(t, sub.LastSuccess)
	assert.Empty(t, sub.LastError)
}

func TestDispatchFiltersByEventAndCourse(t *testing.T) {
	var cp capture
	srv := httptest.NewServer(cp.handler(http.StatusOK))
	defer srv.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSub("wh_high", srv.URL, EventRiskHigh)))

	courseBound := newSub("wh_course", srv.URL, EventRiskCritical)
	courseBound.CourseID = 5
	require.NoError(t, store.Create(ctx, courseBound))

	d := NewDispatcher(store)

	// Wrong event type: nobody is subscribed to risk.calculated.
	require.NoError(t, d.Dispatch(ctx, 0, &Event{ID: "e1", Type: EventRiskCalculated, Timestamp: time.Now()}))
	// Wrong course for the critical subscriber.
	require.NoError(t, d.Dispatch(ctx, 9, &Event{ID: "e2", Type: EventRiskCritical, Timestamp: time.Now()}))
	d.Wait()
	assert.Equal(t, 0, cp.count())

	// Matching course delivers.
	require.NoError(t, d.Dispatch(ctx, 5, &Event{ID: "e3", Type: EventRiskCritical, Timestamp: time.Now()}))
	d.Wait()
	assert.Equal(t, 1, cp.count())
}

func TestDispatchDeactivatesAfterRepeatedFailures(t *testing.T) {
	var cp capture
	srv := httptest.NewServer(cp.handler(http.StatusInternalServerError))
	defer srv.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSub("wh_bad", srv.URL, EventRiskCalculated)))

	d := NewDispatcher(store)
	for i := 0; i < maxConsecutiveFailures; i++ {
		require.NoError(t, d.Dispatch(ctx, 0, &Event{ID: "e", Type: EventRiskCalculated, Timestamp: time.Now()}))
		d.Wait()
	}

	sub, err := store.Get(ctx, "wh_bad")
	require.NoError(t, err)
	assert.False(t, sub.Active)
	assert.Equal(t, maxConsecutiveFailures, sub.ConsecutiveFailures)
	assert.Contains(t, sub.LastError, "status 500")

	// Deactivated subscriptions receive nothing further.
	sent := cp.count()
	require.NoError(t, d.Dispatch(ctx, 0, &Event{ID: "e", Type: EventRiskCalculated, Timestamp: time.Now()}))
	d.Wait()
	assert.Equal(t, sent, cp.count())
}

func TestEmitterFansOutLevels(t *testing.T) {
	var cp capture
	srv := httptest.NewServer(cp.handler(http.StatusOK))
	defer srv.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSub("wh_all", srv.URL,
		EventRiskCalculated, EventRiskHigh, EventRiskCritical, EventInterventionLogged)))

	d := NewDispatcher(store)
	e := NewEmitter(d, testLogger())

	e.EmitRiskCalculated(7, 3, 82, "critical", "worsening")
	e.EmitInterventionLogged("iv_1", 7, 3, "email", 82)
	d.Wait()

	// risk.calculated + risk.critical + intervention.logged
	require.Equal(t, 3, cp.count())

	types := map[string]int{}
	for _, h := range cp.headers {
		types[h.Get("X-EduPulse-Event")]++
	}
	assert.Equal(t, 1, types["risk.calculated"])
	assert.Equal(t, 1, types["risk.critical"])
	assert.Equal(t, 1, types["intervention.logged"])
	assert.Zero(t, types["risk.high"])
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	e.EmitRiskCalculated(1, 1, 50, "high", "stable")
	e.EmitInterventionLogged("iv_1", 1, 1, "email", 50)
}
