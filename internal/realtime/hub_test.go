package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventRiskScore, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventRiskScore, EventIntervention},
	}}

	riskEvent := &Event{Type: EventRiskScore}
	ivEvent := &Event{Type: EventIntervention}
	activityEvent := &Event{Type: EventActivity}

	if !h.shouldSend(client, riskEvent) {
		t.Error("Should receive risk_score events")
	}
	if !h.shouldSend(client, ivEvent) {
		t.Error("Should receive intervention events")
	}
	if h.shouldSend(client, activityEvent) {
		t.Error("Should NOT receive activity events")
	}
}

func TestShouldSend_CourseFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		CourseIDs: []int64{5},
	}}

	matching := &Event{
		Type: EventRiskScore,
		Data: map[string]any{"courseId": float64(5), "userId": float64(1)},
	}
	notMatching := &Event{
		Type: EventRiskScore,
		Data: map[string]any{"courseId": float64(9), "userId": float64(1)},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match watched course")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated course")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []int64{7},
	}}

	matching := &Event{
		Type: EventActivity,
		Data: map[string]any{"userId": float64(7)},
	}
	notMatching := &Event{
		Type: EventActivity,
		Data: map[string]any{"userId": float64(8)},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match watched student")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated student")
	}
}

func TestShouldSend_MinScoreFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinScore: 50,
	}}

	high := &Event{
		Type: EventRiskScore,
		Data: map[string]any{"score": 75.0},
	}
	low := &Event{
		Type: EventRiskScore,
		Data: map[string]any{"score": 20.0},
	}
	iv := &Event{
		Type: EventIntervention,
		Data: map[string]any{"type": "email"},
	}

	if !h.shouldSend(client, high) {
		t.Error("Should receive high risk score")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive low risk score")
	}
	if !h.shouldSend(client, iv) {
		t.Error("MinScore filter should only apply to risk scores")
	}
}

// The risk sweep and trackers broadcast raw Go values (int64 IDs, int
// scores), not JSON-decoded float64s. Filters must match those too.
func TestShouldSend_RawBroadcastPayloads(t *testing.T) {
	h := testHub()

	riskEvent := &Event{
		Type: EventRiskScore,
		Data: map[string]any{
			"userId":   int64(7),
			"courseId": int64(3),
			"score":    39,
			"level":    "medium",
			"trend":    "stable",
		},
	}

	byCourse := &Client{sub: Subscription{CourseIDs: []int64{3}}}
	if !h.shouldSend(byCourse, riskEvent) {
		t.Error("Course filter should match int64 courseId")
	}

	byUser := &Client{sub: Subscription{UserIDs: []int64{7}}}
	if !h.shouldSend(byUser, riskEvent) {
		t.Error("User filter should match int64 userId")
	}

	otherUser := &Client{sub: Subscription{UserIDs: []int64{8}}}
	if h.shouldSend(otherUser, riskEvent) {
		t.Error("User filter should NOT match a different student")
	}

	highOnly := &Client{sub: Subscription{MinScore: 50}}
	if h.shouldSend(highOnly, riskEvent) {
		t.Error("MinScore filter should reject an int score below it")
	}

	lowBar := &Client{sub: Subscription{MinScore: 30}}
	if !h.shouldSend(lowBar, riskEvent) {
		t.Error("MinScore filter should pass an int score above it")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventRiskScore, Data: map[string]any{"score": 10.0}}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription should receive everything")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_BroadcastToRegisteredClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.BroadcastRiskScore(map[string]any{"userId": 7, "courseId": 3, "score": 82})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected serialized event")
		}
	case <-time.After(time.Second):
		t.Fatal("client never received broadcast")
	}
}

func TestHub_StatsCountClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- client

	deadline := time.Now().Add(time.Second)
	for {
		if h.Stats()["connectedClients"].(int) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.unregister <- client
	deadline = time.Now().Add(time.Second)
	for {
		if h.Stats()["connectedClients"].(int) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
