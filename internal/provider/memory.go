package provider

import (
	"context"
	"sync"
	"time"
)

type quizAttempt struct {
	score float64
	at    time.Time
}

type submission struct {
	dueAt       time.Time
	submittedAt time.Time
}

// Memory is a seedable in-memory DataProvider for demo mode and tests.
type Memory struct {
	mu           sync.RWMutex
	lastActivity map[Pair]time.Time
	completions  map[Pair][]time.Time
	quizAttempts map[Pair][]quizAttempt
	forumPosts   map[int64][]time.Time
	submissions  map[Pair][]submission
	forumSignal  bool
	assignSignal bool
}

// NewMemory creates an empty in-memory provider with both capability
// flags enabled.
func NewMemory() *Memory {
	return &Memory{
		lastActivity: make(map[Pair]time.Time),
		completions:  make(map[Pair][]time.Time),
		quizAttempts: make(map[Pair][]quizAttempt),
		forumPosts:   make(map[int64][]time.Time),
		submissions:  make(map[Pair][]submission),
		forumSignal:  true,
		assignSignal: true,
	}
}

// SetForumSignal toggles the social-layer capability flag.
func (m *Memory) SetForumSignal(on bool) { m.forumSignal = on }

// SetAssignmentSignal toggles the assignment-tracking capability flag.
func (m *Memory) SetAssignmentSignal(on bool) { m.assignSignal = on }

// Touch records bare activity for a pair at the given time.
func (m *Memory) Touch(userID, courseID int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(Pair{userID, courseID}, at)
}

func (m *Memory) touchLocked(p Pair, at time.Time) {
	if at.After(m.lastActivity[p]) {
		m.lastActivity[p] = at
	}
}

// AddCompletion records one completed item for the pair.
func (m *Memory) AddCompletion(userID, courseID int64, at time.Time) {
	p := Pair{userID, courseID}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions[p] = append(m.completions[p], at)
	m.touchLocked(p, at)
}

// AddQuizAttempt records a quiz attempt with a percentage score.
func (m *Memory) AddQuizAttempt(userID, courseID int64, score float64, at time.Time) {
	p := Pair{userID, courseID}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizAttempts[p] = append(m.quizAttempts[p], quizAttempt{score: score, at: at})
	m.touchLocked(p, at)
}

// AddForumPost records one forum post by the student.
func (m *Memory) AddForumPost(userID int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forumPosts[userID] = append(m.forumPosts[userID], at)
}

// AddSubmission records an assignment submission against its due date.
func (m *Memory) AddSubmission(userID, courseID int64, dueAt, submittedAt time.Time) {
	p := Pair{userID, courseID}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[p] = append(m.submissions[p], submission{dueAt: dueAt, submittedAt: submittedAt})
	m.touchLocked(p, submittedAt)
}

func (m *Memory) LastActivity(ctx context.Context, userID, courseID int64) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastActivity[Pair{userID, courseID}]
	return t, ok, nil
}

func (m *Memory) CompletionCount(ctx context.Context, userID, courseID int64, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countWithin(m.completions[Pair{userID, courseID}], from, to), nil
}

func (m *Memory) QuizAverage(ctx context.Context, userID, courseID int64, from, to time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	var n int
	for _, a := range m.quizAttempts[Pair{userID, courseID}] {
		if within(a.at, from, to) {
			sum += a.score
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func (m *Memory) ForumActivityCount(ctx context.Context, userID int64, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countWithin(m.forumPosts[userID], from, to), nil
}

func (m *Memory) DelayedAssignmentCount(ctx context.Context, userID, courseID int64, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int
	for _, s := range m.submissions[Pair{userID, courseID}] {
		if within(s.submittedAt, from, to) && s.submittedAt.After(s.dueAt) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) HasForumSignal() bool      { return m.forumSignal }
func (m *Memory) HasAssignmentSignal() bool { return m.assignSignal }

// ActivePairs returns all pairs with activity at or after since.
func (m *Memory) ActivePairs(ctx context.Context, since time.Time) ([]Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pairs []Pair
	for p, t := range m.lastActivity {
		if !t.Before(since) {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func countWithin(times []time.Time, from, to time.Time) int {
	var n int
	for _, t := range times {
		if within(t, from, to) {
			n++
		}
	}
	return n
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
