package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/edupulse/internal/cache"
	"github.com/edupulse/edupulse/internal/provider"
)

func newTestEngine(p *provider.Memory, store Store) *Engine {
	return NewEngine(p, store).WithClock(func() time.Time { return testNow })
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{24, LevelLow},
		{25, LevelMedium},
		{39, LevelMedium},
		{49, LevelMedium},
		{50, LevelHigh},
		{74, LevelHigh},
		{75, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DefaultThresholds.LevelFor(tc.score), "score %d", tc.score)
	}
}

func TestTrendFor(t *testing.T) {
	cases := []struct {
		name     string
		current  int
		previous int
		want     Trend
	}{
		{"no previous score", 80, 0, TrendStable},
		{"small move is stable", 52, 50, TrendStable},
		{"just under ten percent is stable", 54, 50, TrendStable},
		{"ten percent increase worsens", 55, 50, TrendWorsening},
		{"large increase worsens", 90, 40, TrendWorsening},
		{"large decrease improves", 30, 60, TrendImproving},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, trendFor(tc.current, tc.previous))
		})
	}
}

func TestCalculateInactivityDominates(t *testing.T) {
	// One month of silence with the social layer inactive. Inactivity
	// scores 100, every other factor 0, and the forum weight drops out
	// of the denominator: round(100*35/90) = 39, a medium.
	p := provider.NewMemory()
	p.SetForumSignal(false)
	p.Touch(7, 42, daysAgo(30))

	e := newTestEngine(p, NewMemoryStore())
	r, err := e.Calculate(context.Background(), 7, 42)
	require.NoError(t, err)

	assert.Equal(t, 39, r.Score)
	assert.Equal(t, LevelMedium, r.Level)
	assert.Equal(t, 30, r.DaysInactive)
	assert.Equal(t, TrendStable, r.Trend)
	require.NotNil(t, r.LastActivity)
	assert.Equal(t, daysAgo(30), *r.LastActivity)

	forum := r.Factors[DimForum]
	assert.Equal(t, 0, forum.Weight)
	assert.Contains(t, r.Suggestions, "Send personalized email reminder about course progress")
	assert.Contains(t, r.Suggestions, "Send gentle reminder and check progress weekly")
}

func TestCalculateNeverActiveStudent(t *testing.T) {
	p := provider.NewMemory()
	e := newTestEngine(p, NewMemoryStore())

	r, err := e.Calculate(context.Background(), 1, 1)
	require.NoError(t, err)

	// Inactivity pegged at the sentinel, every other factor zero but
	// still weighted: round(100*35/100) = 35.
	assert.Equal(t, 35, r.Score)
	assert.Equal(t, LevelMedium, r.Level)
	assert.Equal(t, DefaultSentinelDays, r.DaysInactive)
	assert.Nil(t, r.LastActivity)
}

func TestCalculateRejectsBadIDs(t *testing.T) {
	e := newTestEngine(provider.NewMemory(), NewMemoryStore())
	ctx := context.Background()

	_, err := e.Calculate(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Calculate(ctx, 1, -3)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.Recalculate(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.CalculateBatch(ctx, 0, []int64{1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCalculateServesFromCache(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemory()
	p.Touch(1, 1, daysAgo(30))

	c := cache.NewMemory()
	defer c.Stop()

	e := newTestEngine(p, NewMemoryStore()).WithCache(c, time.Hour)

	first, err := e.Calculate(ctx, 1, 1)
	require.NoError(t, err)

	// New activity arrives but the cached snapshot still wins.
	p.Touch(1, 1, testNow)
	cached, err := e.Calculate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, first.Score, cached.Score)
	assert.Equal(t, first.DaysInactive, cached.DaysInactive)

	// Recalculate bypasses and refreshes the cache.
	fresh, err := e.Recalculate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.DaysInactive)
	assert.NotEqual(t, cached.Score, fresh.Score)

	again, err := e.Calculate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, fresh.Score, again.Score)
}

func TestCalculatePersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemory()
	p.Touch(3, 9, daysAgo(30))

	store := NewMemoryStore()
	e := newTestEngine(p, store)

	r, err := e.Calculate(ctx, 3, 9)
	require.NoError(t, err)

	stored, err := store.Latest(ctx, 3, 9)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, r.Score, stored.Score)
	assert.Equal(t, r.Level, stored.Level)
}

func TestTrendAgainstPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemory()
	p.Touch(1, 1, daysAgo(30))

	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, &Result{
		UserID: 1, CourseID: 1, Score: 10, Level: LevelLow,
		CalculatedAt: daysAgo(10),
	}))

	e := newTestEngine(p, store)
	r, err := e.Calculate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, TrendWorsening, r.Trend)
}

func TestTrendIgnoresRecentSnapshot(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemory()
	p.Touch(1, 1, daysAgo(30))

	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, &Result{
		UserID: 1, CourseID: 1, Score: 10, Level: LevelLow,
		CalculatedAt: daysAgo(2),
	}))

	e := newTestEngine(p, store)
	r, err := e.Calculate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, TrendStable, r.Trend)
}

func TestCalculateBatchSkipsFailures(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemory()
	p.Touch(1, 1, daysAgo(5))
	p.Touch(2, 1, daysAgo(40))

	e := newTestEngine(p, NewMemoryStore())
	results, err := e.CalculateBatch(ctx, 1, []int64{1, 2, -5})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results, int64(1))
	assert.Contains(t, results, int64(2))
}

func TestSuggestionsFor(t *testing.T) {
	t.Run("forum suggestion needs active weight", func(t *testing.T) {
		factors := Factors{
			DimForum: {Score: 90, Weight: 0},
		}
		got := suggestionsFor(LevelLow, factors)
		assert.NotContains(t, got, "Encourage participation in discussion forums")
	})

	t.Run("delayed assignments need more than two", func(t *testing.T) {
		factors := Factors{
			DimAssignments: {Score: 40, Weight: 10, Raw: map[string]float64{"delayed_count": 2}},
		}
		assert.Empty(t, suggestionsFor(LevelLow, factors))

		factors[DimAssignments] = Factor{Score: 60, Weight: 10, Raw: map[string]float64{"delayed_count": 3}}
		got := suggestionsFor(LevelLow, factors)
		assert.Contains(t, got, "Review assignment submission process and deadlines")
	})

	t.Run("critical level appends directive", func(t *testing.T) {
		factors := Factors{DimInactivity: {Score: 100, Weight: 35}}
		got := suggestionsFor(LevelCritical, factors)
		require.NotEmpty(t, got)
		assert.Equal(t, "Immediate intervention required - contact student directly", got[len(got)-1])
	})

	t.Run("no duplicates", func(t *testing.T) {
		factors := Factors{
			DimInactivity: {Score: 80, Weight: 35},
			DimVelocity:   {Score: 50, Weight: 25},
			DimQuiz:       {Score: 30, Weight: 20},
		}
		got := suggestionsFor(LevelHigh, factors)
		seen := map[string]bool{}
		for _, s := range got {
			assert.False(t, seen[s], "duplicate suggestion %q", s)
			seen[s] = true
		}
	})
}

func TestFactorJSONRoundTrip(t *testing.T) {
	f := Factor{Score: 57.14, Weight: 25, Raw: map[string]float64{
		"current_rate": 0.43, "previous_rate": 1,
	}}

	b, err := json.Marshal(f)
	require.NoError(t, err)

	var m map[string]float64
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, 57.14, m["score"])
	assert.Equal(t, 25.0, m["weight"])
	assert.Equal(t, 0.43, m["current_rate"])

	var back Factor
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, f, back)
}

func TestFactorsMarshalCanonicalOrder(t *testing.T) {
	fs := Factors{
		DimAssignments: {Score: 1, Weight: 10},
		DimInactivity:  {Score: 2, Weight: 35},
		DimQuiz:        {Score: 3, Weight: 20},
	}
	b, err := json.Marshal(fs)
	require.NoError(t, err)

	var keys []string
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	require.NoError(t, err)
	require.Equal(t, json.Delim('{'), tok)
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		require.NoError(t, dec.Decode(&skip))
	}
	assert.Equal(t, []string{"inactivity", "quiz", "assignments"}, keys)
}
