package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/edupulse/internal/testutil"
)

func seedResult(userID, courseID int64, score int, level Level, calculatedAt time.Time, lastActivity *time.Time) *Result {
	return &Result{
		UserID:   userID,
		CourseID: courseID,
		Score:    score,
		Level:    level,
		Factors: Factors{
			DimInactivity: {Score: float64(score), Weight: 35, Raw: map[string]float64{"days_inactive": 12}},
		},
		Trend:        TrendStable,
		Suggestions:  []string{"Send a check-in message to re-engage the student"},
		DaysInactive: 12,
		LastActivity: lastActivity,
		CalculatedAt: calculatedAt,
	}
}

func TestPostgresUpsertAndLatest(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	last := now.Add(-12 * 24 * time.Hour)
	require.NoError(t, store.Upsert(ctx, seedResult(1, 2, 40, LevelMedium, now, &last)))

	got, err := store.Latest(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 40, got.Score)
	assert.Equal(t, LevelMedium, got.Level)
	assert.Equal(t, 12, got.DaysInactive)
	require.NotNil(t, got.LastActivity)
	assert.True(t, got.LastActivity.Equal(last))
	require.Contains(t, got.Factors, DimInactivity)
	assert.Equal(t, 35, got.Factors[DimInactivity].Weight)
	assert.Equal(t, float64(12), got.Factors[DimInactivity].Raw["days_inactive"])

	// Second upsert replaces, never duplicates.
	require.NoError(t, store.Upsert(ctx, seedResult(1, 2, 80, LevelCritical, now.Add(time.Hour), &last)))
	got, err = store.Latest(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 80, got.Score)

	n, err := store.CountAtRisk(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresLatestMissingIsNil(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	got, err := store.Latest(context.Background(), 99, 99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresAtOrBefore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	calculated := time.Now().UTC().Add(-10 * 24 * time.Hour).Truncate(time.Second)

	require.NoError(t, store.Upsert(ctx, seedResult(5, 3, 55, LevelHigh, calculated, nil)))

	prev, err := store.AtOrBefore(ctx, 5, 3, calculated.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 55, prev.Score)

	// A cutoff before the snapshot finds nothing.
	prev, err = store.AtOrBefore(ctx, 5, 3, calculated.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestPostgresListAtRisk(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	oldTouch := now.Add(-40 * 24 * time.Hour)
	newTouch := now.Add(-2 * 24 * time.Hour)
	require.NoError(t, store.Upsert(ctx, seedResult(1, 7, 90, LevelCritical, now, &newTouch)))
	require.NoError(t, store.Upsert(ctx, seedResult(2, 7, 60, LevelHigh, now, &oldTouch)))
	require.NoError(t, store.Upsert(ctx, seedResult(3, 7, 60, LevelHigh, now, &newTouch)))
	require.NoError(t, store.Upsert(ctx, seedResult(4, 7, 20, LevelLow, now, &newTouch)))
	require.NoError(t, store.Upsert(ctx, seedResult(5, 8, 70, LevelHigh, now, &newTouch)))

	t.Run("default floor and ordering", func(t *testing.T) {
		got, err := store.ListAtRisk(ctx, ListFilter{CourseID: 7})
		require.NoError(t, err)
		require.Len(t, got, 3)
		// Highest score first; ties broken by oldest activity.
		assert.Equal(t, int64(1), got[0].UserID)
		assert.Equal(t, int64(2), got[1].UserID)
		assert.Equal(t, int64(3), got[2].UserID)
	})

	t.Run("level filter", func(t *testing.T) {
		got, err := store.ListAtRisk(ctx, ListFilter{CourseID: 7, Level: LevelCritical})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(1), got[0].UserID)
	})

	t.Run("min score filter", func(t *testing.T) {
		got, err := store.ListAtRisk(ctx, ListFilter{CourseID: 7, MinScore: 90})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("pagination", func(t *testing.T) {
		got, err := store.ListAtRisk(ctx, ListFilter{CourseID: 7, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[0].UserID)
	})

	t.Run("count matches", func(t *testing.T) {
		n, err := store.CountAtRisk(ctx, ListFilter{CourseID: 7})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}
