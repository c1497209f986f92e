package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/edupulse/internal/provider"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func TestInactivityFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("never active uses sentinel", func(t *testing.T) {
		p := provider.NewMemory()
		f, last, err := inactivityFactor(ctx, p, testNow, 1, 1, 35, 999)
		require.NoError(t, err)
		assert.Nil(t, last)
		assert.Equal(t, 100.0, f.Score)
		assert.Equal(t, 35, f.Weight)
		assert.Equal(t, 999.0, f.Raw["days_inactive"])
	})

	t.Run("fifteen days maps to fifty", func(t *testing.T) {
		p := provider.NewMemory()
		p.Touch(1, 1, daysAgo(15))
		f, last, err := inactivityFactor(ctx, p, testNow, 1, 1, 35, 999)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, daysAgo(15), *last)
		assert.Equal(t, 50.0, f.Score)
		assert.Equal(t, 15.0, f.Raw["days_inactive"])
	})

	t.Run("long absence clamps at hundred", func(t *testing.T) {
		p := provider.NewMemory()
		p.Touch(1, 1, daysAgo(120))
		f, _, err := inactivityFactor(ctx, p, testNow, 1, 1, 35, 999)
		require.NoError(t, err)
		assert.Equal(t, 100.0, f.Score)
	})

	t.Run("activity just now scores zero", func(t *testing.T) {
		p := provider.NewMemory()
		p.Touch(1, 1, testNow)
		f, _, err := inactivityFactor(ctx, p, testNow, 1, 1, 35, 999)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})
}

func TestVelocityFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("full stop scores hundred", func(t *testing.T) {
		p := provider.NewMemory()
		for i := 8; i <= 14; i++ {
			p.AddCompletion(1, 1, daysAgo(i))
		}
		f, err := velocityFactor(ctx, p, testNow, 1, 1, 25)
		require.NoError(t, err)
		assert.Equal(t, 100.0, f.Score)
		assert.Equal(t, 0.0, f.Raw["current_rate"])
		assert.Equal(t, 1.0, f.Raw["previous_rate"])
	})

	t.Run("improvement scores zero", func(t *testing.T) {
		p := provider.NewMemory()
		p.AddCompletion(1, 1, daysAgo(10))
		for i := 1; i <= 5; i++ {
			p.AddCompletion(1, 1, daysAgo(i))
		}
		f, err := velocityFactor(ctx, p, testNow, 1, 1, 25)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})

	t.Run("no completions at all scores zero", func(t *testing.T) {
		p := provider.NewMemory()
		f, err := velocityFactor(ctx, p, testNow, 1, 1, 25)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})

	t.Run("partial slowdown", func(t *testing.T) {
		p := provider.NewMemory()
		// 7 completions previous week, 3 this week.
		for i := 8; i <= 14; i++ {
			p.AddCompletion(1, 1, daysAgo(i))
		}
		for i := 1; i <= 3; i++ {
			p.AddCompletion(1, 1, daysAgo(i))
		}
		f, err := velocityFactor(ctx, p, testNow, 1, 1, 25)
		require.NoError(t, err)
		// rates 1.0 vs 0.43, decline 57%
		assert.InDelta(t, 57.0, f.Score, 0.5)
	})
}

func TestQuizFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("drop against baseline", func(t *testing.T) {
		p := provider.NewMemory()
		p.AddQuizAttempt(1, 1, 90, daysAgo(20))
		p.AddQuizAttempt(1, 1, 90, daysAgo(15))
		p.AddQuizAttempt(1, 1, 60, daysAgo(2))
		f, err := quizFactor(ctx, p, testNow, 1, 1, 20)
		require.NoError(t, err)
		// baseline avg 80, current avg 60
		assert.Equal(t, 20.0, f.Score)
		assert.Equal(t, 60.0, f.Raw["current_avg"])
		assert.Equal(t, 80.0, f.Raw["baseline_avg"])
	})

	t.Run("improvement scores zero", func(t *testing.T) {
		p := provider.NewMemory()
		p.AddQuizAttempt(1, 1, 50, daysAgo(20))
		p.AddQuizAttempt(1, 1, 95, daysAgo(1))
		f, err := quizFactor(ctx, p, testNow, 1, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})

	t.Run("no attempts scores zero", func(t *testing.T) {
		p := provider.NewMemory()
		f, err := quizFactor(ctx, p, testNow, 1, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})
}

func TestForumFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("excluded without forum integration", func(t *testing.T) {
		p := provider.NewMemory()
		p.SetForumSignal(false)
		p.AddForumPost(1, daysAgo(20))
		f, err := forumFactor(ctx, p, testNow, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
		assert.Equal(t, 0, f.Weight)
	})

	t.Run("participation drop", func(t *testing.T) {
		p := provider.NewMemory()
		for i := 10; i < 20; i++ {
			p.AddForumPost(1, daysAgo(i))
		}
		p.AddForumPost(1, daysAgo(2))
		f, err := forumFactor(ctx, p, testNow, 1, 10)
		require.NoError(t, err)
		// baseline 11 posts, current 1, decline 10/11
		assert.InDelta(t, 90.9, f.Score, 0.1)
		assert.Equal(t, 10, f.Weight)
	})

	t.Run("silent student with no baseline scores zero", func(t *testing.T) {
		p := provider.NewMemory()
		f, err := forumFactor(ctx, p, testNow, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})
}

func TestAssignmentFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("twenty points per delay", func(t *testing.T) {
		p := provider.NewMemory()
		for i := 0; i < 3; i++ {
			due := daysAgo(10 + i)
			p.AddSubmission(1, 1, due, due.Add(48*time.Hour))
		}
		f, err := assignmentFactor(ctx, p, testNow, 1, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 60.0, f.Score)
		assert.Equal(t, 3.0, f.Raw["delayed_count"])
	})

	t.Run("clamps at hundred", func(t *testing.T) {
		p := provider.NewMemory()
		for i := 0; i < 7; i++ {
			due := daysAgo(5 + i)
			p.AddSubmission(1, 1, due, due.Add(time.Hour))
		}
		f, err := assignmentFactor(ctx, p, testNow, 1, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 100.0, f.Score)
	})

	t.Run("on-time submissions score zero", func(t *testing.T) {
		p := provider.NewMemory()
		due := daysAgo(5)
		p.AddSubmission(1, 1, due, due.Add(-time.Hour))
		f, err := assignmentFactor(ctx, p, testNow, 1, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f.Score)
	})

	t.Run("excluded without assignment records", func(t *testing.T) {
		p := provider.NewMemory()
		p.SetAssignmentSignal(false)
		f, err := assignmentFactor(ctx, p, testNow, 1, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, f.Weight)
	})
}
