package risk

import (
	"context"
	"math"
	"time"

	"github.com/edupulse/edupulse/internal/provider"
)

const (
	currentWindow  = 7 * 24 * time.Hour
	baselineWindow = 30 * 24 * time.Hour
)

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// inactivityFactor scores days since the student last touched the
// course. 30 days of silence maps to the maximum score. Students with
// no activity record at all are treated as inactive for sentinelDays.
// It also returns the last activity timestamp when one exists.
func inactivityFactor(ctx context.Context, p provider.DataProvider, now time.Time, userID, courseID int64, weight, sentinelDays int) (Factor, *time.Time, error) {
	last, ok, err := p.LastActivity(ctx, userID, courseID)
	if err != nil {
		return Factor{}, nil, err
	}

	days := sentinelDays
	var lastAt *time.Time
	if ok {
		days = int(math.Round(now.Sub(last).Hours() / 24))
		if days < 0 {
			days = 0
		}
		t := last
		lastAt = &t
	}

	score := clampScore(float64(days) / 30 * 100)
	return Factor{
		Score:  score,
		Weight: weight,
		Raw:    map[string]float64{"days_inactive": float64(days)},
	}, lastAt, nil
}

// velocityFactor scores the decline in lesson completion rate between
// the current week and the week before it.
func velocityFactor(ctx context.Context, p provider.DataProvider, now time.Time, userID, courseID int64, weight int) (Factor, error) {
	cur, err := p.CompletionCount(ctx, userID, courseID, now.Add(-currentWindow), now)
	if err != nil {
		return Factor{}, err
	}
	prev, err := p.CompletionCount(ctx, userID, courseID, now.Add(-2*currentWindow), now.Add(-currentWindow))
	if err != nil {
		return Factor{}, err
	}

	curRate := round2(float64(cur) / 7)
	prevRate := round2(float64(prev) / 7)

	decline := (prevRate - curRate) / math.Max(prevRate, 1) * 100
	if decline < 0 {
		decline = 0
	}
	return Factor{
		Score:  clampScore(decline),
		Weight: weight,
		Raw:    map[string]float64{"current_rate": curRate, "previous_rate": prevRate},
	}, nil
}

// quizFactor scores the drop in average quiz performance over the last
// week against the 30-day baseline.
func quizFactor(ctx context.Context, p provider.DataProvider, now time.Time, userID, courseID int64, weight int) (Factor, error) {
	cur, err := p.QuizAverage(ctx, userID, courseID, now.Add(-currentWindow), now)
	if err != nil {
		return Factor{}, err
	}
	baseline, err := p.QuizAverage(ctx, userID, courseID, now.Add(-baselineWindow), now)
	if err != nil {
		return Factor{}, err
	}

	drop := baseline - cur
	if drop < 0 {
		drop = 0
	}
	return Factor{
		Score:  clampScore(drop),
		Weight: weight,
		Raw:    map[string]float64{"current_avg": round2(cur), "baseline_avg": round2(baseline)},
	}, nil
}

// forumFactor scores the decline in forum participation between the
// last week and the 30-day baseline. When no forum integration is
// active the factor is excluded from the composite entirely.
func forumFactor(ctx context.Context, p provider.DataProvider, now time.Time, userID int64, weight int) (Factor, error) {
	if !p.HasForumSignal() {
		return Factor{Score: 0, Weight: 0}, nil
	}

	cur, err := p.ForumActivityCount(ctx, userID, now.Add(-currentWindow), now)
	if err != nil {
		return Factor{}, err
	}
	baseline, err := p.ForumActivityCount(ctx, userID, now.Add(-baselineWindow), now)
	if err != nil {
		return Factor{}, err
	}

	decline := float64(baseline-cur) / math.Max(float64(baseline), 1) * 100
	if decline < 0 {
		decline = 0
	}
	return Factor{
		Score:  clampScore(decline),
		Weight: weight,
		Raw:    map[string]float64{"current_count": float64(cur), "baseline_count": float64(baseline)},
	}, nil
}

// assignmentFactor scores delayed submissions over the last 30 days,
// 20 points per delay. Excluded when no assignment records exist.
func assignmentFactor(ctx context.Context, p provider.DataProvider, now time.Time, userID, courseID int64, weight int) (Factor, error) {
	if !p.HasAssignmentSignal() {
		return Factor{Score: 0, Weight: 0}, nil
	}

	delayed, err := p.DelayedAssignmentCount(ctx, userID, courseID, now.Add(-baselineWindow), now)
	if err != nil {
		return Factor{}, err
	}

	return Factor{
		Score:  clampScore(float64(delayed) * 20),
		Weight: weight,
		Raw:    map[string]float64{"delayed_count": float64(delayed)},
	}, nil
}
