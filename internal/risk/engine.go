package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/edupulse/edupulse/internal/cache"
	"github.com/edupulse/edupulse/internal/logging"
	"github.com/edupulse/edupulse/internal/metrics"
	"github.com/edupulse/edupulse/internal/provider"
)

// DefaultSentinelDays is the inactivity assumed for students with no
// activity record at all.
const DefaultSentinelDays = 999

const trendLookback = 7 * 24 * time.Hour

// Engine computes and caches risk snapshots.
type Engine struct {
	provider   provider.DataProvider
	store      Store
	cache      cache.Cache
	weights    Weights
	thresholds Thresholds
	sentinel   int
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine builds an engine with the default scoring policy and no
// cache. Results are persisted through store on every calculation.
func NewEngine(p provider.DataProvider, store Store) *Engine {
	return &Engine{
		provider:   p,
		store:      store,
		weights:    DefaultWeights,
		thresholds: DefaultThresholds,
		sentinel:   DefaultSentinelDays,
		ttl:        24 * time.Hour,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// WithCache enables cache-aside reads with the given TTL.
func (e *Engine) WithCache(c cache.Cache, ttl time.Duration) *Engine {
	e.cache = c
	if ttl > 0 {
		e.ttl = ttl
	}
	return e
}

// WithWeights overrides the scoring weights.
func (e *Engine) WithWeights(w Weights) *Engine {
	e.weights = w
	return e
}

// WithThresholds overrides the level classification bounds.
func (e *Engine) WithThresholds(t Thresholds) *Engine {
	e.thresholds = t
	return e
}

// WithSentinelDays overrides the inactivity assumed for students with
// no activity record.
func (e *Engine) WithSentinelDays(days int) *Engine {
	if days > 0 {
		e.sentinel = days
	}
	return e
}

// WithLogger sets the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Calculate returns the risk snapshot for one student in one course,
// serving from cache when a fresh entry exists and computing, storing
// and caching otherwise.
func (e *Engine) Calculate(ctx context.Context, userID, courseID int64) (*Result, error) {
	if userID <= 0 || courseID <= 0 {
		return nil, ErrInvalidArgument
	}

	key := cache.RiskScoreKey(userID, courseID)
	if e.cache != nil {
		if b, ok := e.cache.Get(ctx, key); ok {
			var r Result
			if err := json.Unmarshal(b, &r); err == nil {
				metrics.RiskCacheHits.Inc()
				return &r, nil
			}
			logging.L(ctx).Warn("discarding corrupt cached risk score", "key", key)
		}
		metrics.RiskCacheMisses.Inc()
	}

	r, err := e.compute(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	e.persist(ctx, key, r)
	return r, nil
}

// Recalculate bypasses and refreshes the cache for one student.
func (e *Engine) Recalculate(ctx context.Context, userID, courseID int64) (*Result, error) {
	if userID <= 0 || courseID <= 0 {
		return nil, ErrInvalidArgument
	}

	key := cache.RiskScoreKey(userID, courseID)
	if e.cache != nil {
		if err := e.cache.Delete(ctx, key); err != nil {
			logging.L(ctx).Warn("cache delete failed", "key", key, "error", err)
		}
	}

	r, err := e.compute(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	e.persist(ctx, key, r)
	return r, nil
}

// CalculateBatch computes snapshots for several students in one
// course. Students whose calculation fails are skipped and logged.
func (e *Engine) CalculateBatch(ctx context.Context, courseID int64, userIDs []int64) (map[int64]*Result, error) {
	if courseID <= 0 {
		return nil, ErrInvalidArgument
	}

	out := make(map[int64]*Result, len(userIDs))
	for _, uid := range userIDs {
		r, err := e.Calculate(ctx, uid, courseID)
		if err != nil {
			logging.L(ctx).Warn("batch risk calculation failed",
				"user_id", uid, "course_id", courseID, "error", err)
			continue
		}
		out[uid] = r
	}
	return out, nil
}

func (e *Engine) persist(ctx context.Context, key string, r *Result) {
	if err := e.store.Upsert(ctx, r); err != nil {
		logging.L(ctx).Error("persisting risk score failed",
			"user_id", r.UserID, "course_id", r.CourseID, "error", err)
	}
	if e.cache != nil {
		b, err := json.Marshal(r)
		if err == nil {
			err = e.cache.Set(ctx, key, b, e.ttl)
		}
		if err != nil {
			logging.L(ctx).Warn("caching risk score failed", "key", key, "error", err)
		}
	}
}

func (e *Engine) compute(ctx context.Context, userID, courseID int64) (*Result, error) {
	now := e.now().UTC()
	log := logging.L(ctx)

	factors := make(Factors, len(Dimensions))

	inactivity, lastActivity, err := inactivityFactor(ctx, e.provider, now, userID, courseID, e.weights.Inactivity, e.sentinel)
	if err != nil {
		log.Warn("inactivity signal unavailable", "user_id", userID, "course_id", courseID, "error", err)
		inactivity = Factor{}
	}
	factors[DimInactivity] = inactivity

	if f, err := velocityFactor(ctx, e.provider, now, userID, courseID, e.weights.Velocity); err != nil {
		log.Warn("velocity signal unavailable", "user_id", userID, "course_id", courseID, "error", err)
		factors[DimVelocity] = Factor{}
	} else {
		factors[DimVelocity] = f
	}

	if f, err := quizFactor(ctx, e.provider, now, userID, courseID, e.weights.Quiz); err != nil {
		log.Warn("quiz signal unavailable", "user_id", userID, "course_id", courseID, "error", err)
		factors[DimQuiz] = Factor{}
	} else {
		factors[DimQuiz] = f
	}

	if f, err := forumFactor(ctx, e.provider, now, userID, e.weights.Forum); err != nil {
		log.Warn("forum signal unavailable", "user_id", userID, "error", err)
		factors[DimForum] = Factor{}
	} else {
		factors[DimForum] = f
	}

	if f, err := assignmentFactor(ctx, e.provider, now, userID, courseID, e.weights.Assignments); err != nil {
		log.Warn("assignment signal unavailable", "user_id", userID, "course_id", courseID, "error", err)
		factors[DimAssignments] = Factor{}
	} else {
		factors[DimAssignments] = f
	}

	var weighted float64
	var weightSum int
	for _, d := range Dimensions {
		f := factors[d]
		weighted += f.Score * float64(f.Weight)
		weightSum += f.Weight
	}
	score := int(math.Round(weighted / math.Max(float64(weightSum), 1)))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := e.thresholds.LevelFor(score)

	trend := TrendStable
	prev, err := e.store.AtOrBefore(ctx, userID, courseID, now.Add(-trendLookback))
	if err != nil {
		log.Warn("previous risk score lookup failed", "user_id", userID, "course_id", courseID, "error", err)
	} else if prev != nil {
		trend = trendFor(score, prev.Score)
	}

	r := &Result{
		UserID:       userID,
		CourseID:     courseID,
		Score:        score,
		Level:        level,
		Factors:      factors,
		Trend:        trend,
		Suggestions:  suggestionsFor(level, factors),
		DaysInactive: int(inactivity.Raw["days_inactive"]),
		LastActivity: lastActivity,
		CalculatedAt: now,
	}

	metrics.RiskCalculationsTotal.WithLabelValues(string(level)).Inc()
	return r, nil
}

// trendFor compares the current score to the previous one. Moves under
// ten percent of the previous score count as stable.
func trendFor(current, previous int) Trend {
	if previous == 0 {
		return TrendStable
	}
	change := float64(current - previous)
	if math.Abs(change)/float64(previous) < 0.10 {
		return TrendStable
	}
	if change > 0 {
		return TrendWorsening
	}
	return TrendImproving
}
