package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/edupulse/edupulse/internal/metrics"
	"github.com/edupulse/edupulse/internal/provider"
)

// Worker periodically recalculates risk scores for every student
// active within the lookback window.
type Worker struct {
	engine   *Engine
	lister   provider.PairLister
	interval time.Duration
	lookback time.Duration
	onResult func(context.Context, *Result)
	logger   *slog.Logger
	stop     chan struct{}
}

// NewWorker creates a risk sweep worker.
// interval is typically 24 hours in production, seconds in tests.
func NewWorker(engine *Engine, lister provider.PairLister, interval, lookback time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		engine:   engine,
		lister:   lister,
		interval: interval,
		lookback: lookback,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// OnResult registers a callback invoked for each freshly computed
// snapshot during a sweep. Used to fan results out to webhooks and
// realtime subscribers.
func (w *Worker) OnResult(fn func(context.Context, *Result)) *Worker {
	w.onResult = fn
	return w
}

// Start begins the sweep loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

// Sweep recalculates every active student/course pair once.
func (w *Worker) Sweep(ctx context.Context) {
	started := time.Now()

	pairs, err := w.lister.ActivePairs(ctx, started.Add(-w.lookback))
	if err != nil {
		w.logger.Warn("risk sweep failed to list active students", "error", err)
		return
	}
	if len(pairs) == 0 {
		return
	}

	calculated := 0
	for _, p := range pairs {
		r, err := w.engine.Recalculate(ctx, p.UserID, p.CourseID)
		if err != nil {
			w.logger.Warn("risk sweep calculation failed",
				"user_id", p.UserID, "course_id", p.CourseID, "error", err)
			continue
		}
		calculated++
		if w.onResult != nil {
			w.onResult(ctx, r)
		}
	}

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	metrics.SweepPairsTotal.Add(float64(calculated))

	w.logger.Info("risk sweep completed",
		"pairs", len(pairs), "calculated", calculated,
		"duration", time.Since(started).Round(time.Millisecond))
}
