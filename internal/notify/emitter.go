package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edupulse/edupulse/internal/idgen"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edupulse",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edupulse",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors)
}

// Emitter wraps a Dispatcher to emit engagement events. All methods
// are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(courseID int64, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	emitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, courseID, event); err != nil {
		emitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitRiskCalculated emits a risk.calculated event, plus risk.high or
// risk.critical when the level warrants it.
func (e *Emitter) EmitRiskCalculated(userID, courseID int64, score int, level, trend string) {
	data := map[string]any{
		"userId":   userID,
		"courseId": courseID,
		"score":    score,
		"level":    level,
		"trend":    trend,
	}
	e.emit(courseID, EventRiskCalculated, data)

	switch level {
	case "high":
		e.emit(courseID, EventRiskHigh, data)
	case "critical":
		e.emit(courseID, EventRiskCritical, data)
	}
}

// EmitInterventionLogged emits an intervention.logged event.
func (e *Emitter) EmitInterventionLogged(interventionID string, userID, courseID int64, ivType string, riskScore int) {
	e.emit(courseID, EventInterventionLogged, map[string]any{
		"interventionId": interventionID,
		"userId":         userID,
		"courseId":       courseID,
		"type":           ivType,
		"riskScore":      riskScore,
	})
}
