// Package metrics provides Prometheus instrumentation for the analytics service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupulse",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edupulse",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RiskCalculationsTotal counts completed risk calculations by level.
	RiskCalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupulse",
			Name:      "risk_calculations_total",
			Help:      "Total risk score calculations by resulting level.",
		},
		[]string{"level"},
	)

	// RiskCacheHits counts result-cache hits for risk lookups.
	RiskCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edupulse",
		Name:      "risk_cache_hits_total",
		Help:      "Total risk score cache hits.",
	})

	// RiskCacheMisses counts result-cache misses for risk lookups.
	RiskCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edupulse",
		Name:      "risk_cache_misses_total",
		Help:      "Total risk score cache misses.",
	})

	// ActivityEventsTotal counts ingested activity events by type.
	ActivityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupulse",
			Name:      "activity_events_total",
			Help:      "Total activity events recorded by type.",
		},
		[]string{"type"},
	)

	// InterventionsTotal counts logged interventions by type.
	InterventionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edupulse",
			Name:      "interventions_total",
			Help:      "Total interventions logged by type.",
		},
		[]string{"type"},
	)

	// SweepDuration observes full batch-sweep durations.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "edupulse",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of full risk recalculation sweeps in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	// SweepPairsTotal counts (student, course) pairs processed by sweeps.
	SweepPairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "edupulse",
		Name:      "sweep_pairs_total",
		Help:      "Total student/course pairs recalculated by background sweeps.",
	})

	// ActiveWebSocketClients tracks connected dashboard stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupulse",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupulse", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupulse", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupulse", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "edupulse", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RiskCalculationsTotal,
		RiskCacheHits,
		RiskCacheMisses,
		ActivityEventsTotal,
		InterventionsTotal,
		SweepDuration,
		SweepPairsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
