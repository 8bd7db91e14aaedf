// Package metrics provides Prometheus instrumentation for trustdesk.
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
			Namespace: "trustdesk",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Trust validation metrics ---

	ValidationRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Name:      "validation_requests_total",
		Help:      "Total manual trust validation requests by outcome status.",
	}, []string{"status"})

	ValidationDecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trustdesk",
		Name:      "validation_decision_duration_seconds",
		Help:      "Time from request submission to agent decision in seconds.",
		Buckets:   []float64{60, 600, 3600, 14400, 86400, 3 * 86400, 7 * 86400},
	})

	// --- Dispute metrics ---

	DisputesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Name:      "disputes_total",
		Help:      "Total dispute transitions by resulting status.",
	}, []string{"status"})

	DisputeResolutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trustdesk",
		Name:      "dispute_resolution_duration_seconds",
		Help:      "Time from dispute opening to resolution in seconds.",
		Buckets:   []float64{3600, 14400, 86400, 2 * 86400, 7 * 86400, 14 * 86400, 30 * 86400},
	})

	StaleDisputes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk",
		Name:      "stale_disputes",
		Help:      "Disputes currently past their SLA age, as of the last sweep.",
	})

	DisputeMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Name:      "dispute_messages_total",
		Help:      "Total dispute messages appended.",
	})

	VoteConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Name:      "vote_conflicts_total",
		Help:      "Total optimistic-concurrency retries while recording resolution votes.",
	})

	// --- Moderation metrics ---

	ModerationDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Name:      "moderation_decisions_total",
		Help:      "Total moderation decisions by outcome.",
	}, []string{"decision"})

	ModerationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk",
		Name:      "moderation_queue_depth",
		Help:      "Pending items in the moderation queue, as of the last enqueue/decision.",
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustdesk",
		Name:      "webhook_deliveries_total",
		Help:      "Total webhook deliveries by result.",
	}, []string{"result"})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustdesk", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ValidationRequestsTotal,
		ValidationDecisionDuration,
		DisputesTotal,
		DisputeResolutionDuration,
		StaleDisputes,
		DisputeMessagesTotal,
		VoteConflictsTotal,
		ModerationDecisionsTotal,
		ModerationQueueDepth,
		WebhookDeliveriesTotal,
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
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
