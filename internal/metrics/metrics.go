// Package metrics provides Prometheus instrumentation for the Swarmy platform.
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
			Namespace: "swarmy",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swarmy",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PostageJobsTotal counts provisioning jobs processed by kind and result.
	PostageJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmy",
			Name:      "postage_jobs_total",
			Help:      "Total postage provisioning jobs by kind (create, topup, dilute) and result.",
		},
		[]string{"kind", "result"},
	)

	// PostageQueueDepth tracks the number of pending jobs per queue.
	PostageQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "swarmy",
			Name:      "postage_queue_depth",
			Help:      "Pending provisioning jobs per queue kind.",
		},
		[]string{"kind"},
	)

	// PostageJobDuration observes remote provisioning call latency by kind.
	// Creation waits for on-chain usability, so the buckets run into minutes.
	PostageJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swarmy",
			Name:      "postage_job_duration_seconds",
			Help:      "Remote provisioning call duration in seconds by kind.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// PlanActivationsTotal counts plan activations.
	PlanActivationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmy",
		Name:      "plan_activations_total",
		Help:      "Total plans activated.",
	})

	// PlanCancellationsTotal counts plan cancellations by reason.
	PlanCancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmy",
			Name:      "plan_cancellations_total",
			Help:      "Total plans cancelled by reason (expired, upgrade, requested).",
		},
		[]string{"reason"},
	)

	// DownloadPicksTotal counts load-balancer download picks per bee node.
	DownloadPicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmy",
			Name:      "download_picks_total",
			Help:      "Download node selections per bee id.",
		},
		[]string{"bee"},
	)

	// HiveNodes tracks the number of nodes in the current hive snapshot.
	HiveNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmy",
		Name:      "hive_nodes",
		Help:      "Number of enabled bee nodes in the current snapshot.",
	})

	// WalletBZZBalance tracks the aggregate operator wallet balance in BZZ.
	WalletBZZBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmy",
		Name:      "wallet_bzz_balance",
		Help:      "Aggregate operator wallet balance across nodes, in BZZ.",
	})

	// AlertsSentTotal counts operator alerts sent.
	AlertsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmy",
		Name:      "alerts_sent_total",
		Help:      "Total operator alerts sent.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmy", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmy", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmy", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmy", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PostageJobsTotal,
		PostageQueueDepth,
		PostageJobDuration,
		PlanActivationsTotal,
		PlanCancellationsTotal,
		DownloadPicksTotal,
		HiveNodes,
		WalletBZZBalance,
		AlertsSentTotal,
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
