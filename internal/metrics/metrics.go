// Package metrics provides Prometheus instrumentation for PulseGuard.
package metrics

import (
	"context"
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
			Namespace: "pulseguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulseguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoresTotal counts scored requests by label.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulseguard",
			Name:      "scores_total",
			Help:      "Total scored requests by resulting label.",
		},
		[]string{"label"},
	)

	// ScoreDistribution observes final ensemble scores.
	ScoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulseguard",
		Name:      "score",
		Help:      "Distribution of final risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulseguard",
		Name:      "scoring_duration_seconds",
		Help:      "Time to score one request, excluding alert delivery.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BatchSize observes the number of transactions per scoring request.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pulseguard",
		Name:      "batch_size",
		Help:      "Transactions per scoring request.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})

	// HistoryBufferSize tracks how many vectors the rolling window holds.
	HistoryBufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulseguard",
		Name:      "history_buffer_size",
		Help:      "Feature vectors currently held in the rolling window.",
	})

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulseguard",
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulseguard",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulseguard",
		Name:      "goroutines",
		Help:      "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoresTotal,
		ScoreDistribution,
		ScoringDuration,
		BatchSize,
		HistoryBufferSize,
		RateLimitedTotal,
		ActiveWebSocketClients,
		GoroutineCount,
	)
}

// ObserveScore records one scored request.
func ObserveScore(label string, score float64, batch int, elapsed time.Duration) {
	ScoresTotal.WithLabelValues(label).Inc()
	ScoreDistribution.Observe(score)
	BatchSize.Observe(float64(batch))
	ScoringDuration.Observe(elapsed.Seconds())
}

// StartRuntimeCollector periodically samples the goroutine count, which is
// where leaked alert deliveries would show up. Call in a goroutine; exits
// when ctx is done.
func StartRuntimeCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not raw path
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
