// Package metrics exposes capture and upload counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_sessions_started_total",
		Help: "Captures that started recording",
	})

	sessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_sessions_failed_total",
		Help: "Captures that ended failed, by error code",
	}, []string{"code"})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_sessions_finished_total",
		Help: "Captures persisted, by test status",
	}, []string{"status"})

	finishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_finish_duration_seconds",
		Help:    "Time from finish request to persisted record (stop, move, save)",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capture_active_sessions",
		Help: "Sessions in the live table that have not reached a terminal state",
	})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_uploads_total",
		Help: "Upload jobs processed, by result",
	}, []string{"result"})

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_upload_bytes_total",
		Help: "Bytes sent to object storage",
	})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capture_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Capture feeds the engine's lifecycle into the collectors above.
type Capture struct{}

func (Capture) SessionStarted() { sessionsStarted.Inc() }

func (Capture) SessionFailed(code string) { sessionsFailed.WithLabelValues(code).Inc() }

func (Capture) SessionFinished(status string, took time.Duration) {
	sessionsFinished.WithLabelValues(status).Inc()
	finishDuration.Observe(took.Seconds())
}

func (Capture) ActiveSessions(n int) { activeSessions.Set(float64(n)) }

// Uploads counts worker outcomes.
type Uploads struct{}

func (Uploads) UploadFinished(bytes int64) {
	uploadsTotal.WithLabelValues("finished").Inc()
	uploadBytes.Add(float64(bytes))
}

func (Uploads) UploadFailed() { uploadsTotal.WithLabelValues("error").Inc() }

// Middleware records request latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
