package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "songbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Generation lifecycle metrics
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songbot_generations_total",
			Help: "Total number of music generation submissions",
		},
		[]string{"provider", "outcome"},
	)

	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songbot_poll_ticks_total",
			Help: "Total number of status poll ticks",
		},
		[]string{"provider", "result"},
	)

	taskRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songbot_task_restarts_total",
			Help: "Total number of automatic task restarts",
		},
		[]string{"provider", "reason"},
	)

	llmRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "songbot_llm_request_duration_seconds",
			Help:    "Lyrics generation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "status"},
	)

	// Delivery metrics
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songbot_deliveries_total",
			Help: "Total number of track deliveries",
		},
		[]string{"mode", "status"},
	)

	delayedPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "songbot_delayed_pending",
			Help: "Number of pending delayed deliveries",
		},
	)

	messengerSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "songbot_messenger_sends_total",
			Help: "Total number of messenger send attempts",
		},
		[]string{"kind", "status"},
	)

	activeTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "songbot_active_tasks",
			Help: "Number of in-flight generation tasks",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			generationsTotal,
			pollTicksTotal,
			taskRestartsTotal,
			llmRequestDuration,
			deliveriesTotal,
			delayedPending,
			messengerSendsTotal,
			activeTasks,
		)
	})
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records a submission outcome ("submitted", "rejected",
// "failed").
func RecordGeneration(provider, outcome string) {
	generationsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordPollTick records one poll result ("pending", "ready", "failed",
// "transient").
func RecordPollTick(provider, result string) {
	pollTicksTotal.WithLabelValues(provider, result).Inc()
}

// RecordTaskRestart records an automatic resubmission ("failure",
// "poll_exhausted").
func RecordTaskRestart(provider, reason string) {
	taskRestartsTotal.WithLabelValues(provider, reason).Inc()
}

// RecordLLMRequest records one lyrics generation call.
func RecordLLMRequest(model, status string, duration time.Duration) {
	llmRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordDelivery records one delivery attempt. mode is "immediate" or
// "delayed", status "ok" or "error".
func RecordDelivery(mode, status string) {
	deliveriesTotal.WithLabelValues(mode, status).Inc()
}

// SetDelayedPending sets the pending delayed-delivery gauge.
func SetDelayedPending(count int) {
	delayedPending.Set(float64(count))
}

// RecordMessengerSend records one messenger call. kind is "text",
// "attachment" or "upload", status "ok" or "error".
func RecordMessengerSend(kind, status string) {
	messengerSendsTotal.WithLabelValues(kind, status).Inc()
}

// SetActiveTasks sets the in-flight task gauge.
func SetActiveTasks(count int) {
	activeTasks.Set(float64(count))
}
