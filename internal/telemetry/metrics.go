package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmitCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "audits_submitted_total", Help: "Total submitted audit jobs"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "audits_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "audits_completed_total", Help: "Audit jobs that reached completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "audits_failed_total", Help: "Audit jobs that reached failed"})
	StageCounter     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "audits_stages_total", Help: "Pipeline stage outcomes"}, []string{"stage", "outcome"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "audits_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "audits_inflight", Help: "Jobs currently being processed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmitCounter,
			RateLimitRejects,
			JobsCompleted,
			JobsFailed,
			StageCounter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
