package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records pipeline observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordStageDuration observes how long a pipeline stage took
	RecordStageDuration(stage string, d time.Duration)
	// RecordRunOutcome counts a finished pipeline run by outcome
	RecordRunOutcome(outcome string)
}

// NoopRecorder discards all observations (used by the oneshot CLI)
type NoopRecorder struct{}

func (NoopRecorder) RecordStageDuration(string, time.Duration) {}
func (NoopRecorder) RecordRunOutcome(string)                   {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry      *prom.Registry
	stageDuration *prom.HistogramVec
	runOutcomes   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the pipeline metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		registry: reg,
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "tunesyncd",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "tunesyncd",
			Name:      "run_outcomes_total",
			Help:      "Pipeline run outcomes by final status",
		}, []string{"outcome"}),
	}

	reg.MustRegister(pr.stageDuration, pr.runOutcomes)
	return pr
}

// RecordStageDuration observes how long a pipeline stage took
func (pr *PrometheusRecorder) RecordStageDuration(stage string, d time.Duration) {
	pr.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRunOutcome counts a finished pipeline run by outcome
func (pr *PrometheusRecorder) RecordRunOutcome(outcome string) {
	pr.runOutcomes.WithLabelValues(outcome).Inc()
}

// Handler returns an HTTP handler exposing the recorder's registry
func (pr *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(pr.registry, promhttp.HandlerOpts{})
}
