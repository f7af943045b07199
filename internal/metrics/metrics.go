package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/caretaker/internal/errors"
)

// Metrics holds all Prometheus metrics for caretaker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Repository run metrics
	RepoRuns    *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	ActiveRuns  prometheus.Gauge

	// Stage metrics
	StageResults  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec
	CacheEntries prometheus.Gauge

	// Plugin metrics
	PluginRuns *prometheus.CounterVec

	// Publish metrics
	PublishOps *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		RepoRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_repo_runs_total",
				Help: "Total number of repository runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caretaker_run_duration_seconds",
				Help:    "Repository run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"outcome"},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "caretaker_active_runs",
				Help: "Number of repository runs currently executing",
			},
		),

		StageResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_stage_results_total",
				Help: "Total number of stage executions by status",
			},
			[]string{"stage", "status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caretaker_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_provider_calls_total",
				Help: "Total number of intelligence provider invocations",
			},
			[]string{"provider", "template", "success"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caretaker_provider_latency_seconds",
				Help:    "Intelligence provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"provider"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_cache_lookups_total",
				Help: "Total number of artifact cache lookups by result",
			},
			[]string{"result"},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "caretaker_cache_entries",
				Help: "Number of entries resident in the artifact cache",
			},
		),

		PluginRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_plugin_runs_total",
				Help: "Total number of plugin runs",
			},
			[]string{"plugin", "success"},
		),

		PublishOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_publish_operations_total",
				Help: "Total number of published change set operations",
			},
			[]string{"kind", "result"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretaker_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code"},
		),
	}
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a terminal repository outcome.
func (m *Metrics) RunFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RepoRuns.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStage records one stage result.
func (m *Metrics) RecordStage(stageID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageResults.WithLabelValues(stageID, status).Inc()
	m.StageDuration.WithLabelValues(stageID).Observe(duration.Seconds())
}

// RecordProviderCall records one provider invocation.
func (m *Metrics) RecordProviderCall(providerID, templateID string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(providerID, templateID, strconv.FormatBool(success)).Inc()
	m.ProviderLatency.WithLabelValues(providerID).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries reports the resident cache size.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordPlugin records one plugin run.
func (m *Metrics) RecordPlugin(name string, success bool) {
	if m == nil {
		return
	}
	m.PluginRuns.WithLabelValues(name, strconv.FormatBool(success)).Inc()
}

// RecordPublish records one published, skipped or failed operation.
func (m *Metrics) RecordPublish(kind, result string) {
	if m == nil {
		return
	}
	m.PublishOps.WithLabelValues(kind, result).Inc()
}

// RecordError counts err by its error code; errors without one count as "unknown".
func (m *Metrics) RecordError(err error) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	m.Errors.WithLabelValues(code).Inc()
}
