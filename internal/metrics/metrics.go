// Package metrics provides Prometheus metrics for the generation pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SubmissionsTotal     *prometheus.CounterVec
	PipelineDuration     *prometheus.HistogramVec
	ClassificationsTotal *prometheus.CounterVec
	SynthAttemptsTotal   *prometheus.CounterVec
	RepoMutationsTotal   *prometheus.CounterVec
	DeployPollsTotal     *prometheus.CounterVec
	PollLoopsActive      prometheus.Gauge
	ErrorsTotal          *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_submissions_total",
				Help: "Total project submissions by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appforge_pipeline_duration_seconds",
				Help:    "End-to-end submission pipeline duration by mode.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"mode"},
		),
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_classifications_total",
				Help: "Classification verdicts by mode.",
			},
			[]string{"mode", "verdict"},
		),
		SynthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_synth_attempts_total",
				Help: "Code synthesis attempts by result.",
			},
			[]string{"result"},
		),
		RepoMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_repo_mutations_total",
				Help: "Repository mutations by operation and status.",
			},
			[]string{"op", "status"},
		),
		DeployPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_deploy_polls_total",
				Help: "Deployment status polls by observed status.",
			},
			[]string{"status"},
		),
		PollLoopsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appforge_poll_loops_active",
				Help: "Number of running deployment poll loops.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appforge_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.SubmissionsTotal,
		m.PipelineDuration,
		m.ClassificationsTotal,
		m.SynthAttemptsTotal,
		m.RepoMutationsTotal,
		m.DeployPollsTotal,
		m.PollLoopsActive,
		m.ErrorsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordSubmission increments the submission counter.
func (m *Metrics) RecordSubmission(mode, outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveDuration records pipeline duration.
func (m *Metrics) ObserveDuration(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordClassification increments the verdict counter.
func (m *Metrics) RecordClassification(mode, verdict string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(mode, verdict).Inc()
}

// RecordSynthAttempt increments the synthesis attempt counter.
func (m *Metrics) RecordSynthAttempt(result string) {
	if m == nil {
		return
	}
	m.SynthAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRepoMutation increments the repository mutation counter.
func (m *Metrics) RecordRepoMutation(op, status string) {
	if m == nil {
		return
	}
	m.RepoMutationsTotal.WithLabelValues(op, status).Inc()
}

// RecordPoll increments the poll counter.
func (m *Metrics) RecordPoll(status string) {
	if m == nil {
		return
	}
	m.DeployPollsTotal.WithLabelValues(status).Inc()
}

// AddPollLoops adjusts the active poll loop gauge.
func (m *Metrics) AddPollLoops(delta float64) {
	if m == nil {
		return
	}
	m.PollLoopsActive.Add(delta)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// WatchStoreSize exposes the project store size, read from size at scrape
// time. Failed reads report -1.
func (m *Metrics) WatchStoreSize(size func() (int64, error)) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "appforge_store_size_bytes",
			Help: "Size of the project store database in bytes.",
		},
		func() float64 {
			n, err := size()
			if err != nil {
				return -1
			}
			return float64(n)
		},
	))
}
