// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deployguard/internal/models"
)

const namespace = "deployguard"

// Metrics implements the controller's Observer and records run outcomes.
type Metrics struct {
	gatherer prometheus.Gatherer

	FindingsTotal      *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	EnrichmentSeconds  *prometheus.HistogramVec
	ArtifactsTotal     *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	RunDurationSeconds prometheus.Histogram
	LastRiskScore      prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers on reg, which also serves Handler.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		FindingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings recorded, by severity and producer",
		}, []string{"severity", "produced_by"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_decisions_total",
			Help:      "Agent controller decisions, by action",
		}, []string{"action"}),
		EnrichmentSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Enrichment call latency, by provider and outcome",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "outcome"}),
		ArtifactsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifacts analysed, by kind and final status",
		}, []string{"kind", "status"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed analysis runs, by classification",
		}, []string{"classification"}),
		RunDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full analysis run",
			Buckets:   prometheus.DefBuckets,
		}),
		LastRiskScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_risk_score",
			Help:      "Score of the most recent run",
		}),
	}
}

func (m *Metrics) Decision(d models.Decision) {
	m.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
}

func (m *Metrics) Enrichment(provider string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EnrichmentSeconds.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

// Findings counts a batch of findings.
func (m *Metrics) Findings(fs []models.Finding) {
	for _, f := range fs {
		m.FindingsTotal.WithLabelValues(string(f.Severity), string(f.ProducedBy)).Inc()
	}
}

// Artifact counts one settled artifact.
func (m *Metrics) Artifact(kind models.Kind, status models.Status) {
	m.ArtifactsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

// Run records the outcome of a full run.
func (m *Metrics) Run(result models.RiskResult, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(string(result.Classification)).Inc()
	m.RunDurationSeconds.Observe(elapsed.Seconds())
	m.LastRiskScore.Set(float64(result.Score))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
