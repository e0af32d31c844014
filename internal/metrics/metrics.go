// Package metrics exposes Prometheus counters for assessments, climate
// fetches and AI provider usage. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "climatecredit"

// Metrics holds the registry and every collector the service records.
type Metrics struct {
	Registry *prometheus.Registry

	providerAttempts *prometheus.CounterVec
	tokens           *prometheus.CounterVec
	costUSD          *prometheus.CounterVec
	climateFetches   *prometheus.CounterVec
	assessments      *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_provider_attempts_total",
			Help:      "AI provider attempts by provider, capability and outcome.",
		}, []string{"provider", "capability", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Tokens consumed by provider and direction.",
		}, []string{"provider", "direction"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_cost_usd_total",
			Help:      "Estimated AI spend in USD by provider.",
		}, []string{"provider"}),
		climateFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "climate_fetches_total",
			Help:      "Climate snapshots produced by source.",
		}, []string{"source"}),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Assessments created by recommendation.",
		}, []string{"recommendation"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Loan officer decisions recorded by action.",
		}, []string{"action"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.providerAttempts,
		m.tokens,
		m.costUSD,
		m.climateFetches,
		m.assessments,
		m.decisions,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ProviderAttempt records one provider attempt. Outcome is "success" or a
// failure reason.
func (m *Metrics) ProviderAttempt(provider, capability, outcome string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, capability, outcome).Inc()
}

// TokenUsage records token consumption and estimated cost.
func (m *Metrics) TokenUsage(provider string, input, output int64, usd float64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(provider, "input").Add(float64(input))
	m.tokens.WithLabelValues(provider, "output").Add(float64(output))
	if usd > 0 {
		m.costUSD.WithLabelValues(provider).Add(usd)
	}
}

// ClimateFetch records a snapshot by source.
func (m *Metrics) ClimateFetch(source string) {
	if m == nil {
		return
	}
	m.climateFetches.WithLabelValues(source).Inc()
}

// AssessmentCreated records a created assessment by recommendation type.
func (m *Metrics) AssessmentCreated(recommendation string) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(recommendation).Inc()
}

// DecisionRecorded records a loan officer decision.
func (m *Metrics) DecisionRecorded(action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}
