// Package metrics exposes the billing engine's Prometheus instruments.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "almanac"

// Metrics groups the counters recorded by the billing services.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	webhookEvents     *prometheus.CounterVec
	webhookRejections *prometheus.CounterVec
	graceSuspensions  prometheus.Counter
	graceFailures     prometheus.Counter
	oauthValidations  *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries accepted for ingestion, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		webhookRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejections_total",
			Help:      "Webhook deliveries rejected before ingestion, by provider and reason.",
		}, []string{"provider", "reason"}),
		graceSuspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grace_sweep_suspensions_total",
			Help:      "Subscriptions suspended by the grace-period sweep.",
		}),
		graceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grace_sweep_failures_total",
			Help:      "Rows the grace-period sweep failed to update.",
		}),
		oauthValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_state_validations_total",
			Help:      "OAuth state token validations, by outcome.",
		}, []string{"outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Recurring job executions, by job and result.",
		}, []string{"job", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.webhookEvents, m.webhookRejections, m.graceSuspensions, m.graceFailures, m.oauthValidations, m.jobRuns)
	}
	return m
}

func label(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// WebhookEvent counts one processed webhook by outcome.
func (m *Metrics) WebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(label(provider), label(outcome)).Inc()
}

// WebhookRejected counts a webhook refused before processing.
func (m *Metrics) WebhookRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.webhookRejections.WithLabelValues(label(provider), label(reason)).Inc()
}

// GraceSweep records the result of one grace sweep.
func (m *Metrics) GraceSweep(suspended, failed int) {
	if m == nil {
		return
	}
	m.graceSuspensions.Add(float64(suspended))
	m.graceFailures.Add(float64(failed))
}

// OAuthStateValidation counts state token checks.
func (m *Metrics) OAuthStateValidation(valid bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if valid {
		outcome = "accepted"
	}
	m.oauthValidations.WithLabelValues(outcome).Inc()
}

// JobRun counts one job run by result.
func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(label(job), result).Inc()
}
