package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the collectors exported on /metrics. Each instance has its own
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	workflowTransitions *prometheus.CounterVec
	escalationActions   *prometheus.CounterVec
	escalationRuns      *prometheus.CounterVec
	escalationDuration  prometheus.Histogram
	emailDeliveries     *prometheus.CounterVec
	rateLimited         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_http_requests_total",
				Help: "HTTP requests by route pattern, method and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backoffice_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		workflowTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_workflow_transitions_total",
				Help: "Approval workflow transitions by stage, decision and resulting status",
			},
			[]string{"stage", "decision", "to"},
		),
		escalationActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_escalation_actions_total",
				Help: "Complaint escalation actions by tier and outcome (sent, skipped, failed)",
			},
			[]string{"tier", "outcome"},
		),
		escalationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_escalation_runs_total",
				Help: "Escalation runs by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		escalationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backoffice_escalation_run_duration_seconds",
				Help:    "Wall time of one escalation run",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		emailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_email_deliveries_total",
				Help: "Outbound emails by template and result (sent, dropped, failed)",
			},
			[]string{"template", "result"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_rate_limited_total",
				Help: "Requests rejected by the public intake rate limiter",
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.workflowTransitions,
		m.escalationActions,
		m.escalationRuns,
		m.escalationDuration,
		m.emailDeliveries,
		m.rateLimited,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) WorkflowTransition(stage, decision, to string) {
	if m == nil {
		return
	}
	m.workflowTransitions.WithLabelValues(stage, decision, to).Inc()
}

func (m *Metrics) EscalationAction(tier, outcome string) {
	if m == nil {
		return
	}
	m.escalationActions.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) EscalationRun(trigger, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.escalationRuns.WithLabelValues(trigger, result).Inc()
	m.escalationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) EmailDelivery(template, result string) {
	if m == nil {
		return
	}
	m.emailDeliveries.WithLabelValues(template, result).Inc()
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}
