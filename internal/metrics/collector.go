package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several cores (and tests) can coexist
// in one process. All methods are safe on a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	logEntries      *prometheus.CounterVec
	sinkDropped     prometheus.Counter
	sinkErrors      prometheus.Counter
	alertsTotal     *prometheus.CounterVec
	alertsResolved  prometheus.Counter
	ruleErrors      *prometheus.CounterVec
	ruleSuppressed  *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	agentRuns       *prometheus.CounterVec
	agentIssues     *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_log_entries_total",
			Help: "Event log entries recorded.",
		}, []string{"level", "category"}),
		sinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookingwatch_log_sink_dropped_total",
			Help: "Log entries dropped because the durable sink queue was full.",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookingwatch_sink_errors_total",
			Help: "Durable sink write failures.",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_alerts_total",
			Help: "Alerts created.",
		}, []string{"type", "severity", "source"}),
		alertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookingwatch_alerts_resolved_total",
			Help: "Alerts resolved.",
		}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_rule_errors_total",
			Help: "Rule predicate failures.",
		}, []string{"rule"}),
		ruleSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_rule_cooldown_suppressed_total",
			Help: "Rule matches suppressed by cooldown.",
		}, []string{"rule"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_dispatch_total",
			Help: "Notification dispatch attempts by action and outcome.",
		}, []string{"action", "outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_tracked_requests_total",
			Help: "Tracked requests reaching a status.",
		}, []string{"type", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookingwatch_tracked_request_duration_seconds",
			Help:    "Duration of terminal tracked requests.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_agent_runs_total",
			Help: "Verification agent runs by outcome.",
		}, []string{"agent", "outcome"}),
		agentIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookingwatch_agent_issues_total",
			Help: "Issues reported by verification agents.",
		}, []string{"agent", "issue_type"}),
	}
	c.registry.MustRegister(
		c.logEntries, c.sinkDropped, c.sinkErrors,
		c.alertsTotal, c.alertsResolved, c.ruleErrors, c.ruleSuppressed,
		c.dispatches, c.requestsTotal, c.requestDuration,
		c.agentRuns, c.agentIssues,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) LogEntry(level, category string) {
	if c == nil {
		return
	}
	c.logEntries.WithLabelValues(level, category).Inc()
}

func (c *Collector) SinkDropped() {
	if c == nil {
		return
	}
	c.sinkDropped.Inc()
}

func (c *Collector) SinkError() {
	if c == nil {
		return
	}
	c.sinkErrors.Inc()
}

func (c *Collector) AlertCreated(alertType, severity, source string) {
	if c == nil {
		return
	}
	c.alertsTotal.WithLabelValues(alertType, severity, source).Inc()
}

func (c *Collector) AlertResolved() {
	if c == nil {
		return
	}
	c.alertsResolved.Inc()
}

func (c *Collector) RuleError(rule string) {
	if c == nil {
		return
	}
	c.ruleErrors.WithLabelValues(rule).Inc()
}

func (c *Collector) RuleSuppressed(rule string) {
	if c == nil {
		return
	}
	c.ruleSuppressed.WithLabelValues(rule).Inc()
}

func (c *Collector) Dispatch(action, outcome string) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(action, outcome).Inc()
}

func (c *Collector) RequestStatus(requestType, status string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(requestType, status).Inc()
}

func (c *Collector) RequestFinished(requestType string, seconds float64) {
	if c == nil {
		return
	}
	c.requestDuration.WithLabelValues(requestType).Observe(seconds)
}

func (c *Collector) AgentRun(agentID string, success bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.agentRuns.WithLabelValues(agentID, outcome).Inc()
}

func (c *Collector) AgentIssue(agentID, issueType string) {
	if c == nil {
		return
	}
	c.agentIssues.WithLabelValues(agentID, issueType).Inc()
}
