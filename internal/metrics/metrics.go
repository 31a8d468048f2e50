// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry and every collector the service records to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	ruleFindingsTotal          *prometheus.CounterVec
	ruleErrorsTotal            *prometheus.CounterVec
	enricherFailuresTotal      *prometheus.CounterVec
	screenshotsTotal           *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	submissionsTotal           *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// New creates a Metrics with its own registry. Go runtime and process
// collectors are registered alongside the service collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	register := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	m := &Metrics{
		registry: reg,
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_fetches_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		),
		fetchBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		),
		fetchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webaudit_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
		),
		ruleFindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_rule_findings_total",
				Help: "Total number of rule findings, labeled by rule and status.",
			},
			[]string{"rule", "status"},
		),
		ruleErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_rule_errors_total",
				Help: "Total number of rules that failed during evaluation.",
			},
			[]string{"rule"},
		),
		enricherFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_enricher_failures_total",
				Help: "Total number of failed enrichments, labeled by enricher.",
			},
			[]string{"enricher"},
		),
		screenshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_screenshots_total",
				Help: "Total number of screenshot captures, labeled by device and outcome.",
			},
			[]string{"device", "outcome"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webaudit_submissions_total",
				Help: "Total number of audit submissions, labeled by cache result.",
			},
			[]string{"result"},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webaudit_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		),
		rateLimitDelaySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webaudit_rate_limit_delay_seconds",
				Help:    "Histogram of performance API rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}

	register(m.fetchesTotal)
	register(m.fetchBytesTotal)
	register(m.fetchDurationSeconds)
	register(m.ruleFindingsTotal)
	register(m.ruleErrorsTotal)
	register(m.enricherFailuresTotal)
	register(m.screenshotsTotal)
	register(m.jobsTotal)
	register(m.submissionsTotal)
	register(m.activeWorkers)
	register(m.rateLimitDelaySeconds)
	register(m.httpRequestsTotal)
	register(m.httpRequestDurationSeconds)
	register(collectors.NewGoCollector())
	register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Registry exposes the underlying registry (tests and custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch records one primary page fetch.
func (m *Metrics) ObserveFetch(site string, outcome string, bytesFetched int64, duration time.Duration) {
	if m == nil {
		return
	}
	sanitizedSite := SanitizeSite(site)
	m.fetchesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		m.fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	if duration > 0 {
		m.fetchDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveFinding counts one rule finding.
func (m *Metrics) ObserveFinding(rule, status string) {
	if m == nil {
		return
	}
	m.ruleFindingsTotal.WithLabelValues(rule, status).Inc()
}

// ObserveRuleError counts a rule that failed during evaluation.
func (m *Metrics) ObserveRuleError(rule string) {
	if m == nil {
		return
	}
	m.ruleErrorsTotal.WithLabelValues(rule).Inc()
}

// ObserveEnricherFailure counts a failed best-effort enrichment.
func (m *Metrics) ObserveEnricherFailure(enricher string) {
	if m == nil {
		return
	}
	m.enricherFailuresTotal.WithLabelValues(enricher).Inc()
}

// ObserveScreenshot counts one device capture.
func (m *Metrics) ObserveScreenshot(device, outcome string) {
	if m == nil {
		return
	}
	m.screenshotsTotal.WithLabelValues(device, outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func (m *Metrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// ObserveSubmission counts a submission by cache result (hit, miss, inflight).
func (m *Metrics) ObserveSubmission(result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func (m *Metrics) IncActiveWorkers() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func (m *Metrics) DecActiveWorkers() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func (m *Metrics) ObserveRateLimitDelay(duration time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
