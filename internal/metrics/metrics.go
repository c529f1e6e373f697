package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	runs             *prometheus.CounterVec // total invocations
	runDuration      prometheus.Histogram   // time per invocation
	hostOutcomes     *prometheus.CounterVec // terminal outcome per host
	providerRequests *prometheus.CounterVec // provider update calls
	resolverProbes   *prometheus.CounterVec // ip source probes
	storeRequests    *prometheus.CounterVec // state store operations
	lastSuccess      *prometheus.GaugeVec   // unix time of last successful update
}

func (m *Metrics) IncRun(success bool) {
	m.runs.WithLabelValues(boolToResult(success)).Inc()
}

func (m *Metrics) SetRunDuration(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncHostOutcome(provider, outcome string) {
	if !isValidOutcome(outcome) || provider == "" {
		return
	}
	m.hostOutcomes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncProviderRequest(provider string, success bool) {
	if provider == "" {
		return
	}
	m.providerRequests.WithLabelValues(provider, boolToResult(success)).Inc()
}

func (m *Metrics) IncResolverProbe(source string, success bool) {
	m.resolverProbes.WithLabelValues(source, boolToResult(success)).Inc()
}

func (m *Metrics) IncStoreRequest(backend, operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.storeRequests.WithLabelValues(backend, operation, boolToResult(success)).Inc()
}

func (m *Metrics) SetLastSuccess(provider, host string, t time.Time) {
	m.lastSuccess.WithLabelValues(provider, host).Set(float64(t.Unix()))
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "read", "update":
		return true
	}
	return false
}

func isValidOutcome(outcome string) bool {
	switch outcome {
	case "updated", "unchanged", "skipped", "failed":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "dnsup"

	m := &Metrics{
		registry: registry,

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of update invocations",
		}, []string{"status"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of update invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		hostOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_outcomes_total",
			Help:      "Terminal outcomes per provider",
		}, []string{"provider", "outcome"}),

		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total DNS provider update requests",
		}, []string{"provider", "status"}),

		resolverProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_probes_total",
			Help:      "Total public ip source probes",
		}, []string{"source", "status"}),

		storeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_requests_total",
			Help:      "Total state store requests",
		}, []string{"backend", "operation", "status"}),

		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful update per host",
		}, []string{"provider", "host"}),
	}

	if register {
		registry.MustRegister(
			m.runs,
			m.runDuration,
			m.hostOutcomes,
			m.providerRequests,
			m.resolverProbes,
			m.storeRequests,
			m.lastSuccess,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests and ad-hoc dumps.
func (m *Metrics) Gather() (int, error) {
	families, err := m.registry.Gather()
	return len(families), err
}
