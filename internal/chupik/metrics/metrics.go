// Package metrics holds the Prometheus instruments of the agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply sources, used as the "source" label of Messages.
const (
	SourceLocal    = "local"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
	SourceCommand  = "command"
	SourceSilent   = "silent"
)

// Metrics groups all Prometheus instruments used by the agent.
type Metrics struct {
	Messages          *prometheus.CounterVec
	EscalationErrors  *prometheus.CounterVec
	Reminders         *prometheus.CounterVec
	LoopErrors        *prometheus.CounterVec
	Proactive         *prometheus.CounterVec
	ActiveTasks       prometheus.Gauge
	Conversations     prometheus.Gauge
	GenerationLatency prometheus.Histogram
	GenerationRetries prometheus.Counter

	registry *prometheus.Registry
}

// New registers the instruments on a fresh registry, so that several
// instances (one per test, say) never collide.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by the source of the reply.",
		}, []string{"source"}),
		EscalationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_errors_total",
			Help:      "Failed remote generations by reason.",
		}, []string{"reason"}),
		Reminders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminders by lifecycle event.",
		}, []string{"event"}),
		LoopErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Failed background loop iterations by loop.",
		}, []string{"loop"}),
		Proactive: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proactive_messages_total",
			Help:      "Unprompted messages by kind.",
		}, []string{"kind"}),
		ActiveTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Detached tasks currently running.",
		}),
		Conversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations with in-memory state.",
		}),
		GenerationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Latency of remote generation calls in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		GenerationRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Remote generation attempts that failed and were retried.",
		}),
	}
}

// ObserveGeneration records the latency of one remote call.
func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
}

// RetryAttempted counts a retried generation attempt. Its signature matches
// retry.Config.OnRetry.
func (m *Metrics) RetryAttempted(int, error) {
	m.GenerationRetries.Inc()
}

// LoopFailed counts a failed loop iteration. Its signature matches the
// scheduler loops' OnError hook.
func (m *Metrics) LoopFailed(loop string, _ error) {
	m.LoopErrors.WithLabelValues(loop).Inc()
}

// SetActiveTasks matches the task registry's OnChange hook.
func (m *Metrics) SetActiveTasks(n int) {
	m.ActiveTasks.Set(float64(n))
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
