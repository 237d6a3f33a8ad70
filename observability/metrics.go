// Package observability exposes a Prometheus /metrics endpoint for queue
// depth, lease age, generation latency, and budget utilization.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the Prometheus vectors registered for this service. All
// registration happens up front in NewMetrics rather than lazily on first
// use, so /metrics always lists every series even before traffic arrives.
type Metrics struct {
	logger zerolog.Logger
	reg    *prometheus.Registry

	generationTasksTotal   *prometheus.CounterVec
	generationDurationMs   *prometheus.HistogramVec
	generationTokensTotal  *prometheus.CounterVec
	queuePending           *prometheus.GaugeVec
	queueProcessing        *prometheus.GaugeVec
	leaseAgeMs             *prometheus.HistogramVec
	budgetUtilization      *prometheus.GaugeVec
	budgetDenialsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics registry.
func NewMetrics(logger zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		logger: logger.With().Str("component", "metrics").Logger(),
		reg:    reg,
		generationTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualize_generation_tasks_total",
			Help: "Generation worker task completions by outcome.",
		}, []string{"task_type", "provider", "model", "outcome"}),
		generationDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "virtualize_generation_duration_ms",
			Help:    "Generation task wall-clock duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"task_type", "provider", "model", "outcome"}),
		generationTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualize_generation_tokens_total",
			Help: "Tokens consumed by generation tasks.",
		}, []string{"task_type", "provider", "model", "outcome"}),
		queuePending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "virtualize_queue_pending",
			Help: "Pending generation queue tasks by type.",
		}, []string{"task_type"}),
		queueProcessing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "virtualize_queue_processing",
			Help: "In-flight generation queue tasks by type.",
		}, []string{"task_type"}),
		leaseAgeMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "virtualize_lease_age_ms",
			Help:    "Age of a task's lease at completion, in milliseconds.",
			Buckets: []float64{100, 500, 1000, 5000, 30000, 60000, 300000},
		}, []string{"task_type"}),
		budgetUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "virtualize_budget_utilization",
			Help: "Fraction of configured budget consumed for a scope/window.",
		}, []string{"scope_type", "window"}),
		budgetDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualize_budget_denials_total",
			Help: "AI calls denied admission by the Budget Gate.",
		}, []string{"scope_type", "window"}),
	}

	reg.MustRegister(
		m.generationTasksTotal,
		m.generationDurationMs,
		m.generationTokensTotal,
		m.queuePending,
		m.queueProcessing,
		m.leaseAgeMs,
		m.budgetUtilization,
		m.budgetDenialsTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// TrackGeneration records one LLM generation call's outcome, latency and
// token count. The worker passes the call's feature name as taskType.
func (m *Metrics) TrackGeneration(taskType, provider, model, outcome string, latencyMs float64, tokens int64) {
	labels := prometheus.Labels{"task_type": taskType, "provider": provider, "model": model, "outcome": outcome}
	m.generationTasksTotal.With(labels).Inc()
	m.generationDurationMs.With(labels).Observe(latencyMs)
	m.generationTokensTotal.With(labels).Add(float64(tokens))
}

// TrackQueueDepth records the current pending/processing task counts for a
// task type, sampled by the queue store after each enqueue, dequeue,
// completion and failure.
func (m *Metrics) TrackQueueDepth(taskType string, pending, processing int64) {
	m.queuePending.With(prometheus.Labels{"task_type": taskType}).Set(float64(pending))
	m.queueProcessing.With(prometheus.Labels{"task_type": taskType}).Set(float64(processing))
}

// TrackLeaseAge records how long a task held its lease when it completes or fails.
func (m *Metrics) TrackLeaseAge(taskType string, ageMs float64) {
	m.leaseAgeMs.With(prometheus.Labels{"task_type": taskType}).Observe(ageMs)
}

// TrackBudgetUsage records a scope's fractional budget utilization,
// sampled immediately after a settled AICall.
func (m *Metrics) TrackBudgetUsage(scopeType, window string, fraction float64) {
	m.budgetUtilization.With(prometheus.Labels{"scope_type": scopeType, "window": window}).Set(fraction)
}

// TrackBudgetDenial records an admission denied by the Budget Gate.
func (m *Metrics) TrackBudgetDenial(scopeType, window string) {
	m.budgetDenialsTotal.With(prometheus.Labels{"scope_type": scopeType, "window": window}).Inc()
}

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{ErrorLog: prometheusLogAdapter{m.logger}})
	return h.ServeHTTP
}

// prometheusLogAdapter satisfies promhttp.Logger with zerolog.
type prometheusLogAdapter struct {
	logger zerolog.Logger
}

func (a prometheusLogAdapter) Println(v ...any) {
	a.logger.Error().Msg(formatLogArgs(v))
}

func formatLogArgs(v []any) string {
	if len(v) == 0 {
		return ""
	}
	if s, ok := v[0].(string); ok && len(v) == 1 {
		return s
	}
	return "promhttp error"
}
