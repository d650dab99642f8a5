package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/presswire/contentqueue/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	PlannerItems         *prometheus.CounterVec
	PlannerContextErrors prometheus.Counter
	WorkerItems          *prometheus.CounterVec
	WorkerItemDuration   *prometheus.HistogramVec
	WorkerBatches        *prometheus.CounterVec
	StaleLocksReleased   prometheus.Counter
	GenerationTokens     prometheus.Counter
	QueueItems           *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlannerItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_items_total",
			Help: "Queue items considered by the planner, by result (planned or skipped).",
		}, []string{"result"}),

		PlannerContextErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_context_errors_total",
			Help: "Contexts whose planning failed.",
		}),

		WorkerItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_items_total",
			Help: "Queue items handled by the worker, by channel and outcome.",
		}, []string{"channel", "outcome"}),

		WorkerItemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_item_duration_seconds",
			Help:    "Execution time of a single queue item from lock to final transition.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"channel"}),

		WorkerBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_batches_total",
			Help: "Completed worker batches, by stop reason.",
		}, []string{"stop_reason"}),

		StaleLocksReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_stale_locks_released_total",
			Help: "Locks force-released after exceeding the lock TTL.",
		}),

		GenerationTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generation_tokens_total",
			Help: "Tokens consumed by content generation.",
		}),

		QueueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_items",
			Help: "Queue items by status at the last stats request.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.PlannerItems,
		m.PlannerContextErrors,
		m.WorkerItems,
		m.WorkerItemDuration,
		m.WorkerBatches,
		m.StaleLocksReleased,
		m.GenerationTokens,
		m.QueueItems,
	)

	return m
}

// The methods below have the signatures of the planner and worker hook
// fields so main can pass them as method values and those packages stay
// import-free of prometheus.

func (m *Metrics) ObserveItem(ch domain.Channel, outcome string, elapsed time.Duration) {
	m.WorkerItems.WithLabelValues(string(ch), outcome).Inc()
	m.WorkerItemDuration.WithLabelValues(string(ch)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBatch(stopReason string) {
	m.WorkerBatches.WithLabelValues(stopReason).Inc()
}

func (m *Metrics) ObserveStaleLocks(n int) {
	m.StaleLocksReleased.Add(float64(n))
}

func (m *Metrics) ObserveTokens(n int) {
	m.GenerationTokens.Add(float64(n))
}

func (m *Metrics) ObservePlannerItem(result string) {
	m.PlannerItems.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePlannerContextError() {
	m.PlannerContextErrors.Inc()
}

// SetQueueDepth publishes a status count snapshot.
func (m *Metrics) SetQueueDepth(counts map[domain.Status]int) {
	for status, n := range counts {
		m.QueueItems.WithLabelValues(string(status)).Set(float64(n))
	}
}
