// Package metrics defines the scheduler's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swarm"

// Metrics holds every collector the scheduler updates.
type Metrics struct {
	registry *prometheus.Registry

	TasksDispatched    *prometheus.CounterVec
	TasksCompleted     *prometheus.CounterVec
	TasksReclaimed     *prometheus.CounterVec
	ComponentsWritten  *prometheus.CounterVec
	CoherenceVerdicts  *prometheus.CounterVec
	SubjectsCompleted  prometheus.Counter
	PriorityRebuilds   *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	Workers            *prometheus.GaugeVec
	PriorityIndexSize  prometheus.Gauge
	DispatchDuration   prometheus.Histogram
	SubmissionDuration prometheus.Histogram
}

// New registers all collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers all collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TasksDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks handed to workers, by how they were obtained.",
		}, []string{"source"}), // claimed, planned
		TasksCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Task outcomes recorded by result ingestion.",
		}, []string{"status"}),
		TasksReclaimed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_reclaimed_total",
			Help:      "Stale assigned tasks returned to pending or failed.",
		}, []string{"outcome"}), // requeued, failed
		ComponentsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "components_written_total",
			Help:      "Generated components persisted, by component type.",
		}, []string{"component_type"}),
		CoherenceVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coherence_verdicts_total",
			Help:      "Coherence checks, by method and acceptance.",
		}, []string{"method", "accepted"}),
		SubjectsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subjects_completed_total",
			Help:      "Subjects that became fully analyzed.",
		}),
		PriorityRebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "priority_rebuilds_total",
			Help:      "Full priority index rebuilds, by result.",
		}, []string{"result"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks currently in each status.",
		}, []string{"status"}),
		Workers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Registered workers by derived liveness.",
		}, []string{"status"}),
		PriorityIndexSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "priority_index_entries",
			Help:      "Subjects in the priority index.",
		}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent serving a work request.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		SubmissionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Time spent ingesting a result submission, including coherence checks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 15),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Dispatched counts n tasks obtained from source.
func (m *Metrics) Dispatched(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TasksDispatched.WithLabelValues(source).Add(float64(n))
}

// ObserveDispatch records how long a work request took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(d.Seconds())
}

// ObserveSubmission records how long a submission took.
func (m *Metrics) ObserveSubmission(d time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionDuration.Observe(d.Seconds())
}

// TaskOutcome counts one completion with its resulting status.
func (m *Metrics) TaskOutcome(status domain.TaskStatus) {
	if m == nil {
		return
	}
	m.TasksCompleted.WithLabelValues(string(status)).Inc()
}

// ComponentWritten counts one persisted component.
func (m *Metrics) ComponentWritten(t domain.ComponentType) {
	if m == nil {
		return
	}
	m.ComponentsWritten.WithLabelValues(string(t)).Inc()
}

// CoherenceVerdict counts one coherence check.
func (m *Metrics) CoherenceVerdict(method string, accepted bool) {
	if m == nil {
		return
	}
	m.CoherenceVerdicts.WithLabelValues(method, strconv.FormatBool(accepted)).Inc()
}

// SubjectCompleted counts a subject reaching full analysis.
func (m *Metrics) SubjectCompleted() {
	if m == nil {
		return
	}
	m.SubjectsCompleted.Inc()
}

// Reclaimed counts the outcome of a stale-task sweep.
func (m *Metrics) Reclaimed(requeued, failed int64) {
	if m == nil {
		return
	}
	m.TasksReclaimed.WithLabelValues("requeued").Add(float64(requeued))
	m.TasksReclaimed.WithLabelValues("failed").Add(float64(failed))
}

// PriorityRebuilt counts a rebuild and records the resulting index size.
func (m *Metrics) PriorityRebuilt(err error, entries int) {
	if m == nil {
		return
	}
	if err != nil {
		m.PriorityRebuilds.WithLabelValues("error").Inc()
		return
	}
	m.PriorityRebuilds.WithLabelValues("ok").Inc()
	m.PriorityIndexSize.Set(float64(entries))
}

// SetQueueDepth publishes task counts. Statuses absent from counts read 0.
func (m *Metrics) SetQueueDepth(counts map[domain.TaskStatus]int64) {
	if m == nil {
		return
	}
	for _, s := range domain.AllTaskStatuses {
		m.QueueDepth.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// SetWorkers publishes worker counts by liveness.
func (m *Metrics) SetWorkers(counts map[domain.WorkerStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []domain.WorkerStatus{domain.WorkerStatusActive, domain.WorkerStatusStale, domain.WorkerStatusOffline} {
		m.Workers.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// SetPriorityIndexSize records the number of index entries.
func (m *Metrics) SetPriorityIndexSize(n int64) {
	if m == nil {
		return
	}
	m.PriorityIndexSize.Set(float64(n))
}
