package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowsync/flowsync/common/models"
)

// StepStats aggregates step outcomes per node type
type StepStats struct {
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// Snapshot is a point-in-time view of all engine counters
type Snapshot struct {
	ExecutionsStarted   int64                         `json:"executions_started"`
	ExecutionsCompleted int64                         `json:"executions_completed"`
	ExecutionsFailed    int64                         `json:"executions_failed"`
	JobsProcessed       int64                         `json:"jobs_processed"`
	Retries             int64                         `json:"retries"`
	DeadLettered        int64                         `json:"dead_lettered"`
	PublisherRejections int64                         `json:"publisher_rejections"`
	TriggersFired       int64                         `json:"triggers_fired"`
	Steps               map[models.NodeType]StepStats `json:"steps"`
}

// Metrics holds engine counters. Writes are fire-and-forget from the
// core's perspective and never affect control flow.
type Metrics struct {
	registry *prometheus.Registry

	executionsStarted   prometheus.Counter
	executionsCompleted prometheus.Counter
	executionsFailed    prometheus.Counter
	jobsProcessed       prometheus.Counter
	retries             prometheus.Counter
	deadLettered        prometheus.Counter
	publisherRejections prometheus.Counter
	triggersFired       prometheus.Counter
	stepDuration        *prometheus.HistogramVec
	queueDepth          prometheus.Gauge

	mu   sync.Mutex
	snap Snapshot
}

// New creates and registers all engine collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_executions_started_total",
			Help: "Workflow executions started.",
		}),
		executionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_executions_completed_total",
			Help: "Workflow executions completed successfully.",
		}),
		executionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_executions_failed_total",
			Help: "Workflow executions terminally failed.",
		}),
		jobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_jobs_processed_total",
			Help: "Jobs pulled off the queue and dispatched.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_job_retries_total",
			Help: "Job retry attempts scheduled.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_jobs_dead_lettered_total",
			Help: "Jobs routed to the dead-letter sink.",
		}),
		publisherRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_publisher_rejections_total",
			Help: "Publications dropped by backpressure admission.",
		}),
		triggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_triggers_fired_total",
			Help: "Cron triggers fired by the scheduler.",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowsync_step_duration_seconds",
			Help:    "Step handler execution duration, keyed by node type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowsync_queue_depth",
			Help: "Live count of pending queue rows.",
		}),
	}

	reg.MustRegister(
		m.executionsStarted, m.executionsCompleted, m.executionsFailed,
		m.jobsProcessed, m.retries, m.deadLettered,
		m.publisherRejections, m.triggersFired,
		m.stepDuration, m.queueDepth,
	)

	m.snap.Steps = make(map[models.NodeType]StepStats)
	return m
}

// Handler serves the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExecutionStarted counts a new execution
func (m *Metrics) ExecutionStarted() {
	m.executionsStarted.Inc()
	m.mu.Lock()
	m.snap.ExecutionsStarted++
	m.mu.Unlock()
}

// ExecutionFinished counts a terminal execution transition
func (m *Metrics) ExecutionFinished(status models.ExecutionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch status {
	case models.ExecutionCompleted:
		m.executionsCompleted.Inc()
		m.snap.ExecutionsCompleted++
	case models.ExecutionFailed:
		m.executionsFailed.Inc()
		m.snap.ExecutionsFailed++
	}
}

// JobProcessed counts a dispatched job
func (m *Metrics) JobProcessed() {
	m.jobsProcessed.Inc()
	m.mu.Lock()
	m.snap.JobsProcessed++
	m.mu.Unlock()
}

// JobRetried counts a scheduled retry
func (m *Metrics) JobRetried() {
	m.retries.Inc()
	m.mu.Lock()
	m.snap.Retries++
	m.mu.Unlock()
}

// JobDeadLettered counts a DLQ routing
func (m *Metrics) JobDeadLettered() {
	m.deadLettered.Inc()
	m.mu.Lock()
	m.snap.DeadLettered++
	m.mu.Unlock()
}

// PublisherRejected counts a backpressure drop
func (m *Metrics) PublisherRejected() {
	m.publisherRejections.Inc()
	m.mu.Lock()
	m.snap.PublisherRejections++
	m.mu.Unlock()
}

// TriggerFired counts a scheduler-initiated execution
func (m *Metrics) TriggerFired() {
	m.triggersFired.Inc()
	m.mu.Lock()
	m.snap.TriggersFired++
	m.mu.Unlock()
}

// StepObserved records one step outcome. Step metrics are keyed by node
// type, not step ID.
func (m *Metrics) StepObserved(nodeType models.NodeType, status string, durationMs int64) {
	m.stepDuration.WithLabelValues(string(nodeType), status).Observe(float64(durationMs) / 1000)

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.snap.Steps[nodeType]
	switch status {
	case "completed":
		st.Completed++
	case "failed":
		st.Failed++
	}
	st.TotalDurationMs += durationMs
	m.snap.Steps[nodeType] = st
}

// ObserveQueueDepth records the live pending-row count
func (m *Metrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// Snapshot returns a copy of all counters
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snap
	out.Steps = make(map[models.NodeType]StepStats, len(m.snap.Steps))
	for k, v := range m.snap.Steps {
		out.Steps[k] = v
	}
	return out
}
