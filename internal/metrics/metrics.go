package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agent_dashboard/internal/model"
)

const namespace = "agentdash"

// Recorder holds the service collectors on a dedicated registry
type Recorder struct {
	registry *prometheus.Registry

	enqueued    prometheus.Counter
	transitions *prometheus.CounterVec
	active      *prometheus.GaugeVec
	stale       prometheus.Gauge
	starved     prometheus.Gauge
	heartbeats  *prometheus.CounterVec
	activity    *prometheus.CounterVec
	archived    prometheus.Counter
}

// New builds a Recorder with process and Go collectors registered
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Number of tasks accepted into the queue",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status",
		}, []string{"status"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Tasks currently PENDING or RUNNING",
		}, []string{"status"}),
		stale: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_stale",
			Help:      "Active tasks whose profile heartbeat is older than the stale threshold",
		}),
		starved: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_starved",
			Help:      "PENDING tasks older than the starvation threshold",
		}),
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_triggers_total",
			Help:      "Heartbeat trigger outcomes",
		}, []string{"result"}),
		activity: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_entries_total",
			Help:      "Activity entries appended by action",
		}, []string{"action"}),
		archived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_archived_total",
			Help:      "Terminal tasks moved to the archive",
		}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// TaskEnqueued counts one accepted task
func (r *Recorder) TaskEnqueued() {
	r.enqueued.Inc()
}

// TaskTransition counts a move to status
func (r *Recorder) TaskTransition(status model.TaskStatus) {
	r.transitions.WithLabelValues(string(status)).Inc()
}

// SetQueueGauges publishes the current queue shape
func (r *Recorder) SetQueueGauges(pending, running, stale, starved int) {
	r.active.WithLabelValues(string(model.TaskStatusPending)).Set(float64(pending))
	r.active.WithLabelValues(string(model.TaskStatusRunning)).Set(float64(running))
	r.stale.Set(float64(stale))
	r.starved.Set(float64(starved))
}

// HeartbeatTrigger counts a heartbeat outcome
func (r *Recorder) HeartbeatTrigger(result string) {
	r.heartbeats.WithLabelValues(result).Inc()
}

// ActivityAppended counts an activity entry
func (r *Recorder) ActivityAppended(action string) {
	r.activity.WithLabelValues(action).Inc()
}

// TasksArchived counts archived tasks
func (r *Recorder) TasksArchived(n int) {
	r.archived.Add(float64(n))
}
