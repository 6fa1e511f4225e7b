// Package metrics exposes a small Prometheus registry for the
// orchestrator: pending-queue depth, active-worker count, and tasks by
// terminal status. Supplemental to spec.md; does not affect scheduling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the orchestrator's gauges and counters on a private
// Prometheus registry. The three metrics are fixed fields, created and
// registered together in New.
type Registry struct {
	reg *prometheus.Registry

	pendingTasks  prometheus.Gauge
	activeWorkers prometheus.Gauge
	tasksByStatus *prometheus.CounterVec
}

// New builds and registers the orchestrator's metric set.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		pendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "distask",
			Subsystem: "orchestrator",
			Name:      "pending_tasks",
			Help:      "Number of tasks currently in the pending queue.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "distask",
			Subsystem: "orchestrator",
			Name:      "active_workers",
			Help:      "Number of workers considered active by the liveness monitor.",
		}),
		tasksByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distask",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal status, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.pendingTasks, m.activeWorkers, m.tasksByStatus)
	return m
}

// SetPendingTasks reports the current pending-queue depth.
func (m *Registry) SetPendingTasks(n int) { m.pendingTasks.Set(float64(n)) }

// SetActiveWorkers reports the current active-worker count.
func (m *Registry) SetActiveWorkers(n int) { m.activeWorkers.Set(float64(n)) }

// ObserveTerminal records that a task reached status (COMPLETED or FAILED).
func (m *Registry) ObserveTerminal(status string) { m.tasksByStatus.WithLabelValues(status).Inc() }

// Handler returns the HTTP handler serving this registry's metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
