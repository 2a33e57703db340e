// Package metrics exposes process statistics to Prometheus. A Registry
// tracks running process instances; its Collector renders each instance's
// statistics row as a set of labelled gauges on every scrape, which gives
// monitoring tools the periodic-polling view of the fixed statistics
// schema without any push plumbing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/stepchain/pkg/api"
)

// Source is anything that can produce a statistics row. api.ProcessInstance
// satisfies it.
type Source interface {
	Statistics() api.Statistics
}

var (
	stepsTotal = prometheus.NewDesc(
		"stepchain_process_steps_total",
		"Total number of steps in the process chain",
		[]string{"id", "task"}, nil,
	)
	stepsCompleted = prometheus.NewDesc(
		"stepchain_process_steps_completed",
		"Number of steps whose engine reports complete",
		[]string{"id", "task"}, nil,
	)
	taskSuccesses = prometheus.NewDesc(
		"stepchain_process_task_successes_total",
		"Sum of successful work units across all step engines",
		[]string{"id", "task"}, nil,
	)
	taskErrors = prometheus.NewDesc(
		"stepchain_process_task_errors_total",
		"Sum of failed work units across all step engines",
		[]string{"id", "task"}, nil,
	)
	runtimeSeconds = prometheus.NewDesc(
		"stepchain_process_runtime_seconds",
		"Elapsed process runtime in seconds",
		[]string{"id", "task"}, nil,
	)
	progress = prometheus.NewDesc(
		"stepchain_process_progress",
		"Aggregate process progress in [0,1]",
		[]string{"id", "task"}, nil,
	)
)

// Registry tracks process instances for scraping. It implements
// prometheus.Collector and can be registered directly:
//
//	reg := metrics.NewRegistry()
//	prometheus.MustRegister(reg)
//	reg.Track(inst)
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// Ensure Registry implements prometheus.Collector.
var _ prometheus.Collector = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Track adds a source under the given id, replacing any previous source
// with the same id.
func (r *Registry) Track(id string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
}

// Forget removes the source with the given id.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, id)
}

// Rows returns the current statistics row of every tracked source.
func (r *Registry) Rows() []api.Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]api.Statistics, 0, len(r.sources))
	for _, src := range r.sources {
		rows = append(rows, src.Statistics())
	}
	return rows
}

func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- stepsTotal
	ch <- stepsCompleted
	ch <- taskSuccesses
	ch <- taskErrors
	ch <- runtimeSeconds
	ch <- progress
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, row := range r.Rows() {
		labels := []string{row.ID, row.TaskName}
		ch <- prometheus.MustNewConstMetric(stepsTotal, prometheus.GaugeValue, float64(row.Started), labels...)
		ch <- prometheus.MustNewConstMetric(stepsCompleted, prometheus.GaugeValue, float64(row.Completed), labels...)
		ch <- prometheus.MustNewConstMetric(taskSuccesses, prometheus.GaugeValue, float64(row.Successful), labels...)
		ch <- prometheus.MustNewConstMetric(taskErrors, prometheus.GaugeValue, float64(row.Errors), labels...)
		ch <- prometheus.MustNewConstMetric(runtimeSeconds, prometheus.GaugeValue, row.Runtime.Seconds(), labels...)
		ch <- prometheus.MustNewConstMetric(progress, prometheus.GaugeValue, row.PctComplete, labels...)
	}
}
