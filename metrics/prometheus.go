package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shortlist"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// Exporter exposes a Collector's counters to Prometheus.
// Values are read from a fresh Snapshot on every scrape.
type Exporter struct {
	source *Collector
	descs  []counterDesc
}

func newCounter(name, help string, value func(Snapshot) int64) counterDesc {
	return counterDesc{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", name),
			help,
			nil,
			prometheus.Labels{},
		),
		value: value,
	}
}

// NewExporter wraps c for registration with a prometheus.Registerer.
func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		source: c,
		descs: []counterDesc{
			newCounter("setups_attempted_total", "Setup actions sent to the screening service.",
				func(s Snapshot) int64 { return s.SetupsAttempted }),
			newCounter("setups_committed_total", "Setup actions that reached committed.",
				func(s Snapshot) int64 { return s.SetupsCommitted }),
			newCounter("setup_conflicts_total", "Already-set conflicts recovered as success.",
				func(s Snapshot) int64 { return s.SetupConflicts }),
			newCounter("setups_failed_total", "Setup actions that failed.",
				func(s Snapshot) int64 { return s.SetupsFailed }),
			newCounter("batches_started_total", "Upload batch runs started.",
				func(s Snapshot) int64 { return s.BatchesStarted }),
			newCounter("batches_completed_total", "Upload batch runs that settled every task.",
				func(s Snapshot) int64 { return s.BatchesCompleted }),
			newCounter("batches_partial_total", "Completed batch runs with at least one failed task.",
				func(s Snapshot) int64 { return s.BatchesPartial }),
			newCounter("batches_cancelled_total", "Upload batch runs cancelled by a session change.",
				func(s Snapshot) int64 { return s.BatchesCancelled }),
			newCounter("tasks_succeeded_total", "Upload tasks that succeeded.",
				func(s Snapshot) int64 { return s.TasksSucceeded }),
			newCounter("tasks_failed_total", "Upload tasks that failed.",
				func(s Snapshot) int64 { return s.TasksFailed }),
			newCounter("tasks_discarded_total", "Upload outcomes dropped after cancellation.",
				func(s Snapshot) int64 { return s.TasksDiscarded }),
			newCounter("resets_total", "Session resets.",
				func(s Snapshot) int64 { return s.Resets }),
			newCounter("reset_failures_total", "Session resets whose server call failed.",
				func(s Snapshot) int64 { return s.ResetFailures }),
			newCounter("stale_results_total", "Results swallowed because the session moved on.",
				func(s Snapshot) int64 { return s.StaleResults }),
		},
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.source.Snapshot()
	for _, d := range e.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(d.value(snap)))
	}
}

var _ prometheus.Collector = (*Exporter)(nil)
