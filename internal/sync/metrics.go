package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "teamsync"

// Run and record outcomes used as metric labels.
const (
	outcomeCompleted   = "completed"
	outcomeEmpty       = "empty"
	outcomeFailed      = "failed"
	outcomeInterrupted = "interrupted"
	outcomeSucceeded   = "succeeded"
	outcomeSkipped     = "skipped"
)

var (
	syncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by outcome",
		},
		[]string{"outcome"},
	)

	syncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Queued records handled by sync runs, by outcome",
		},
		[]string{"outcome"},
	)

	syncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Time to replay the queue",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	syncQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "queue_size",
			Help:      "Number of queued records by status",
		},
		[]string{"status"},
	)
)

func recordRun(outcome string, duration time.Duration) {
	syncRuns.WithLabelValues(outcome).Inc()
	if outcome != outcomeEmpty {
		syncRunDuration.Observe(duration.Seconds())
	}
}

func recordRecord(outcome string) {
	syncRecords.WithLabelValues(outcome).Inc()
}

// RecordQueueStats updates the queue size gauges from store counts.
func RecordQueueStats(stats map[string]int) {
	syncQueueSize.WithLabelValues("pending").Set(float64(stats["pending"]))
	syncQueueSize.WithLabelValues("failed").Set(float64(stats["failed"]))
}
