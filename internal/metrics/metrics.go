// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsispanel_backups_total",
			Help: "Backups reaching a terminal state, by status and trigger",
		},
		[]string{"status", "trigger"},
	)

	restoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsispanel_restores_total",
			Help: "Restore operations reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	schedulerPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsispanel_scheduler_passes_total",
		Help: "Scheduler passes that acquired the pass lock",
	})

	schedulerCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsispanel_scheduler_candidates_total",
			Help: "Scheduler candidates by outcome (created, skipped, failed)",
		},
		[]string{"outcome"},
	)

	reapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vsispanel_reaped_total",
			Help: "Records force-failed by the stuck-job reaper, by kind",
		},
		[]string{"kind"},
	)

	engineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vsispanel_engine_duration_seconds",
			Help:    "Backup engine call duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"op", "result"},
	)

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vsispanel_dispatch_queue_depth",
		Help: "Jobs waiting in the dispatcher queue",
	})
)

func BackupFinished(status, trigger string) {
	backupsTotal.WithLabelValues(status, trigger).Inc()
}

func RestoreFinished(status string) {
	restoresTotal.WithLabelValues(status).Inc()
}

func SchedulerPass() {
	schedulerPassesTotal.Inc()
}

func SchedulerCandidate(outcome string) {
	schedulerCandidatesTotal.WithLabelValues(outcome).Inc()
}

func Reaped(kind string, n int) {
	if n > 0 {
		reapedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveEngine records the duration of one engine call since start.
func ObserveEngine(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	engineDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
