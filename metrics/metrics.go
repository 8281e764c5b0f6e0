// Package metrics exposes Prometheus collectors for the orchestration
// pipeline. Collectors are registered on the default registry; the gateway
// serves them at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/task"
)

var (
	// TasksTotal counts finished tasks by terminal outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripstream",
		Subsystem: "tasks",
		Name:      "finished_total",
		Help:      "Tasks finished, by terminal status.",
	}, []string{"status", "kind"})

	// TasksActive tracks tasks currently running in the worker pool.
	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripstream",
		Subsystem: "tasks",
		Name:      "active",
		Help:      "Tasks currently executing.",
	})

	// TaskDuration observes end-to-end task runtime by outcome.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tripstream",
		Subsystem: "tasks",
		Name:      "duration_seconds",
		Help:      "End-to-end task duration.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~4m
	}, []string{"status"})

	// GatherSourceTotal counts per-source gather outcomes.
	GatherSourceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripstream",
		Subsystem: "gather",
		Name:      "source_total",
		Help:      "Per-source gather outcomes (live vs synthesized).",
	}, []string{"source", "outcome", "reason"})

	// ProgressSubscribers tracks attached live progress subscribers.
	ProgressSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripstream",
		Subsystem: "progress",
		Name:      "subscribers",
		Help:      "Live progress stream subscribers.",
	})
)

// ObserveTaskFinished records a terminal transition.
func ObserveTaskFinished(t task.Task, started time.Time) {
	TasksTotal.WithLabelValues(string(t.Status), string(t.Kind)).Inc()
	TaskDuration.WithLabelValues(string(t.Status)).Observe(time.Since(started).Seconds())
}

// GatherObserver adapts the collectors to the gather coordinator's observer
// hook.
func GatherObserver(source provider.Source, synthesized bool, reason provider.Reason) {
	outcome := "live"
	reasonLabel := ""
	if synthesized {
		outcome = "synthesized"
		reasonLabel = string(reason)
	}
	GatherSourceTotal.WithLabelValues(string(source), outcome, reasonLabel).Inc()
}
