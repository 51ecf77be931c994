package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Общий реестр для всех метрик воркера. Локальный, а не глобальный
	// prometheus.DefaultRegistry — наружу отдается через Registry().
	registry = prometheus.NewRegistry()

	stepsProcessed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_worker_steps_processed_total",
			Help: "Total number of pipeline steps processed, partitioned by step.",
		},
		[]string{"step"},
	)
	tasksCompleted = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "story_worker_tasks_completed_total",
			Help: "Total number of generation tasks brought to completion.",
		},
	)
	tasksFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_worker_tasks_failed_total",
			Help: "Total number of generation tasks failed, partitioned by step.",
		},
		[]string{"step"},
	)
	stepDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_worker_step_duration_seconds",
			Help:    "Wall time of a single pipeline step.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"step"},
	)
)

// Registry возвращает реестр метрик воркера для монтирования в /metrics.
func Registry() *prometheus.Registry {
	return registry
}
