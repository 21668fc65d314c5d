package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-task-queue/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// DurationBuckets defaults to exponential buckets from 1µs to ~1s.
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	tasksEnqueuedTotal     *prom.CounterVec
	taskDurationSeconds    *prom.HistogramVec
	taskPanicTotal         *prom.CounterVec
	enqueueRejectedTotal   *prom.CounterVec
	queueGrowthTotal       *prom.CounterVec
	queueCapacity          *prom.GaugeVec
	continuationsCompleted *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskqueue"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.ExponentialBuckets(1e-6, 4, 11)
	}

	enqueuedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_enqueued_total",
		Help:      "Total number of tasks accepted by the queue.",
	}, []string{"queue"})
	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"queue"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"queue"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "enqueue_rejected_total",
		Help:      "Total number of refused submissions.",
	}, []string{"queue", "reason"})
	growthVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "queue_growth_total",
		Help:      "Total number of ring growths.",
	}, []string{"queue"})
	capacityVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_capacity",
		Help:      "Ring capacity after the latest growth.",
	}, []string{"queue"})
	continuationVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "continuations_completed_total",
		Help:      "Total number of continuations that reached zero.",
	}, []string{"queue"})

	var err error
	if enqueuedVec, err = registerCollector(reg, enqueuedVec); err != nil {
		return nil, err
	}
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if growthVec, err = registerCollector(reg, growthVec); err != nil {
		return nil, err
	}
	if capacityVec, err = registerCollector(reg, capacityVec); err != nil {
		return nil, err
	}
	if continuationVec, err = registerCollector(reg, continuationVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		tasksEnqueuedTotal:     enqueuedVec,
		taskDurationSeconds:    durationVec,
		taskPanicTotal:         panicVec,
		enqueueRejectedTotal:   rejectedVec,
		queueGrowthTotal:       growthVec,
		queueCapacity:          capacityVec,
		continuationsCompleted: continuationVec,
	}, nil
}

// RecordTasksEnqueued records accepted submissions.
func (m *MetricsExporter) RecordTasksEnqueued(queueName string, count int) {
	if m == nil {
		return
	}
	m.tasksEnqueuedTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Add(float64(count))
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(queueName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(queueName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordEnqueueRejected records refused submissions.
func (m *MetricsExporter) RecordEnqueueRejected(queueName string, reason string) {
	if m == nil {
		return
	}
	m.enqueueRejectedTotal.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordQueueGrowth records a ring growth and the new capacity.
func (m *MetricsExporter) RecordQueueGrowth(queueName string, newCapacity int) {
	if m == nil {
		return
	}
	name := normalizeLabel(queueName, "unknown")
	m.queueGrowthTotal.WithLabelValues(name).Inc()
	m.queueCapacity.WithLabelValues(name).Set(float64(newCapacity))
}

// RecordContinuationCompleted records a continuation reaching zero.
func (m *MetricsExporter) RecordContinuationCompleted(queueName string) {
	if m == nil {
		return
	}
	m.continuationsCompleted.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
