package core

import (
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task body panics. The queue recovers the
// panic, reports it here and then finishes the task's bookkeeping
// (continuation count, active counter) as if the body had returned.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - queueName: The name of the queue the task was dequeued from
	// - workerIndex: The index of the worker that ran the task
	// - taskID: The producer-assigned id of the task
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(queueName string, workerIndex int, taskID int64, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(queueName string, workerIndex int, taskID int64, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d @ %s] Task %d panic: %v\nStack trace:\n%s",
		workerIndex, queueName, taskID, panicInfo, stackTrace)
}

// LoggingPanicHandler reports panics through a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

func (h *LoggingPanicHandler) HandlePanic(queueName string, workerIndex int, taskID int64, panicInfo any, stackTrace []byte) {
	h.Logger.Error("task panicked",
		F("queue", queueName),
		F("worker", workerIndex),
		F("task_id", taskID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics collects task queue events. Implementations can forward them to
// monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on the hot path and must be non-blocking and fast.
type Metrics interface {
	// RecordTasksEnqueued records a successful submission of count tasks.
	RecordTasksEnqueued(queueName string, count int)

	// RecordTaskDuration records how long a task body took. It is only
	// called when the queue was configured with a non-nil Metrics.
	RecordTaskDuration(queueName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)

	// RecordEnqueueRejected records a submission that was refused.
	// reason is "capacity" or "too_large".
	RecordEnqueueRejected(queueName string, reason string)

	// RecordQueueGrowth records that the ring was grown to newCapacity.
	RecordQueueGrowth(queueName string, newCapacity int)

	// RecordContinuationCompleted records a follow-up task being enqueued.
	RecordContinuationCompleted(queueName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTasksEnqueued(queueName string, count int)             {}
func (m *NilMetrics) RecordTaskDuration(queueName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any)             {}
func (m *NilMetrics) RecordEnqueueRejected(queueName string, reason string)       {}
func (m *NilMetrics) RecordQueueGrowth(queueName string, newCapacity int)         {}
func (m *NilMetrics) RecordContinuationCompleted(queueName string)                {}

// =============================================================================
// QueueConfig: Configuration for TaskQueue
// =============================================================================

const (
	defaultSignalBuffer = 64
	defaultSpinCount    = 64
	defaultMaxIdleWait  = 2 * time.Millisecond
	defaultMaxCapacity  = 1 << 24
)

// QueueConfig holds configuration options for TaskQueue.
// All handlers are optional; if not provided, default implementations will be used.
type QueueConfig struct {
	// Name labels logs, metrics and stats. Defaults to "queue-<random>".
	Name string

	// Growable lets a full ring double its storage instead of refusing the
	// submission. Internal submissions (continuation follow-ups and stop
	// sentinels) always grow.
	Growable bool

	// MaxCapacity caps growth for ordinary submissions. Rounded up to a
	// power of two. Zero means 1<<24 slots.
	MaxCapacity int

	// SignalBuffer is the size of the wake channel idle workers wait on.
	SignalBuffer int

	// SpinCount is how many Empty polls RunWorker yields through before it
	// starts waiting on the wake channel.
	SpinCount int

	// MaxIdleWait caps the wait of an idle worker between polls.
	MaxIdleWait time.Duration

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record queue events. Defaults to NilMetrics.
	Metrics Metrics

	// Logger receives queue lifecycle logs. Defaults to a DefaultLogger at Info.
	Logger Logger
}

// DefaultQueueConfig returns a config with default handlers.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Growable:     true,
		MaxCapacity:  defaultMaxCapacity,
		SignalBuffer: defaultSignalBuffer,
		SpinCount:    defaultSpinCount,
		MaxIdleWait:  defaultMaxIdleWait,
		PanicHandler: &DefaultPanicHandler{},
		Metrics:      &NilMetrics{},
		Logger:       NewDefaultLogger(),
	}
}
