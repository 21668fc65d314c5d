package taskqueue

import "github.com/Swind/go-task-queue/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskqueue package for most use cases.

// Task is the unit of work: a function, an opaque context and an id
type Task = core.Task

// TaskFunc is the signature of a task body
type TaskFunc = core.TaskFunc

// TaskQueue is the concurrent queue workers drain
type TaskQueue = core.TaskQueue

// Continuation is a completion barrier over a set of tasks
type Continuation = core.Continuation

// Dispatcher is the handle passed to every task body
type Dispatcher = core.Dispatcher

// DequeueResult is the outcome of TryDequeueAndRun
type DequeueResult = core.DequeueResult

// QueueConfig holds the tunables and handlers of a TaskQueue
type QueueConfig = core.QueueConfig

// Allocator provides the backing storage of a TaskQueue
type Allocator = core.Allocator

// TypedTaskFunc is a task body whose context is a *T
type TypedTaskFunc[T any] = core.TypedTaskFunc[T]

// Dequeue results
const (
	Success = core.Success
	Empty   = core.Empty
	Stop    = core.Stop
)

// Errors
var (
	ErrCapacityExhausted        = core.ErrCapacityExhausted
	ErrQueueDisposed            = core.ErrQueueDisposed
	ErrContinuationUnderflow    = core.ErrContinuationUnderflow
	ErrResetWhileBusy           = core.ErrResetWhileBusy
	ErrNilTaskFunction          = core.ErrNilTaskFunction
	ErrInvalidContinuationCount = core.ErrInvalidContinuationCount
	ErrContinuationInUse        = core.ErrContinuationInUse
	ErrEnqueuedAfterStop        = core.ErrEnqueuedAfterStop
)

var (
	NewTaskQueue           = core.NewTaskQueue
	NewTaskQueueWithConfig = core.NewTaskQueueWithConfig
	DefaultQueueConfig     = core.DefaultQueueConfig
	NewPooledAllocator     = core.NewPooledAllocator
	QueueOf                = core.QueueOf
	RunWorker              = core.RunWorker
)

// TryEnqueueTypedRange enqueues a range of tasks sharing a typed context.
func TryEnqueueTypedRange[T any](q *TaskQueue, fn TypedTaskFunc[T], taskContext *T, start, end int64, cont *Continuation) bool {
	return core.TryEnqueueTypedRange(q, fn, taskContext, start, end, cont)
}

// TypedTask builds a Task around a typed body.
func TypedTask[T any](fn TypedTaskFunc[T], taskContext *T, id int64) Task {
	return core.TypedTask(fn, taskContext, id)
}
