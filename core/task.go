package core

import "fmt"

// TaskFunc is the body of a scheduled task.
//
// taskID is assigned by the producer (usually the index inside a submitted
// range), taskContext is the producer's payload delivered as-is, workerIndex
// identifies the worker running the task and d is the dispatcher that owns
// the workers. A TaskFunc must not let a panic escape; failures belong in
// state reachable through taskContext.
type TaskFunc func(taskID int64, taskContext any, workerIndex int, d Dispatcher)

// Task is the unit of work stored in a TaskQueue.
type Task struct {
	Function TaskFunc
	// Context is handed to Function untouched. The queue never copies or
	// frees what it points to; it must stay valid until the task (and any
	// continuation it feeds) has finished.
	Context any
	ID      int64
}

// =============================================================================
// Dispatcher: the thread dispatcher as seen from task bodies
// =============================================================================

// Dispatcher is the handle every worker body and task body receives.
// SharedContext is the slot the dispatcher was handed when the workers were
// started; for the workers of a TaskQueue it holds that queue.
type Dispatcher interface {
	WorkerCount() int
	SharedContext() any
}

// QueueOf returns the TaskQueue carried in the dispatcher's shared slot.
// It panics if the slot holds something else.
func QueueOf(d Dispatcher) *TaskQueue {
	if d == nil {
		panic("QueueOf: dispatcher must not be nil")
	}
	q, ok := d.SharedContext().(*TaskQueue)
	if !ok {
		panic(fmt.Sprintf("QueueOf: shared context is %T, not *TaskQueue", d.SharedContext()))
	}
	return q
}

// =============================================================================
// DequeueResult
// =============================================================================

// DequeueResult is the outcome of TryDequeueAndRun.
type DequeueResult int

const (
	// Success: a task was dequeued and has finished running.
	Success DequeueResult = iota

	// Empty: nothing is ready and the queue is not stopped; poll again.
	Empty

	// Stop: the stop sentinel was observed; the worker loop must return.
	Stop
)

func (r DequeueResult) String() string {
	switch r {
	case Success:
		return "success"
	case Empty:
		return "empty"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("DequeueResult(%d)", int(r))
	}
}
