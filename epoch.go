package taskqueue

import (
	"fmt"

	"github.com/Swind/go-task-queue/core"
)

// Run dispatches every worker of d over q and returns when all of them have
// observed Stop. Something must eventually call q.EnqueueStop, usually a
// continuation follow-up; otherwise Run does not return.
func Run(d WorkerDispatcher, q *core.TaskQueue) []core.WorkerStats {
	stats := make([]core.WorkerStats, d.WorkerCount())
	d.DispatchWorkers(func(workerIndex int, d core.Dispatcher) {
		stats[workerIndex] = core.RunWorker(core.QueueOf(d), workerIndex, d)
	}, q)
	return stats
}

// ParallelFor runs fn for every id in [start, end) on the workers of d and
// returns once all of them have finished. It is one complete epoch: q is
// Reset, the range is enqueued under a continuation whose follow-up stops
// the queue, and the workers drain it.
//
// Tasks may enqueue more work on q, but only work enqueued before the last
// range task returns is guaranteed to run. Work that must outlive that point
// needs its own continuation chained into the range. Tasks that land behind
// the stop are not run; ParallelFor then returns ErrEnqueuedAfterStop and q
// must not be Reset again. ErrCapacityExhausted is returned when q cannot
// take the range.
func ParallelFor(d WorkerDispatcher, q *core.TaskQueue, fn core.TaskFunc, taskContext any, start, end int64) ([]core.WorkerStats, error) {
	q.Reset()
	if end <= start {
		return nil, nil
	}

	stop := core.Task{Function: func(_ int64, _ any, workerIndex int, d core.Dispatcher) {
		core.QueueOf(d).EnqueueStop(workerIndex, d)
	}}
	if _, ok := q.TryEnqueueForRangeWithContinuation(fn, taskContext, start, end, -1, d, stop); !ok {
		return nil, fmt.Errorf("%w: range [%d, %d) on queue %q (capacity %d)",
			core.ErrCapacityExhausted, start, end, q.Name(), q.Capacity())
	}
	stats := Run(d, q)
	if late := q.PendingAfterStop(); late > 0 {
		return stats, fmt.Errorf("%w: %d tasks on queue %q did not run",
			core.ErrEnqueuedAfterStop, late, q.Name())
	}
	return stats, nil
}

// ParallelForTyped is ParallelFor with a strongly typed context.
func ParallelForTyped[T any](d WorkerDispatcher, q *core.TaskQueue, fn core.TypedTaskFunc[T], taskContext *T, start, end int64) ([]core.WorkerStats, error) {
	if fn == nil {
		return ParallelFor(d, q, nil, taskContext, start, end)
	}
	return ParallelFor(d, q, func(taskID int64, c any, workerIndex int, d core.Dispatcher) {
		fn(taskID, c.(*T), workerIndex, d)
	}, taskContext, start, end)
}
