// Package taskqueue provides an in-process, multi-worker task queue for
// fine-grained parallel work.
//
// Producers enqueue single tasks or whole ranges of tasks that share one
// function and one context. Workers repeatedly dequeue and run tasks until a
// stop sentinel reaches the head of the queue. A task body may enqueue more
// tasks while other workers are draining, and a Continuation enqueues a
// follow-up task once every task bound to it has returned.
//
// # Quick Start
//
// One epoch over a range, with the stop wired for you:
//
//	d := taskqueue.NewGoroutineDispatcher("physics", 4)
//	q := taskqueue.NewTaskQueue(1024, nil)
//	defer q.Dispose()
//
//	var sum atomic.Int64
//	_, err := taskqueue.ParallelFor(d, q, func(id int64, ctx any, worker int, d taskqueue.Dispatcher) {
//		ctx.(*atomic.Int64).Add(id)
//	}, &sum, 0, 64)
//
// # Key Concepts
//
// TaskQueue: a ring of slots with atomic cursors. Enqueue of a range is all
// or nothing; a full ring grows unless the queue was configured fixed-size,
// in which case the enqueue reports false and the caller picks a retry
// policy.
//
// Continuation: a counter over a set of tasks. The worker that finishes the
// last one enqueues the follow-up. Follow-ups typically enqueue the stop
// sentinel, or the next batch of work.
//
// Stop sentinel: published through the same ordered path as tasks, so work
// enqueued before it is drained first. Every worker that reaches it returns.
//
// Reset and Dispose: Reset empties the queue for the next epoch and keeps its
// storage. Dispose returns the storage to the allocator.
//
// # Thread Safety
//
// Enqueue and dequeue are safe from any goroutine, including task bodies.
// The queue never synchronises the memory a task context points to: tasks
// sharing a context must use atomics or locks for shared writes.
//
// Contract violations (continuation underflow, use after Dispose, Reset while
// work is outstanding) panic with an error wrapping one of the Err* values.
package taskqueue
