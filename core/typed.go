package core

// TypedTaskFunc is a task body whose context is a *T.
type TypedTaskFunc[T any] func(taskID int64, taskContext *T, workerIndex int, d Dispatcher)

func (fn TypedTaskFunc[T]) erase() TaskFunc {
	return func(taskID int64, taskContext any, workerIndex int, d Dispatcher) {
		fn(taskID, taskContext.(*T), workerIndex, d)
	}
}

// TryEnqueueTypedRange is TryEnqueueForRange for a strongly typed context.
// The pointer is delivered to every task as-is; nothing is copied.
func TryEnqueueTypedRange[T any](q *TaskQueue, fn TypedTaskFunc[T], taskContext *T, start, end int64, cont *Continuation) bool {
	if fn == nil {
		contractViolation(ErrNilTaskFunction, "queue %q", q.name)
	}
	return q.TryEnqueueForRange(fn.erase(), taskContext, start, end, cont)
}

// TypedTask builds a Task, typically a continuation follow-up, around a
// typed body.
func TypedTask[T any](fn TypedTaskFunc[T], taskContext *T, id int64) Task {
	if fn == nil {
		return Task{Context: taskContext, ID: id}
	}
	return Task{Function: fn.erase(), Context: taskContext, ID: id}
}
