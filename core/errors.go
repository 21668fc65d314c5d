package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExhausted is returned by helpers built on top of
	// TryEnqueueForRange when the queue cannot take the submission.
	ErrCapacityExhausted = errors.New("task queue capacity exhausted")

	// ErrEnqueuedAfterStop is returned by epoch helpers whose workers
	// stopped while tasks were still queued behind the stop sentinel.
	ErrEnqueuedAfterStop = errors.New("tasks enqueued after stop")

	// The remaining errors describe usage-contract violations. The queue
	// panics with an error wrapping one of them; they are never returned.
	ErrQueueDisposed            = errors.New("task queue used after Dispose")
	ErrContinuationUnderflow    = errors.New("continuation decremented past zero")
	ErrResetWhileBusy           = errors.New("task queue reset while work is outstanding")
	ErrNilTaskFunction          = errors.New("task function must not be nil")
	ErrInvalidContinuationCount = errors.New("continuation expected count must be positive")
	ErrContinuationInUse        = errors.New("continuation released while in use")
)

func contractViolation(sentinel error, format string, args ...any) {
	panic(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}
