package core

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type testDispatcher struct {
	workers int
	shared  any
}

func (d *testDispatcher) WorkerCount() int   { return d.workers }
func (d *testDispatcher) SharedContext() any { return d.shared }

func newTestQueue(capacity int, configure func(*QueueConfig)) *TaskQueue {
	config := DefaultQueueConfig()
	config.Logger = NewNoOpLogger()
	if configure != nil {
		configure(config)
	}
	return NewTaskQueueWithConfig(capacity, nil, config)
}

// runWorkers runs RunWorker on `workers` goroutines and waits for all of
// them to observe Stop, failing the test after timeout.
func runWorkers(t *testing.T, q *TaskQueue, workers int, timeout time.Duration) []WorkerStats {
	t.Helper()
	d := &testDispatcher{workers: workers, shared: q}
	stats := make([]WorkerStats, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats[i] = RunWorker(q, i, d)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("workers did not observe Stop within %v (stats: %+v)", timeout, q.Stats())
	}
	return stats
}

// drainSingle runs tasks on the calling goroutine until the queue reports
// something other than Success.
func drainSingle(q *TaskQueue, d Dispatcher) DequeueResult {
	for {
		if r := q.TryDequeueAndRun(0, d); r != Success {
			return r
		}
	}
}

// expectPanic runs fn and returns the error it panicked with.
func expectPanic(t *testing.T, sentinel error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic wrapping %v, got none", sentinel)
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value = %v (%T), want error wrapping %v", r, r, sentinel)
		}
		if !errors.Is(err, sentinel) {
			t.Fatalf("panic error = %v, want wrapping %v", err, sentinel)
		}
	}()
	fn()
}

func stopTask(q *TaskQueue) Task {
	return Task{Function: func(taskID int64, taskContext any, workerIndex int, d Dispatcher) {
		q.EnqueueStop(workerIndex, d)
	}}
}
