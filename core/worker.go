package core

import (
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const minIdleWait = 20 * time.Microsecond

// RunWorker is the dispatch loop of one worker: it dequeues and runs tasks
// until the queue reports Stop.
//
// Empty polls are first answered with runtime.Gosched. After SpinCount
// consecutive empty polls the worker waits on the queue's wake signal, with
// a timeout that doubles from 20µs up to MaxIdleWait so a missed wake-up only
// delays it, never parks it. The timeout restarts at 20µs after a task runs
// or a wake-up arrives.
func RunWorker(q *TaskQueue, workerIndex int, d Dispatcher) WorkerStats {
	stats := WorkerStats{WorkerIndex: workerIndex}
	started := time.Now()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	idle := newIdleBackOff(q.maxIdleWait)
	emptyStreak := 0
	for {
		switch q.TryDequeueAndRun(workerIndex, d) {
		case Success:
			stats.Executed++
			emptyStreak = 0
			idle.Reset()
			continue
		case Stop:
			stats.Elapsed = time.Since(started)
			return stats
		}

		stats.EmptyPolls++
		emptyStreak++
		if emptyStreak <= q.spinCount {
			runtime.Gosched()
			continue
		}

		stats.IdleWaits++
		wait := idle.NextBackOff()
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-q.signal:
			timer.Stop()
			idle.Reset()
		case <-timer.C:
		}
	}
}

// newIdleBackOff returns the deterministic doubling schedule of the idle
// wait, capped at maxWait.
func newIdleBackOff(maxWait time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minIdleWait
	b.Multiplier = 2
	b.MaxInterval = max(maxWait, minIdleWait)
	b.RandomizationFactor = 0
	b.Reset()
	return b
}
