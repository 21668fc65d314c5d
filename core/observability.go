package core

import "time"

// QueueStats represents runtime observability state for a task queue.
type QueueStats struct {
	Name              string
	Capacity          int
	Pending           int
	Active            int
	OpenContinuations int
	Enqueued          int64
	Executed          int64
	Rejected          int64
	Growths           int64
	Panics            int64
	Stopped           bool
	Disposed          bool
}

// DispatcherStats represents runtime observability state for a thread dispatcher.
type DispatcherStats struct {
	ID          string
	Workers     int
	Dispatching bool
	Dispatches  int64
}

// WorkerStats is what one RunWorker call did before it observed Stop.
type WorkerStats struct {
	WorkerIndex int
	Executed    int64
	EmptyPolls  int64
	IdleWaits   int64
	Elapsed     time.Duration
}
