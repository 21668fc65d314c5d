// Package stress drives a task queue with a workload built to catch delivery
// bugs: root tasks spawn child batches of two differently shaped contexts
// under continuations, the producer races the workers on a bounded ring, and
// the accumulated sum of every run is compared against a serial reference.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/creasty/defaults"
	"go.uber.org/zap"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/core"
)

// ErrMismatch is returned when a run's sum differs from the reference.
var ErrMismatch = errors.New("stress: sum mismatch")

// ErrDelivery is returned when an epoch observed a follow-up running before
// its batch finished, or a task body panicked.
var ErrDelivery = errors.New("stress: delivery violation")

var errQueueFull = errors.New("queue full")

// Options configures a Harness. Zero fields take the tagged defaults.
type Options struct {
	Workers      int `default:"4"`
	Tasks        int `default:"4096"`
	Iterations   int `default:"10"`
	SpawnEvery   int `default:"8"`
	BatchSize    int `default:"8"`
	EnqueueChunk int `default:"256"`
	Capacity     int `default:"1024"`

	// SubmitTimeout bounds how long one submission keeps retrying against a
	// full queue before the epoch gives up with ErrCapacityExhausted.
	SubmitTimeout time.Duration `default:"5s"`

	// Queue configures the queue. nil means core.DefaultQueueConfig with
	// the harness logger.
	Queue  *core.QueueConfig
	Logger *zap.Logger
}

// Result describes one epoch.
type Result struct {
	Iteration  int
	Sum        int64
	Executed   int64
	Spawned    int64
	FollowUps  int64
	Violations int64
	Panics     int64
	Capacity   int
	Elapsed    time.Duration
	Workers    []core.WorkerStats
}

// Harness owns a queue and a dispatcher and runs stress epochs on them.
type Harness struct {
	opts   Options
	q      *core.TaskQueue
	d      *taskqueue.GoroutineDispatcher
	logger *zap.Logger
}

// New builds a harness. Close releases its queue.
func New(opts Options) (*Harness, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("stress options: %w", err)
	}
	if opts.Workers <= 0 || opts.Tasks <= 0 || opts.SpawnEvery <= 0 ||
		opts.BatchSize <= 0 || opts.EnqueueChunk <= 0 || opts.Capacity <= 0 {
		return nil, fmt.Errorf("stress options: counts must be positive: %+v", opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	qc := opts.Queue
	if qc == nil {
		qc = core.DefaultQueueConfig()
		qc.Logger = core.NewZapLogger(opts.Logger)
		qc.PanicHandler = &core.LoggingPanicHandler{Logger: qc.Logger}
	}

	d := taskqueue.NewGoroutineDispatcher(qc.Name, opts.Workers)
	d.SetLogger(core.NewZapLogger(opts.Logger))

	return &Harness{
		opts:   opts,
		q:      core.NewTaskQueueWithConfig(opts.Capacity, nil, qc),
		d:      d,
		logger: opts.Logger.Named("stress"),
	}, nil
}

// Queue returns the harness queue.
func (h *Harness) Queue() *core.TaskQueue { return h.q }

// Dispatcher returns the harness dispatcher.
func (h *Harness) Dispatcher() *taskqueue.GoroutineDispatcher { return h.d }

// Options returns the options with defaults applied.
func (h *Harness) Options() Options { return h.opts }

// Close disposes the queue.
func (h *Harness) Close() { h.q.Dispose() }

// Run executes Options.Iterations epochs on the same queue, resetting it
// between them, and checks every sum against Reference.
func (h *Harness) Run(ctx context.Context) ([]Result, error) {
	want := Reference(h.opts)
	results := make([]Result, 0, h.opts.Iterations)

	for i := range h.opts.Iterations {
		res, err := h.RunEpoch(ctx, i)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Sum != want {
			return results, fmt.Errorf("%w: iteration %d got %d, want %d", ErrMismatch, i, res.Sum, want)
		}
	}
	return results, nil
}

// RunEpoch runs the workload once. Worker 0 produces the root tasks in
// chunks before joining the others in the dispatch loop.
func (h *Harness) RunEpoch(ctx context.Context, iteration int) (Result, error) {
	h.q.Reset()

	e := &epoch{h: h, ctx: ctx}
	e.outstanding.Store(int64(h.opts.Tasks))

	h.logger.Debug("epoch starting",
		zap.Int("iteration", iteration),
		zap.Int("tasks", h.opts.Tasks),
		zap.Int("workers", h.d.WorkerCount()))

	start := time.Now()
	workers := make([]core.WorkerStats, h.d.WorkerCount())
	h.d.DispatchWorkers(func(workerIndex int, d core.Dispatcher) {
		if workerIndex == 0 {
			e.produce(workerIndex, d)
		}
		workers[workerIndex] = core.RunWorker(core.QueueOf(d), workerIndex, d)
	}, h.q)

	qs := h.q.Stats()
	res := Result{
		Iteration:  iteration,
		Sum:        e.sum.Load(),
		Executed:   qs.Executed,
		Spawned:    e.spawned.Load(),
		FollowUps:  e.followUps.Load(),
		Violations: e.violations.Load(),
		Panics:     qs.Panics,
		Capacity:   qs.Capacity,
		Elapsed:    time.Since(start),
		Workers:    workers,
	}

	h.logger.Info("epoch finished",
		zap.Int("iteration", iteration),
		zap.Int64("sum", res.Sum),
		zap.Int64("executed", res.Executed),
		zap.Int("capacity", res.Capacity),
		zap.Duration("elapsed", res.Elapsed))

	if err := e.err(); err != nil {
		return res, err
	}
	if res.Violations > 0 || res.Panics > 0 {
		return res, fmt.Errorf("%w: iteration %d: %d early follow-ups, %d panics",
			ErrDelivery, iteration, res.Violations, res.Panics)
	}
	return res, nil
}

// Verify runs one epoch with opts.Workers workers and one with a single
// worker and checks both against Reference.
func Verify(ctx context.Context, opts Options) (multi, single Result, err error) {
	if err = defaults.Set(&opts); err != nil {
		return multi, single, fmt.Errorf("stress options: %w", err)
	}
	opts.Iterations = 1
	run := func(workers int) (Result, error) {
		o := opts
		o.Workers = workers
		h, err := New(o)
		if err != nil {
			return Result{}, err
		}
		defer h.Close()
		return h.RunEpoch(ctx, 0)
	}

	if multi, err = run(opts.Workers); err != nil {
		return multi, single, err
	}
	if single, err = run(1); err != nil {
		return multi, single, err
	}
	if multi.Sum != single.Sum {
		return multi, single, fmt.Errorf("%w: %d workers got %d, 1 worker got %d",
			ErrMismatch, opts.Workers, multi.Sum, single.Sum)
	}
	if want := Reference(opts); multi.Sum != want {
		return multi, single, fmt.Errorf("%w: got %d, reference %d", ErrMismatch, multi.Sum, want)
	}
	return multi, single, nil
}

// epoch is the shared context of every root task of one run.
type epoch struct {
	h   *Harness
	ctx context.Context

	sum         atomic.Int64
	outstanding atomic.Int64
	spawned     atomic.Int64
	followUps   atomic.Int64
	violations  atomic.Int64

	errMu    sync.Mutex
	firstErr error
}

func (e *epoch) fail(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.firstErr == nil {
		e.firstErr = err
	}
}

func (e *epoch) err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.firstErr
}

// finish retires n units of work. The unit that brings the count to zero
// stops the queue.
func (e *epoch) finish(n int64, workerIndex int, d core.Dispatcher) {
	if e.outstanding.Add(-n) == 0 {
		core.QueueOf(d).EnqueueStop(workerIndex, d)
	}
}

func (e *epoch) produce(workerIndex int, d core.Dispatcher) {
	total := int64(e.h.opts.Tasks)
	chunk := int64(e.h.opts.EnqueueChunk)

	for start := int64(0); start < total; start += chunk {
		end := min(start+chunk, total)
		err := e.submit(workerIndex, d, func() bool {
			return core.TryEnqueueTypedRange(e.h.q, rootTask, e, start, end, nil)
		})
		if err != nil {
			e.fail(fmt.Errorf("roots [%d, %d): %w", start, total, err))
			e.finish(total-start, workerIndex, d)
			return
		}
	}
}

// submit retries try with exponential backoff, helping the workers drain
// the queue between attempts.
func (e *epoch) submit(workerIndex int, d core.Dispatcher, try func() bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond

	_, err := backoff.Retry(e.ctx, func() (struct{}, error) {
		if try() {
			return struct{}{}, nil
		}
		e.h.q.TryDequeueAndRun(workerIndex, d)
		return struct{}{}, errQueueFull
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(e.h.opts.SubmitTimeout))
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrCapacityExhausted, err)
	}
	return nil
}

func rootTask(taskID int64, e *epoch, workerIndex int, d core.Dispatcher) {
	defer e.finish(1, workerIndex, d)

	e.sum.Add(rootValue(taskID))
	if taskID%int64(e.h.opts.SpawnEvery) != 0 {
		return
	}

	batch := int64(e.h.opts.BatchSize)
	// two batches plus their follow-ups, counted before this task retires
	e.outstanding.Add(2 * (batch + 1))

	narrow := newNarrowPayload(e, taskID)
	e.spawn(workerIndex, d, narrowTask, narrow, core.Task{Function: narrowDone, Context: narrow, ID: taskID})

	wide := newWidePayload(e, taskID)
	e.spawn(workerIndex, d, wideTask, wide, core.Task{Function: wideDone, Context: wide, ID: taskID})
}

func (e *epoch) spawn(workerIndex int, d core.Dispatcher, fn core.TaskFunc, payload any, followUp core.Task) {
	batch := int64(e.h.opts.BatchSize)
	err := e.submit(workerIndex, d, func() bool {
		_, ok := e.h.q.TryEnqueueForRangeWithContinuation(fn, payload, 0, batch, workerIndex, d, followUp)
		return ok
	})
	if err != nil {
		e.fail(fmt.Errorf("batch of task %d: %w", followUp.ID, err))
		e.finish(batch+1, workerIndex, d)
		return
	}
	e.spawned.Add(batch)
}
