package core

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const cacheLinePad = 64

// TaskQueue is a bounded multi-producer multi-consumer queue of tasks.
//
// Storage is a power-of-two ring of slots. Every slot carries a sequence
// number that tells producers and consumers whose turn it is:
//
//	sequence == pos          free, position pos may be written
//	sequence == pos+1        published, position pos may be claimed
//	sequence == pos+capacity freed, reusable for the next lap
//
// Producers first reserve room on the occupancy counter (so a whole range is
// admitted or refused), claim consecutive positions with one add on the tail
// cursor and publish each slot with a release store of its sequence.
// Consumers claim the head with a CAS once the head slot is published.
// Go atomics are sequentially consistent, which covers the acquire/release
// pairing the slot protocol needs.
//
// ringMu is only held exclusively to grow, reset or dispose the ring; the
// enqueue and dequeue paths hold its read side while they touch slots and
// never while a task body runs.
type TaskQueue struct {
	name string

	ringMu sync.RWMutex
	slots  []Slot
	mask   uint64

	head     atomic.Uint64
	_        [cacheLinePad]byte
	tail     atomic.Uint64
	_        [cacheLinePad]byte
	occupied atomic.Int64
	_        [cacheLinePad]byte

	stopped  atomic.Bool
	disposed atomic.Bool
	active   atomic.Int64
	// stops counts published stop sentinels; they hold slots until Reset.
	stops atomic.Int64

	continuations continuationStore

	signal      chan struct{}
	allocator   Allocator
	growable    bool
	maxCapacity int
	spinCount   int
	maxIdleWait time.Duration

	panicHandler PanicHandler
	metrics      Metrics
	timed        bool
	logger       Logger

	enqueued atomic.Int64
	executed atomic.Int64
	rejected atomic.Int64
	growths  atomic.Int64
	panics   atomic.Int64
}

// NewTaskQueue creates an empty queue whose ring holds at least capacityHint
// tasks. A nil allocator means HeapAllocator.
func NewTaskQueue(capacityHint int, allocator Allocator) *TaskQueue {
	return NewTaskQueueWithConfig(capacityHint, allocator, DefaultQueueConfig())
}

func NewTaskQueueWithConfig(capacityHint int, allocator Allocator, config *QueueConfig) *TaskQueue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if allocator == nil {
		allocator = HeapAllocator{}
	}

	capacity := roundUpPow2(capacityHint)
	q := &TaskQueue{
		name:         config.Name,
		allocator:    allocator,
		growable:     config.Growable,
		maxCapacity:  config.MaxCapacity,
		spinCount:    config.SpinCount,
		maxIdleWait:  config.MaxIdleWait,
		panicHandler: config.PanicHandler,
		metrics:      config.Metrics,
		logger:       config.Logger,
	}

	// Use defaults if not provided
	if q.name == "" {
		q.name = "queue-" + uuid.NewString()[:8]
	}
	if q.maxCapacity <= 0 {
		q.maxCapacity = defaultMaxCapacity
	}
	q.maxCapacity = roundUpPow2(max(q.maxCapacity, capacity))
	if q.spinCount < 0 {
		q.spinCount = 0
	}
	if q.maxIdleWait <= 0 {
		q.maxIdleWait = defaultMaxIdleWait
	}
	if q.panicHandler == nil {
		q.panicHandler = &DefaultPanicHandler{}
	}
	if q.metrics == nil {
		q.metrics = &NilMetrics{}
	}
	if _, isNil := q.metrics.(*NilMetrics); !isNil {
		q.timed = true
	}
	if q.logger == nil {
		q.logger = NewDefaultLogger()
	}
	signalBuffer := config.SignalBuffer
	if signalBuffer <= 0 {
		signalBuffer = defaultSignalBuffer
	}
	q.signal = make(chan struct{}, signalBuffer)

	q.slots = allocator.AllocateSlots(capacity)
	q.mask = uint64(capacity - 1)
	initSlots(q.slots)
	return q
}

func initSlots(slots []Slot) {
	for i := range slots {
		s := &slots[i]
		s.task = Task{}
		s.cont = nil
		s.stop.Store(false)
		s.sequence.Store(uint64(i))
	}
}

// =============================================================================
// Enqueue
// =============================================================================

// TryEnqueueForRange enqueues end-start tasks sharing fn and taskContext,
// with ids start..end-1. The range is admitted whole or not at all; false
// means the ring is full and could not grow, and the caller decides whether
// to retry.
//
// If cont is non-nil its expected count must already include these tasks.
func (q *TaskQueue) TryEnqueueForRange(fn TaskFunc, taskContext any, start, end int64, cont *Continuation) bool {
	if fn == nil {
		contractViolation(ErrNilTaskFunction, "queue %q", q.name)
	}
	q.checkUsable()
	if end <= start {
		return true
	}
	return q.enqueue(fn, taskContext, start, end-start, cont, false, false)
}

// TryEnqueue enqueues a single task.
func (q *TaskQueue) TryEnqueue(task Task, cont *Continuation) bool {
	return q.TryEnqueueForRange(task.Function, task.Context, task.ID, task.ID+1, cont)
}

// TryEnqueueForRangeWithContinuation allocates a continuation covering the
// range, enqueues the range bound to it and returns it. When the range is
// refused the continuation is released so it does not hold up Reset.
func (q *TaskQueue) TryEnqueueForRangeWithContinuation(fn TaskFunc, taskContext any, start, end int64, workerIndex int, d Dispatcher, onCompletion Task) (*Continuation, bool) {
	if fn == nil {
		contractViolation(ErrNilTaskFunction, "queue %q", q.name)
	}
	cont := q.AllocateContinuation(int(end-start), workerIndex, d, onCompletion)
	if !q.TryEnqueueForRange(fn, taskContext, start, end, cont) {
		q.ReleaseContinuation(cont)
		return nil, false
	}
	return cont, true
}

// ReleaseContinuation abandons a continuation none of whose tasks were
// enqueued, typically after TryEnqueueForRange refused the range. The
// follow-up never runs and the continuation no longer holds up Reset.
// Releasing a continuation that a task has already decremented panics with
// ErrContinuationInUse.
func (q *TaskQueue) ReleaseContinuation(c *Continuation) {
	q.checkUsable()
	if !q.continuations.release(c) {
		contractViolation(ErrContinuationInUse, "queue %q: remaining %d of %d",
			q.name, c.Remaining(), c.expected)
	}
}

// AllocateContinuation reserves a continuation that enqueues onCompletion
// after expectedCount tasks bound to it have finished. A nil
// onCompletion.Function makes it a pure barrier, observable through
// Completed.
//
// The record is published to other workers by the enqueue of the first task
// that references it.
func (q *TaskQueue) AllocateContinuation(expectedCount int, workerIndex int, d Dispatcher, onCompletion Task) *Continuation {
	q.checkUsable()
	if expectedCount <= 0 {
		contractViolation(ErrInvalidContinuationCount, "got %d", expectedCount)
	}
	return q.continuations.allocate(int64(expectedCount), onCompletion, workerIndex)
}

// EnqueueStop publishes the stop sentinel behind everything enqueued so far.
// Workers drain the earlier tasks, then every worker that reaches the
// sentinel gets Stop. Tasks enqueued after the sentinel are accepted but do
// not run in this epoch; they show up in PendingAfterStop and make Reset
// panic. EnqueueStop never fails: it grows the ring if it has to.
func (q *TaskQueue) EnqueueStop(workerIndex int, d Dispatcher) {
	q.checkUsable()
	q.enqueue(nil, nil, 0, 1, nil, true, true)
	q.logger.Debug("stop enqueued", F("queue", q.name), F("worker", workerIndex))
}

func (q *TaskQueue) enqueue(fn TaskFunc, taskContext any, start, n int64, cont *Continuation, stop, force bool) bool {
	for {
		q.ringMu.RLock()
		if q.disposed.Load() {
			q.ringMu.RUnlock()
			contractViolation(ErrQueueDisposed, "queue %q disposed during enqueue", q.name)
		}
		if q.reserve(n) {
			if stop {
				q.stops.Add(1)
			}
			q.publish(fn, taskContext, start, n, cont, stop)
			q.ringMu.RUnlock()

			if stop {
				q.wake(cap(q.signal))
			} else {
				q.enqueued.Add(n)
				q.metrics.RecordTasksEnqueued(q.name, int(n))
				q.wake(int(n))
			}
			return true
		}
		q.ringMu.RUnlock()

		if ok, reason := q.grow(n, force); !ok {
			q.rejected.Add(1)
			q.metrics.RecordEnqueueRejected(q.name, reason)
			q.logger.Debug("enqueue rejected",
				F("queue", q.name), F("tasks", n), F("reason", reason))
			return false
		}
	}
}

// reserve takes n slots on the occupancy counter. Caller holds ringMu.RLock.
func (q *TaskQueue) reserve(n int64) bool {
	capacity := int64(len(q.slots))
	for {
		cur := q.occupied.Load()
		if cur+n > capacity {
			return false
		}
		if q.occupied.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

// publish writes n reserved tasks. Caller holds ringMu.RLock.
//
// A reserved position's slot can still be held by the consumer that claimed
// the previous lap's task and is copying it out; that consumer holds the read
// lock too, so the wait below is short and cannot block on growth.
func (q *TaskQueue) publish(fn TaskFunc, taskContext any, start, n int64, cont *Continuation, stop bool) {
	base := q.tail.Add(uint64(n)) - uint64(n)
	for i := range n {
		pos := base + uint64(i)
		slot := &q.slots[pos&q.mask]
		for slot.sequence.Load() != pos {
			runtime.Gosched()
		}
		slot.task = Task{Function: fn, Context: taskContext, ID: start + i}
		slot.cont = cont
		slot.stop.Store(stop)
		slot.sequence.Store(pos + 1)
	}
}

// grow makes room for n more tasks. It returns true when the caller should
// retry its reservation.
func (q *TaskQueue) grow(n int64, force bool) (bool, string) {
	if !force {
		if n > int64(q.maxCapacity) {
			return false, "too_large"
		}
		if !q.growable {
			return false, "capacity"
		}
	}

	q.ringMu.Lock()
	defer q.ringMu.Unlock()

	if q.disposed.Load() {
		contractViolation(ErrQueueDisposed, "queue %q disposed during growth", q.name)
	}
	capacity := len(q.slots)
	need := q.occupied.Load() + n
	if need <= int64(capacity) {
		return true, ""
	}

	newCap := max(roundUpPow2(int(need)), capacity*2)
	if !force && newCap > q.maxCapacity {
		if need > int64(q.maxCapacity) || capacity >= q.maxCapacity {
			return false, "capacity"
		}
		newCap = q.maxCapacity
	}

	q.relayout(newCap)
	q.growths.Add(1)
	q.metrics.RecordQueueGrowth(q.name, newCap)
	q.logger.Info("task queue grown",
		F("queue", q.name), F("from", capacity), F("to", newCap), F("forced", force))
	return true, ""
}

// relayout moves pending slots into a ring of newCap slots, keeping their
// positions. Caller holds ringMu exclusively, so every position in
// [head, tail) is published and unclaimed.
func (q *TaskQueue) relayout(newCap int) {
	newSlots := q.allocator.AllocateSlots(newCap)
	newMask := uint64(newCap - 1)
	head, tail := q.head.Load(), q.tail.Load()

	for pos := head; pos < tail; pos++ {
		from := &q.slots[pos&q.mask]
		to := &newSlots[pos&newMask]
		to.task = from.task
		to.cont = from.cont
		to.stop.Store(from.stop.Load())
		to.sequence.Store(pos + 1)
	}
	for pos := tail; pos < head+uint64(newCap); pos++ {
		to := &newSlots[pos&newMask]
		to.task = Task{}
		to.cont = nil
		to.stop.Store(false)
		to.sequence.Store(pos)
	}

	old := q.slots
	q.slots = newSlots
	q.mask = newMask
	q.allocator.DeallocateSlots(old)
}

func (q *TaskQueue) wake(n int) {
	for range min(n, cap(q.signal)) {
		select {
		case q.signal <- struct{}{}:
		default:
			// Signal channel full; workers already have enough wake-ups
			return
		}
	}
}

// =============================================================================
// Dequeue
// =============================================================================

// TryDequeueAndRun pops one task and runs it on the calling goroutine.
//
// Success means a task ran to completion, including its continuation
// bookkeeping. Empty means nothing was ready; the caller may poll again.
// Stop means the stop sentinel is at the head and the caller's loop must end.
// The call never blocks beyond the task body.
func (q *TaskQueue) TryDequeueAndRun(workerIndex int, d Dispatcher) DequeueResult {
	q.checkUsable()
	if q.stopped.Load() {
		return Stop
	}

	q.ringMu.RLock()
	if q.disposed.Load() {
		q.ringMu.RUnlock()
		contractViolation(ErrQueueDisposed, "queue %q disposed during dequeue", q.name)
	}
	task, cont, result := q.dequeue()
	q.ringMu.RUnlock()

	if result != Success {
		if result == Stop && !q.stopped.Swap(true) {
			q.logger.Debug("stop observed", F("queue", q.name), F("worker", workerIndex))
		}
		return result
	}

	q.run(task, cont, workerIndex, d)
	return Success
}

// dequeue claims the head slot. Caller holds ringMu.RLock.
func (q *TaskQueue) dequeue() (Task, *Continuation, DequeueResult) {
	for {
		head := q.head.Load()
		slot := &q.slots[head&q.mask]
		seq := slot.sequence.Load()
		dif := int64(seq - (head + 1))

		switch {
		case dif == 0:
			if slot.stop.Load() {
				// The sentinel is never claimed. Re-reading head proves the
				// flag belongs to this position and not to a later lap.
				if q.head.Load() == head {
					return Task{}, nil, Stop
				}
				continue
			}
			if q.head.CompareAndSwap(head, head+1) {
				task, cont := slot.task, slot.cont
				slot.task, slot.cont = Task{}, nil
				q.active.Add(1)
				slot.sequence.Store(head + q.mask + 1)
				q.occupied.Add(-1)
				return task, cont, Success
			}
		case dif < 0:
			// Head slot not published yet
			return Task{}, nil, Empty
		}
		// Another consumer moved head; retry
	}
}

func (q *TaskQueue) run(task Task, cont *Continuation, workerIndex int, d Dispatcher) {
	defer q.active.Add(-1)

	q.invoke(task, workerIndex, d)
	q.executed.Add(1)

	if cont != nil && cont.complete() {
		q.continuations.finished()
		q.metrics.RecordContinuationCompleted(q.name)
		if next := cont.onCompletion; next.Function != nil {
			q.enqueue(next.Function, next.Context, next.ID, 1, nil, false, true)
		}
	}
}

func (q *TaskQueue) invoke(task Task, workerIndex int, d Dispatcher) {
	var started time.Time
	if q.timed {
		started = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			if isContractViolation(r) {
				panic(r)
			}
			q.panics.Add(1)
			q.panicHandler.HandlePanic(q.name, workerIndex, task.ID, r, debug.Stack())
			q.metrics.RecordTaskPanic(q.name, r)
		}
		if q.timed {
			q.metrics.RecordTaskDuration(q.name, time.Since(started))
		}
	}()

	task.Function(task.ID, task.Context, workerIndex, d)
}

func isContractViolation(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	return errors.Is(err, ErrQueueDisposed) ||
		errors.Is(err, ErrContinuationUnderflow) ||
		errors.Is(err, ErrResetWhileBusy) ||
		errors.Is(err, ErrNilTaskFunction) ||
		errors.Is(err, ErrInvalidContinuationCount) ||
		errors.Is(err, ErrContinuationInUse)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Reset empties the queue for the next epoch and keeps its storage. Every
// task and continuation of the previous epoch must have finished; only stop
// sentinels may remain queued. Reset panics with ErrResetWhileBusy
// otherwise, including when tasks were enqueued behind a stop.
func (q *TaskQueue) Reset() {
	q.checkUsable()

	q.ringMu.Lock()
	defer q.ringMu.Unlock()

	if active := q.active.Load(); active != 0 {
		contractViolation(ErrResetWhileBusy, "queue %q has %d running tasks", q.name, active)
	}
	if open := q.continuations.openCount(); open != 0 {
		contractViolation(ErrResetWhileBusy, "queue %q has %d open continuations", q.name, open)
	}

	stops := q.stops.Load()
	if pending := q.occupied.Load() - stops; pending > 0 {
		contractViolation(ErrResetWhileBusy, "queue %q has %d tasks queued behind %d stops", q.name, pending, stops)
	}

	initSlots(q.slots)
	q.head.Store(0)
	q.tail.Store(0)
	q.occupied.Store(0)
	q.stops.Store(0)
	q.stopped.Store(false)
	q.continuations.reset()

	q.enqueued.Store(0)
	q.executed.Store(0)
	q.rejected.Store(0)
	q.growths.Store(0)
	q.panics.Store(0)

	for drained := false; !drained; {
		select {
		case <-q.signal:
		default:
			drained = true
		}
	}

	q.logger.Debug("task queue reset", F("queue", q.name), F("stops", stops))
}

// Dispose returns the ring to the allocator. Any later call on the queue
// panics with ErrQueueDisposed.
func (q *TaskQueue) Dispose() {
	if q.disposed.Swap(true) {
		contractViolation(ErrQueueDisposed, "queue %q disposed twice", q.name)
	}

	q.ringMu.Lock()
	defer q.ringMu.Unlock()

	q.allocator.DeallocateSlots(q.slots)
	q.slots = nil
	q.mask = 0
	q.continuations.dispose()
	q.logger.Debug("task queue disposed", F("queue", q.name))
}

func (q *TaskQueue) checkUsable() {
	if q.disposed.Load() {
		contractViolation(ErrQueueDisposed, "queue %q", q.name)
	}
}

// =============================================================================
// Accessors
// =============================================================================

func (q *TaskQueue) Name() string { return q.name }

// Capacity returns the current number of slots in the ring.
func (q *TaskQueue) Capacity() int {
	q.ringMu.RLock()
	defer q.ringMu.RUnlock()
	return len(q.slots)
}

// Len returns the number of occupied slots, including a stop sentinel and
// ranges still being published.
func (q *TaskQueue) Len() int { return int(q.occupied.Load()) }

func (q *TaskQueue) IsStopped() bool  { return q.stopped.Load() }
func (q *TaskQueue) IsDisposed() bool { return q.disposed.Load() }

// ActiveTaskCount returns the number of tasks currently running.
func (q *TaskQueue) ActiveTaskCount() int { return int(q.active.Load()) }

// PendingAfterStop returns how many tasks are queued beyond the stop
// sentinels. After workers have observed Stop a non-zero value means tasks
// were enqueued after the stop and will not run in this epoch.
func (q *TaskQueue) PendingAfterStop() int {
	return int(max(q.occupied.Load()-q.stops.Load(), 0))
}

// OpenContinuations returns how many continuations have not completed.
func (q *TaskQueue) OpenContinuations() int { return int(q.continuations.openCount()) }

// Stats returns current observability data for this queue.
func (q *TaskQueue) Stats() QueueStats {
	stats := QueueStats{
		Name:              q.name,
		Pending:           q.Len(),
		Active:            q.ActiveTaskCount(),
		OpenContinuations: q.OpenContinuations(),
		Enqueued:          q.enqueued.Load(),
		Executed:          q.executed.Load(),
		Rejected:          q.rejected.Load(),
		Growths:           q.growths.Load(),
		Panics:            q.panics.Load(),
		Stopped:           q.IsStopped(),
		Disposed:          q.IsDisposed(),
	}
	if !stats.Disposed {
		stats.Capacity = q.Capacity()
	}
	return stats
}
