package core

import (
	"sync"
	"sync/atomic"
)

const continuationBlockSize = 256

// Continuation is a completion barrier over a set of tasks. Each constituent
// task decrements it exactly once after its body returns; the worker that
// takes the count to zero enqueues OnCompletion.
type Continuation struct {
	remaining    atomic.Int64
	completed    atomic.Bool
	expected     int64
	onCompletion Task
	workerIndex  int
}

// Remaining returns how many constituents have not finished yet.
func (c *Continuation) Remaining() int64 {
	return c.remaining.Load()
}

// Completed reports whether the follow-up task has been enqueued.
func (c *Continuation) Completed() bool {
	return c.completed.Load()
}

// WorkerIndex is the index of the worker that allocated the continuation,
// or -1 when it was allocated outside the worker pool.
func (c *Continuation) WorkerIndex() int {
	return c.workerIndex
}

// complete records one finished constituent. It returns true for the single
// caller that observed the count reaching zero.
func (c *Continuation) complete() bool {
	n := c.remaining.Add(-1)
	if n < 0 {
		contractViolation(ErrContinuationUnderflow, "remaining count is %d", n)
	}
	if n == 0 {
		c.completed.Store(true)
		return true
	}
	return false
}

// =============================================================================
// continuationStore: stable-address records, reused across epochs
// =============================================================================

type continuationBlock [continuationBlockSize]Continuation

// continuationStore hands out Continuation records from fixed-size blocks so
// record addresses never move. Allocation is an atomic increment; the mutex
// is only taken when a new block has to be added.
type continuationStore struct {
	next   atomic.Int64
	open   atomic.Int64
	blocks atomic.Pointer[[]*continuationBlock]
	growMu sync.Mutex
}

func (s *continuationStore) allocate(expected int64, onCompletion Task, workerIndex int) *Continuation {
	idx := s.next.Add(1) - 1
	block := s.block(int(idx / continuationBlockSize))
	c := &block[idx%continuationBlockSize]

	c.expected = expected
	c.remaining.Store(expected)
	c.completed.Store(false)
	c.onCompletion = onCompletion
	c.workerIndex = workerIndex
	s.open.Add(1)
	return c
}

func (s *continuationStore) block(i int) *continuationBlock {
	if blocks := s.blocks.Load(); blocks != nil && i < len(*blocks) {
		return (*blocks)[i]
	}

	s.growMu.Lock()
	defer s.growMu.Unlock()

	var current []*continuationBlock
	if blocks := s.blocks.Load(); blocks != nil {
		current = *blocks
	}
	if i < len(current) {
		return current[i]
	}
	grown := make([]*continuationBlock, i+1)
	copy(grown, current)
	for j := len(current); j <= i; j++ {
		grown[j] = new(continuationBlock)
	}
	s.blocks.Store(&grown)
	return grown[i]
}

// release marks a continuation as finished without running its follow-up.
// It fails if any constituent already decremented it or it was released.
func (s *continuationStore) release(c *Continuation) bool {
	if !c.remaining.CompareAndSwap(c.expected, 0) {
		return false
	}
	c.completed.Store(true)
	s.open.Add(-1)
	return true
}

func (s *continuationStore) finished() {
	s.open.Add(-1)
}

func (s *continuationStore) openCount() int64 {
	return s.open.Load()
}

// reset makes every record available again. Callers guarantee that no
// continuation is outstanding.
func (s *continuationStore) reset() {
	if blocks := s.blocks.Load(); blocks != nil {
		used := s.next.Load()
		for i, b := range *blocks {
			if int64(i)*continuationBlockSize >= used {
				break
			}
			for j := range b {
				b[j].onCompletion = Task{}
			}
		}
	}
	s.next.Store(0)
	s.open.Store(0)
}

func (s *continuationStore) dispose() {
	s.reset()
	s.blocks.Store(nil)
}
