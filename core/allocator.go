package core

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Slot is one cell of a TaskQueue ring. Its fields are owned by the queue;
// allocators only hand out and take back zeroed arrays of slots.
type Slot struct {
	sequence atomic.Uint64
	stop     atomic.Bool
	task     Task
	cont     *Continuation
}

// SlotSize is the size in bytes of one Slot.
const SlotSize = int(unsafe.Sizeof(Slot{}))

// Allocator provides the backing storage of a TaskQueue. It is used on
// construction, on growth and on Dispose.
type Allocator interface {
	AllocateSlots(capacity int) []Slot
	DeallocateSlots(slots []Slot)
}

// HeapAllocator allocates fresh slot arrays and lets the GC reclaim them.
type HeapAllocator struct{}

func (HeapAllocator) AllocateSlots(capacity int) []Slot {
	return make([]Slot, capacity)
}

func (HeapAllocator) DeallocateSlots(slots []Slot) {}

// PooledAllocator recycles slot arrays by power-of-two size so that queues
// created and disposed once per epoch reuse their storage.
type PooledAllocator struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool

	allocated   atomic.Int64
	reused      atomic.Int64
	bytesInUse  atomic.Int64
	deallocated atomic.Int64
}

// NewPooledAllocator creates an empty PooledAllocator.
func NewPooledAllocator() *PooledAllocator {
	return &PooledAllocator{pools: make(map[int]*sync.Pool)}
}

func (a *PooledAllocator) pool(capacity int) *sync.Pool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[capacity]
	if !ok {
		p = &sync.Pool{}
		a.pools[capacity] = p
	}
	return p
}

// AllocateSlots returns a zeroed array of exactly capacity slots.
func (a *PooledAllocator) AllocateSlots(capacity int) []Slot {
	a.bytesInUse.Add(int64(capacity * SlotSize))
	if v := a.pool(capacity).Get(); v != nil {
		a.reused.Add(1)
		return *(v.(*[]Slot))
	}
	a.allocated.Add(1)
	return make([]Slot, capacity)
}

// DeallocateSlots zeroes slots and keeps them for the next AllocateSlots of
// the same capacity.
func (a *PooledAllocator) DeallocateSlots(slots []Slot) {
	if len(slots) == 0 {
		return
	}
	clear(slots)
	a.bytesInUse.Add(-int64(len(slots) * SlotSize))
	a.deallocated.Add(1)
	a.pool(len(slots)).Put(&slots)
}

// AllocatorStats is a snapshot of PooledAllocator counters.
type AllocatorStats struct {
	Allocated   int64
	Reused      int64
	Deallocated int64
	BytesInUse  int64
}

func (a *PooledAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		Allocated:   a.allocated.Load(),
		Reused:      a.reused.Load(),
		Deallocated: a.deallocated.Load(),
		BytesInUse:  a.bytesInUse.Load(),
	}
}

// roundUpPow2 returns the smallest power of two >= n, with a floor of 2.
func roundUpPow2(n int) int {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(n-1))
}
