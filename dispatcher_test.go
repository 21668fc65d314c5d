package taskqueue

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Swind/go-task-queue/core"
)

// Ensure GoroutineDispatcher fully implements WorkerDispatcher
var _ WorkerDispatcher = (*GoroutineDispatcher)(nil)

func TestGoroutineDispatcher_Lifecycle(t *testing.T) {
	d := NewGoroutineDispatcher("test-dispatcher", 2)

	if d.ID() != "test-dispatcher" {
		t.Errorf("expected ID 'test-dispatcher', got %s", d.ID())
	}
	if d.IsRunning() {
		t.Error("dispatcher should not be running initially")
	}
	if d.WorkerCount() != 2 {
		t.Errorf("expected 2 workers, got %d", d.WorkerCount())
	}

	var sawRunning atomic.Bool
	d.DispatchWorkers(func(int, core.Dispatcher) {
		sawRunning.Store(d.IsRunning())
	}, nil)

	if !sawRunning.Load() {
		t.Error("dispatcher should be running inside DispatchWorkers")
	}
	if d.IsRunning() {
		t.Error("dispatcher should not be running after DispatchWorkers returns")
	}
}

func TestGoroutineDispatcher_Defaults(t *testing.T) {
	d := NewGoroutineDispatcher("", 0)

	if d.ID() == "" {
		t.Error("expected a generated ID")
	}
	if d.WorkerCount() != runtime.GOMAXPROCS(0) {
		t.Errorf("WorkerCount() = %d, want GOMAXPROCS %d", d.WorkerCount(), runtime.GOMAXPROCS(0))
	}
}

// TestGoroutineDispatcher_EachWorkerOnce verifies the dispatch contract
// Given: A dispatcher with 6 workers
// When: DispatchWorkers runs a body that records its index and the shared context
// Then: Every index in [0, 6) runs exactly once and sees the shared context
func TestGoroutineDispatcher_EachWorkerOnce(t *testing.T) {
	// Arrange
	d := NewGoroutineDispatcher("each", 6)
	shared := &struct{ name string }{name: "shared"}
	var mu sync.Mutex
	seen := make(map[int]int)

	// Act
	d.DispatchWorkers(func(workerIndex int, handle core.Dispatcher) {
		if handle.SharedContext() != shared {
			t.Errorf("worker %d SharedContext() = %v, want %v", workerIndex, handle.SharedContext(), shared)
		}
		if handle.WorkerCount() != 6 {
			t.Errorf("worker %d WorkerCount() = %d, want 6", workerIndex, handle.WorkerCount())
		}
		mu.Lock()
		seen[workerIndex]++
		mu.Unlock()
	}, shared)

	// Assert
	if len(seen) != 6 {
		t.Fatalf("saw %d distinct workers, want 6", len(seen))
	}
	for i := range 6 {
		if seen[i] != 1 {
			t.Errorf("worker %d ran %d times, want 1", i, seen[i])
		}
	}
	if d.SharedContext() != nil {
		t.Error("SharedContext() should be cleared after the dispatch")
	}
}

func TestGoroutineDispatcher_ConcurrentDispatchesSerialise(t *testing.T) {
	d := NewGoroutineDispatcher("serial", 3)
	var inFlight, maxInFlight atomic.Int32

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.DispatchWorkers(func(int, core.Dispatcher) {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				runtime.Gosched()
				inFlight.Add(-1)
			}, nil)
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got > 3 {
		t.Errorf("max concurrent bodies = %d, want <= 3", got)
	}
	if got := d.Stats().Dispatches; got != 4 {
		t.Errorf("Stats().Dispatches = %d, want 4", got)
	}
}

func TestGoroutineDispatcher_Stats(t *testing.T) {
	d := NewGoroutineDispatcher("stats", 2)

	stats := d.Stats()

	if stats.ID != "stats" || stats.Workers != 2 || stats.Dispatching || stats.Dispatches != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestGlobalDispatcher(t *testing.T) {
	InitGlobalDispatcher(3)
	defer ShutdownGlobalDispatcher()

	d := GetGlobalDispatcher()
	if d.WorkerCount() != 3 {
		t.Errorf("WorkerCount() = %d, want 3", d.WorkerCount())
	}

	// Second init is a no-op
	InitGlobalDispatcher(5)
	if GetGlobalDispatcher() != d {
		t.Error("InitGlobalDispatcher replaced an existing dispatcher")
	}
}

func TestGetGlobalDispatcher_PanicsWhenUninitialized(t *testing.T) {
	ShutdownGlobalDispatcher()

	defer func() {
		if recover() == nil {
			t.Error("GetGlobalDispatcher() did not panic")
		}
	}()
	GetGlobalDispatcher()
}
