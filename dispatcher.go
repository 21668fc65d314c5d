package taskqueue

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Swind/go-task-queue/core"
)

// WorkerBody is the function a dispatcher runs once on each of its workers.
type WorkerBody func(workerIndex int, d core.Dispatcher)

// WorkerDispatcher is a core.Dispatcher that can run a WorkerBody on all of
// its workers.
type WorkerDispatcher interface {
	core.Dispatcher
	DispatchWorkers(body WorkerBody, sharedContext any)
}

// GoroutineDispatcher runs worker bodies on a fixed number of goroutines.
// Each DispatchWorkers call is one epoch: the workers are started, handed
// the shared context and joined before the call returns.
type GoroutineDispatcher struct {
	id      string
	workers int

	dispatchMu sync.Mutex
	wg         sync.WaitGroup

	running   bool
	shared    any
	runningMu sync.RWMutex

	dispatches atomic.Int64
	logger     core.Logger
}

// NewGoroutineDispatcher creates a dispatcher with the given number of
// workers. workers <= 0 means GOMAXPROCS, and an empty id is replaced by a
// generated one.
func NewGoroutineDispatcher(id string, workers int) *GoroutineDispatcher {
	if id == "" {
		id = "dispatcher-" + uuid.NewString()[:8]
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &GoroutineDispatcher{
		id:      id,
		workers: workers,
		logger:  core.NewNoOpLogger(),
	}
}

// SetLogger replaces the dispatcher's logger. Not safe during a dispatch.
func (gd *GoroutineDispatcher) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	gd.logger = logger
}

// DispatchWorkers calls body(workerIndex, gd) once on each worker and blocks
// until every call has returned. sharedContext is visible to the bodies
// through SharedContext for the duration of the call. Concurrent calls are
// serialised.
//
// A panic escaping body is not recovered: it is a caller bug and terminates
// the program like any other goroutine panic.
func (gd *GoroutineDispatcher) DispatchWorkers(body WorkerBody, sharedContext any) {
	gd.dispatchMu.Lock()
	defer gd.dispatchMu.Unlock()

	gd.runningMu.Lock()
	gd.running = true
	gd.shared = sharedContext
	gd.runningMu.Unlock()

	n := gd.dispatches.Add(1)
	gd.logger.Debug("dispatch started", core.F("dispatcher", gd.id), core.F("workers", gd.workers), core.F("dispatch", n))

	for i := 0; i < gd.workers; i++ {
		gd.wg.Add(1)
		go gd.workerLoop(i, body)
	}
	gd.Join()

	gd.runningMu.Lock()
	gd.running = false
	gd.shared = nil
	gd.runningMu.Unlock()

	gd.logger.Debug("dispatch finished", core.F("dispatcher", gd.id), core.F("dispatch", n))
}

// workerLoop is the goroutine of one worker
func (gd *GoroutineDispatcher) workerLoop(workerIndex int, body WorkerBody) {
	defer gd.wg.Done()
	body(workerIndex, gd)
}

// Join waits for the workers of the current dispatch to finish
func (gd *GoroutineDispatcher) Join() {
	gd.wg.Wait()
}

// ID returns the ID of the dispatcher
func (gd *GoroutineDispatcher) ID() string {
	return gd.id
}

// WorkerCount returns the number of workers
func (gd *GoroutineDispatcher) WorkerCount() int {
	return gd.workers
}

// SharedContext returns the value passed to the DispatchWorkers call in
// progress, or nil between dispatches.
func (gd *GoroutineDispatcher) SharedContext() any {
	gd.runningMu.RLock()
	defer gd.runningMu.RUnlock()
	return gd.shared
}

// IsRunning returns whether a dispatch is in progress
func (gd *GoroutineDispatcher) IsRunning() bool {
	gd.runningMu.RLock()
	defer gd.runningMu.RUnlock()
	return gd.running
}

// Stats returns a snapshot of the dispatcher state.
func (gd *GoroutineDispatcher) Stats() core.DispatcherStats {
	return core.DispatcherStats{
		ID:          gd.id,
		Workers:     gd.workers,
		Dispatching: gd.IsRunning(),
		Dispatches:  gd.dispatches.Load(),
	}
}

// =============================================================================
// Global Dispatcher Helper (Singleton)
// =============================================================================

var (
	globalDispatcher *GoroutineDispatcher
	globalMu         sync.Mutex
)

// InitGlobalDispatcher initializes the global dispatcher with the specified
// number of workers. Later calls are no-ops.
func InitGlobalDispatcher(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalDispatcher != nil {
		return // Already initialized
	}

	globalDispatcher = NewGoroutineDispatcher("global-dispatcher", workers)
}

// GetGlobalDispatcher returns the global dispatcher instance.
// It panics if InitGlobalDispatcher has not been called.
func GetGlobalDispatcher() *GoroutineDispatcher {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalDispatcher == nil {
		panic("GlobalDispatcher not initialized. Call InitGlobalDispatcher() first.")
	}
	return globalDispatcher
}

// ShutdownGlobalDispatcher waits for any dispatch in progress and forgets the
// global dispatcher.
func ShutdownGlobalDispatcher() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalDispatcher != nil {
		globalDispatcher.dispatchMu.Lock()
		globalDispatcher.dispatchMu.Unlock()
		globalDispatcher = nil
	}
}
