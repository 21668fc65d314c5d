package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-queue/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// QueueSnapshotProvider provides current queue stats snapshots.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
}

// DispatcherSnapshotProvider provides current dispatcher stats snapshots.
type DispatcherSnapshotProvider interface {
	Stats() core.DispatcherStats
}

// SnapshotPoller periodically exports queue/dispatcher Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	queuesMu sync.RWMutex
	queues   map[string]QueueSnapshotProvider

	dispatchersMu sync.RWMutex
	dispatchers   map[string]DispatcherSnapshotProvider

	queuePending       *prom.GaugeVec
	queueActive        *prom.GaugeVec
	queueCapacity      *prom.GaugeVec
	queueContinuations *prom.GaugeVec
	queueExecuted      *prom.GaugeVec
	queueStopped       *prom.GaugeVec

	dispatcherWorkers     *prom.GaugeVec
	dispatcherDispatching *prom.GaugeVec
	dispatcherDispatches  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queuePending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_pending",
		Help:      "Number of occupied slots per queue.",
	}, []string{"queue"})
	queueActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_active",
		Help:      "Number of running tasks per queue.",
	}, []string{"queue"})
	queueCapacity := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_ring_capacity",
		Help:      "Current ring capacity per queue.",
	}, []string{"queue"})
	queueContinuations := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_open_continuations",
		Help:      "Continuations not yet completed per queue.",
	}, []string{"queue"})
	queueExecuted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_executed",
		Help:      "Tasks executed in the current epoch per queue.",
	}, []string{"queue"})
	queueStopped := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "queue_stopped",
		Help:      "Queue stop state (1=stopped, 0=accepting).",
	}, []string{"queue"})

	dispatcherWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "dispatcher_workers",
		Help:      "Worker count per dispatcher.",
	}, []string{"dispatcher"})
	dispatcherDispatching := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "dispatcher_dispatching",
		Help:      "Dispatcher state (1=workers running, 0=idle).",
	}, []string{"dispatcher"})
	dispatcherDispatches := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskqueue",
		Name:      "dispatcher_dispatches",
		Help:      "Number of DispatchWorkers calls per dispatcher.",
	}, []string{"dispatcher"})

	var err error
	if queuePending, err = registerCollector(reg, queuePending); err != nil {
		return nil, err
	}
	if queueActive, err = registerCollector(reg, queueActive); err != nil {
		return nil, err
	}
	if queueCapacity, err = registerCollector(reg, queueCapacity); err != nil {
		return nil, err
	}
	if queueContinuations, err = registerCollector(reg, queueContinuations); err != nil {
		return nil, err
	}
	if queueExecuted, err = registerCollector(reg, queueExecuted); err != nil {
		return nil, err
	}
	if queueStopped, err = registerCollector(reg, queueStopped); err != nil {
		return nil, err
	}
	if dispatcherWorkers, err = registerCollector(reg, dispatcherWorkers); err != nil {
		return nil, err
	}
	if dispatcherDispatching, err = registerCollector(reg, dispatcherDispatching); err != nil {
		return nil, err
	}
	if dispatcherDispatches, err = registerCollector(reg, dispatcherDispatches); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:              interval,
		queues:                make(map[string]QueueSnapshotProvider),
		dispatchers:           make(map[string]DispatcherSnapshotProvider),
		queuePending:          queuePending,
		queueActive:           queueActive,
		queueCapacity:         queueCapacity,
		queueContinuations:    queueContinuations,
		queueExecuted:         queueExecuted,
		queueStopped:          queueStopped,
		dispatcherWorkers:     dispatcherWorkers,
		dispatcherDispatching: dispatcherDispatching,
		dispatcherDispatches:  dispatcherDispatches,
	}, nil
}

// AddQueue adds or replaces a queue snapshot provider by name.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	p.queues[name] = provider
	p.queuesMu.Unlock()
}

// AddDispatcher adds or replaces a dispatcher snapshot provider by name.
func (p *SnapshotPoller) AddDispatcher(name string, provider DispatcherSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "dispatcher")
	p.dispatchersMu.Lock()
	p.dispatchers[name] = provider
	p.dispatchersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectNow takes one snapshot of every provider on the calling goroutine.
func (p *SnapshotPoller) CollectNow() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.queuesMu.RLock()
	for name, provider := range p.queues {
		stats := provider.Stats()
		if stats.Disposed {
			continue
		}
		p.queuePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.queueActive.WithLabelValues(name).Set(float64(stats.Active))
		p.queueCapacity.WithLabelValues(name).Set(float64(stats.Capacity))
		p.queueContinuations.WithLabelValues(name).Set(float64(stats.OpenContinuations))
		p.queueExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.queueStopped.WithLabelValues(name).Set(boolGauge(stats.Stopped))
	}
	p.queuesMu.RUnlock()

	p.dispatchersMu.RLock()
	for name, provider := range p.dispatchers {
		stats := provider.Stats()
		p.dispatcherWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.dispatcherDispatching.WithLabelValues(name).Set(boolGauge(stats.Dispatching))
		p.dispatcherDispatches.WithLabelValues(name).Set(float64(stats.Dispatches))
	}
	p.dispatchersMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
