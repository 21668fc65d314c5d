package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Swind/go-task-queue/core"
	obs "github.com/Swind/go-task-queue/observability/prometheus"
)

const snapshotInterval = 500 * time.Millisecond

// telemetry is the optional Prometheus endpoint of a run. With no address
// configured it only hands out NilMetrics.
type telemetry struct {
	metrics core.Metrics
	poller  *obs.SnapshotPoller
	server  *http.Server
	logger  *zap.Logger
}

func (a *app) startTelemetry(ctx context.Context) (*telemetry, error) {
	t := &telemetry{metrics: &core.NilMetrics{}, logger: a.logger}
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return t, nil
	}

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := obs.NewMetricsExporter("taskqueue", reg, obs.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	poller, err := obs.NewSnapshotPoller(reg, snapshotInterval)
	if err != nil {
		return nil, fmt.Errorf("snapshot poller: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	t.metrics = exporter
	t.poller = poller
	poller.Start(ctx)
	t.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return t, nil
}

// watch registers a queue and its dispatcher with the snapshot poller.
func (t *telemetry) watch(q *core.TaskQueue, d obs.DispatcherSnapshotProvider) {
	if t.poller == nil {
		return
	}
	t.poller.AddQueue(q.Name(), q)
	t.poller.AddDispatcher(q.Name(), d)
}

// Close takes a last snapshot and shuts the endpoint down.
func (t *telemetry) Close() {
	if t.poller == nil {
		return
	}
	t.poller.CollectNow()
	t.poller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
