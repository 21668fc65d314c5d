package prometheus

import (
	"testing"
	"time"

	"github.com/Swind/go-task-queue/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("taskqueue", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTasksEnqueued("queue-a", 5)
	exporter.RecordTaskDuration("queue-a", 250*time.Microsecond)
	exporter.RecordTaskPanic("queue-a", "panic")
	exporter.RecordEnqueueRejected("queue-a", "capacity")
	exporter.RecordQueueGrowth("queue-a", 128)
	exporter.RecordContinuationCompleted("queue-a")

	if got := testutil.ToFloat64(exporter.tasksEnqueuedTotal.WithLabelValues("queue-a")); got != 5 {
		t.Fatalf("enqueued total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("queue-a")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.enqueueRejectedTotal.WithLabelValues("queue-a", "capacity")); got != 1 {
		t.Fatalf("rejected total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.queueGrowthTotal.WithLabelValues("queue-a")); got != 1 {
		t.Fatalf("growth total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.queueCapacity.WithLabelValues("queue-a")); got != 128 {
		t.Fatalf("capacity = %v, want 128", got)
	}
	if got := testutil.ToFloat64(exporter.continuationsCompleted.WithLabelValues("queue-a")); got != 1 {
		t.Fatalf("continuations completed = %v, want 1", got)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("queue-a"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("taskqueue", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("taskqueue", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic("queue-a", nil)
	second.RecordTaskPanic("queue-a", nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("queue-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

func TestMetricsExporter_NilSafe(t *testing.T) {
	var exporter *MetricsExporter
	exporter.RecordTasksEnqueued("q", 1)
	exporter.RecordTaskDuration("q", time.Millisecond)
	exporter.RecordTaskPanic("q", nil)
	exporter.RecordEnqueueRejected("q", "capacity")
	exporter.RecordQueueGrowth("q", 4)
	exporter.RecordContinuationCompleted("q")
}

// TestMetricsExporter_WiredIntoQueue verifies the exporter as a queue's Metrics
// Given: A queue configured with the exporter
// When: A continuation epoch runs on the calling goroutine
// Then: Enqueue, duration and continuation collectors reflect the run
func TestMetricsExporter_WiredIntoQueue(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}
	config := core.DefaultQueueConfig()
	config.Name = "frame"
	config.Metrics = exporter
	config.Logger = core.NewNoOpLogger()
	q := core.NewTaskQueueWithConfig(4, nil, config)
	defer q.Dispose()

	noop := func(int64, any, int, core.Dispatcher) {}
	q.TryEnqueueForRangeWithContinuation(noop, nil, 0, 6, -1, nil, core.Task{Function: noop})
	for q.TryDequeueAndRun(0, nil) == core.Success {
	}

	if got := testutil.ToFloat64(exporter.tasksEnqueuedTotal.WithLabelValues("frame")); got != 7 {
		t.Errorf("enqueued total = %v, want 7", got)
	}
	if got := testutil.ToFloat64(exporter.continuationsCompleted.WithLabelValues("frame")); got != 1 {
		t.Errorf("continuations completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.queueCapacity.WithLabelValues("frame")); got != 8 {
		t.Errorf("capacity = %v, want 8", got)
	}
	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("frame"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 7 {
		t.Errorf("duration sample count = %d, want 7", histCount)
	}
	if n := testutil.CollectAndCount(reg, "taskqueue_task_duration_seconds"); n != 1 {
		t.Errorf("registered duration series = %d, want 1", n)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
