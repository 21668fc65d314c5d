package core

import (
	"testing"
	"time"
)

// =============================================================================
// Test PanicHandler
// =============================================================================

func TestDefaultPanicHandler(t *testing.T) {
	// Given: A DefaultPanicHandler
	handler := &DefaultPanicHandler{}

	// When: HandlePanic is called
	handler.HandlePanic("test-queue", 42, 7, "test panic", []byte("stack trace"))

	// Then: No panic should occur (handler should not crash)
}

type capturedLog struct {
	level  LogLevel
	msg    string
	fields []Field
}

type captureLogger struct {
	entries []capturedLog
}

func (l *captureLogger) add(level LogLevel, msg string, fields []Field) {
	l.entries = append(l.entries, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) Debug(msg string, fields ...Field) { l.add(LevelDebug, msg, fields) }
func (l *captureLogger) Info(msg string, fields ...Field)  { l.add(LevelInfo, msg, fields) }
func (l *captureLogger) Warn(msg string, fields ...Field)  { l.add(LevelWarn, msg, fields) }
func (l *captureLogger) Error(msg string, fields ...Field) { l.add(LevelError, msg, fields) }

func TestLoggingPanicHandler(t *testing.T) {
	// Given: A LoggingPanicHandler over a capturing logger
	logger := &captureLogger{}
	handler := &LoggingPanicHandler{Logger: logger}

	// When: HandlePanic is called
	handler.HandlePanic("frame", 3, 11, "boom", []byte("trace"))

	// Then: One error entry carries the queue, worker and task id
	if len(logger.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.level != LevelError || entry.msg != "task panicked" {
		t.Errorf("entry = %v %q, want ERROR %q", entry.level, entry.msg, "task panicked")
	}
	want := map[string]any{"queue": "frame", "worker": 3, "task_id": int64(11), "panic": "boom", "stack": "trace"}
	for _, f := range entry.fields {
		if w, ok := want[f.Key]; ok && w != f.Value {
			t.Errorf("field %s = %v, want %v", f.Key, f.Value, w)
		}
		delete(want, f.Key)
	}
	if len(want) != 0 {
		t.Errorf("missing fields %v", want)
	}
}

// =============================================================================
// Test Metrics
// =============================================================================

func TestNilMetrics(t *testing.T) {
	// Given: A NilMetrics instance
	m := &NilMetrics{}

	// When: All methods are called
	m.RecordTasksEnqueued("q", 4)
	m.RecordTaskDuration("q", time.Second)
	m.RecordTaskPanic("q", "panic")
	m.RecordEnqueueRejected("q", "capacity")
	m.RecordQueueGrowth("q", 128)
	m.RecordContinuationCompleted("q")

	// Then: No panic should occur
}

// =============================================================================
// Test QueueConfig
// =============================================================================

func TestDefaultQueueConfig(t *testing.T) {
	// Given/When: Default config is created
	config := DefaultQueueConfig()

	// Then: All handlers and tunables are set
	if !config.Growable {
		t.Error("Growable = false, want true")
	}
	if config.MaxCapacity != defaultMaxCapacity {
		t.Errorf("MaxCapacity = %d, want %d", config.MaxCapacity, defaultMaxCapacity)
	}
	if config.SpinCount != defaultSpinCount || config.MaxIdleWait != defaultMaxIdleWait {
		t.Errorf("SpinCount/MaxIdleWait = %d/%v, want %d/%v",
			config.SpinCount, config.MaxIdleWait, defaultSpinCount, defaultMaxIdleWait)
	}
	if config.PanicHandler == nil || config.Metrics == nil || config.Logger == nil {
		t.Error("expected default PanicHandler, Metrics and Logger to be set")
	}
}

func TestNewTaskQueueWithConfig_PartialConfig(t *testing.T) {
	// Given: A config with only a name and zero tunables
	config := &QueueConfig{Name: "partial", MaxCapacity: 3, SpinCount: -1}

	// When: A queue is created from it
	q := NewTaskQueueWithConfig(8, nil, config)

	// Then: Missing handlers and tunables fall back to defaults
	if q.Name() != "partial" {
		t.Errorf("Name() = %q, want %q", q.Name(), "partial")
	}
	if q.maxCapacity != 8 {
		t.Errorf("maxCapacity = %d, want 8 (never below the initial ring)", q.maxCapacity)
	}
	if q.spinCount != 0 {
		t.Errorf("spinCount = %d, want 0", q.spinCount)
	}
	if q.maxIdleWait != defaultMaxIdleWait {
		t.Errorf("maxIdleWait = %v, want %v", q.maxIdleWait, defaultMaxIdleWait)
	}
	if cap(q.signal) != defaultSignalBuffer {
		t.Errorf("signal buffer = %d, want %d", cap(q.signal), defaultSignalBuffer)
	}
	if q.timed {
		t.Error("timed = true with NilMetrics, want false")
	}
}

func TestNewTaskQueue_GeneratedName(t *testing.T) {
	a := NewTaskQueue(4, nil)
	b := NewTaskQueue(4, nil)

	if a.Name() == "" || a.Name() == b.Name() {
		t.Errorf("generated names %q and %q, want distinct non-empty", a.Name(), b.Name())
	}
}
