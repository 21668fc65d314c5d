package core

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLogger_FiltersBelowMinLevel(t *testing.T) {
	// Given: A DefaultLogger at Warn writing to a buffer
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	logger := &DefaultLogger{MinLevel: LevelWarn}

	// When: Messages of every level are logged
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn", F("queue", "q1"))
	logger.Error("error", F("worker", 2), F("task_id", int64(9)))

	// Then: Only Warn and Error are printed, with their fields
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"[WARN] warn {queue: q1}",
		"[ERROR] error {worker: 2, task_id: 9}",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	if LevelInfo.String() != "INFO" || LogLevel(9).String() != "LEVEL(9)" {
		t.Errorf("String() = %q, %q", LevelInfo.String(), LogLevel(9).String())
	}
}

func TestZapLogger_ForwardsFields(t *testing.T) {
	// Given: A ZapLogger over an observer core
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).Named("queue")

	// When: A queue logs through it
	q := NewTaskQueueWithConfig(2, nil, &QueueConfig{Name: "zap", Growable: true, Logger: logger})
	q.TryEnqueueForRange(func(int64, any, int, Dispatcher) {}, nil, 0, 3, nil)

	// Then: The growth entry carries structured fields
	entries := logs.FilterMessage("task queue grown").All()
	if len(entries) != 1 {
		t.Fatalf("growth entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.LoggerName != "queue" || entry.Level != zapcore.InfoLevel {
		t.Errorf("entry logger/level = %q/%v, want queue/info", entry.LoggerName, entry.Level)
	}
	fields := entry.ContextMap()
	if fields["queue"] != "zap" || fields["to"] != int64(4) {
		t.Errorf("fields = %v, want queue=zap to=4", fields)
	}
}

func TestNewZapLogger_NilIsNop(t *testing.T) {
	logger := NewZapLogger(nil)
	logger.Info("discarded", F("k", "v"))
}
