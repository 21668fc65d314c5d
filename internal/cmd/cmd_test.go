package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/Swind/go-task-queue/internal/config"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// isolate keeps user config files out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()

	if root.Use != "taskqueue-bench" {
		t.Errorf("root.Use = %q, want %q", root.Use, "taskqueue-bench")
	}

	cmdMap := make(map[string]bool)
	for _, c := range root.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, name := range []string{"stress", "pipeline", "version"} {
		if !cmdMap[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := executeCommand(NewRootCommand(), "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(output, "taskqueue-bench dev") {
		t.Errorf("output = %q, want taskqueue-bench dev prefix", output)
	}
}

// TestStressCommand verifies a small stress run end to end
// Given: Two epochs of 64 roots with metrics enabled on an ephemeral port
// When: stress --verify is executed
// Then: Both epochs are reported and the verify run matches
func TestStressCommand(t *testing.T) {
	isolate(t)

	output, err := executeCommand(NewRootCommand(),
		"stress", "--tasks", "64", "--iterations", "2", "--workers", "2",
		"--chunk", "16", "--log-level", "error", "--metrics-addr", "127.0.0.1:0", "--verify")

	if err != nil {
		t.Fatalf("stress error = %v\n%s", err, output)
	}
	for _, want := range []string{"2 workers, 64 roots, 2 epochs", "epoch   0", "epoch   1", "sums match"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestStressCommand_FixedRing(t *testing.T) {
	isolate(t)

	output, err := executeCommand(NewRootCommand(),
		"stress", "--tasks", "128", "--iterations", "1", "--capacity", "16", "--fixed",
		"--chunk", "8", "--log-level", "error")

	if err != nil {
		t.Fatalf("stress error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "epoch   0") {
		t.Errorf("output = %q", output)
	}
}

func TestStressCommand_InvalidConfig(t *testing.T) {
	isolate(t)

	_, err := executeCommand(NewRootCommand(), "stress", "--workers", "-1")

	if err == nil {
		t.Fatal("stress with --workers -1 returned nil error")
	}
	if !strings.Contains(err.Error(), "workers") {
		t.Errorf("error = %v, want mention of workers", err)
	}
}

func TestStressCommand_ConfigFile(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "bench.yaml")
	content := "stress:\n  tasks: 32\n  iterations: 1\nlog:\n  level: error\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(NewRootCommand(), "--config", file, "stress", "--workers", "3")

	if err != nil {
		t.Fatalf("stress error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "3 workers, 32 roots, 1 epochs") {
		t.Errorf("output = %q, want values from file and flag", output)
	}
}

// TestPipelineCommand verifies the pipeline subcommand steps the bodies
func TestPipelineCommand(t *testing.T) {
	isolate(t)

	output, err := executeCommand(NewRootCommand(),
		"pipeline", "--frames", "3", "--bodies", "16", "--substeps", "2", "--workers", "2", "--log-level", "error")

	if err != nil {
		t.Fatalf("pipeline error = %v\n%s", err, output)
	}
	// five parallel phases, solve and integrate twice each
	for _, want := range []string{"3 frames of 16 bodies on 2 workers", "21 epochs", "constraint_solve"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr bool
	}{
		{name: "console", cfg: config.LogConfig{Level: "debug", Format: "console"}},
		{name: "json", cfg: config.LogConfig{Level: "warn", Format: "json"}},
		{name: "bad level", cfg: config.LogConfig{Level: "loud", Format: "json"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && logger == nil {
				t.Error("newLogger() returned nil logger")
			}
		})
	}
}
