// Package config defines the configuration of the taskqueue-bench tool.
//
// Values come from, in increasing priority: struct defaults, a YAML config
// file, TASKQUEUE_* environment variables and command-line flags bound by
// the cmd package.
//
//	Config
//	├── Workers   - worker goroutines per dispatch
//	├── Queue     - ring sizing and idle behaviour
//	├── Stress    - stress harness workload
//	├── Pipeline  - frame stepper workload
//	├── Log       - zap logger level and format
//	└── Metrics   - Prometheus endpoint
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"github.com/Swind/go-task-queue/core"
)

// EnvPrefix prefixes every environment override, e.g. TASKQUEUE_QUEUE_CAPACITY.
const EnvPrefix = "TASKQUEUE"

// Config is the complete tool configuration.
type Config struct {
	Workers  int            `mapstructure:"workers" default:"4"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Stress   StressConfig   `mapstructure:"stress"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// QueueConfig controls the task queue ring and worker idle behaviour.
type QueueConfig struct {
	Capacity    int           `mapstructure:"capacity" default:"1024"`
	Growable    bool          `mapstructure:"growable" default:"true"`
	MaxCapacity int           `mapstructure:"max_capacity" default:"16777216"`
	SpinCount   int           `mapstructure:"spin_count" default:"64"`
	MaxIdleWait time.Duration `mapstructure:"max_idle_wait" default:"2ms"`
}

// StressConfig controls the stress harness workload.
type StressConfig struct {
	// Tasks is the number of root tasks per iteration.
	Tasks int `mapstructure:"tasks" default:"4096"`
	// Iterations is the number of epochs; the queue is Reset between them.
	Iterations int `mapstructure:"iterations" default:"10"`
	// SpawnEvery makes every root task whose id is a multiple of it spawn
	// two child batches.
	SpawnEvery int `mapstructure:"spawn_every" default:"8"`
	// BatchSize is the number of children in each spawned batch.
	BatchSize int `mapstructure:"batch_size" default:"8"`
	// EnqueueChunk is how many root tasks the producer submits per call.
	EnqueueChunk int `mapstructure:"enqueue_chunk" default:"256"`
}

// PipelineConfig controls the frame stepper workload.
type PipelineConfig struct {
	Frames        int           `mapstructure:"frames" default:"120"`
	Substeps      int           `mapstructure:"substeps" default:"4"`
	Bodies        int           `mapstructure:"bodies" default:"2000"`
	FrameDuration time.Duration `mapstructure:"frame_duration" default:"16ms"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" default:"info"`
	Format string `mapstructure:"format" default:"console"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" default:""`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// SetDefaults registers default values with v so that unset keys, and
// environment overrides of them, resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("workers", d.Workers)

	v.SetDefault("queue.capacity", d.Queue.Capacity)
	v.SetDefault("queue.growable", d.Queue.Growable)
	v.SetDefault("queue.max_capacity", d.Queue.MaxCapacity)
	v.SetDefault("queue.spin_count", d.Queue.SpinCount)
	v.SetDefault("queue.max_idle_wait", d.Queue.MaxIdleWait)

	v.SetDefault("stress.tasks", d.Stress.Tasks)
	v.SetDefault("stress.iterations", d.Stress.Iterations)
	v.SetDefault("stress.spawn_every", d.Stress.SpawnEvery)
	v.SetDefault("stress.batch_size", d.Stress.BatchSize)
	v.SetDefault("stress.enqueue_chunk", d.Stress.EnqueueChunk)

	v.SetDefault("pipeline.frames", d.Pipeline.Frames)
	v.SetDefault("pipeline.substeps", d.Pipeline.Substeps)
	v.SetDefault("pipeline.bodies", d.Pipeline.Bodies)
	v.SetDefault("pipeline.frame_duration", d.Pipeline.FrameDuration)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Configure points v at the config file and the environment. cfgFile may be
// empty, in which case config.yaml is searched in ConfigDir and the working
// directory. A missing file is not an error.
func Configure(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	// TASKQUEUE_QUEUE_CAPACITY for queue.capacity
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load reads v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// QueueConfigFor builds the core queue configuration for a queue called name.
func (c *Config) QueueConfigFor(name string) *core.QueueConfig {
	qc := core.DefaultQueueConfig()
	qc.Name = name
	qc.Growable = c.Queue.Growable
	qc.MaxCapacity = c.Queue.MaxCapacity
	qc.SpinCount = c.Queue.SpinCount
	qc.MaxIdleWait = c.Queue.MaxIdleWait
	return qc
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskqueue")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskqueue"
	}
	return filepath.Join(home, ".config", "taskqueue")
}
