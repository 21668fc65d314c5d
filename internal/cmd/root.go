// Package cmd implements the taskqueue-bench command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Swind/go-task-queue/internal/config"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg    *config.Config
	logger *zap.Logger
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "taskqueue-bench",
		Short: "Stress and benchmark the task queue",
		Long: `taskqueue-bench drives the task queue with the stress workload or the
frame pipeline and reports what the workers did.

Configuration is read from config.yaml in the config directory, from
TASKQUEUE_* environment variables and from flags, in increasing priority.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is $HOME/.config/taskqueue/config.yaml)")
	flags.IntP("workers", "w", 0, "worker goroutines per dispatch")
	flags.Int("capacity", 0, "initial ring capacity")
	flags.Bool("fixed", false, "disable ring growth")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console, json")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :2112")
	bindFlags(a.v, flags, map[string]string{
		"workers":      "workers",
		"capacity":     "queue.capacity",
		"log-level":    "log.level",
		"log-format":   "log.format",
		"metrics-addr": "metrics.addr",
	})
	// --fixed inverts queue.growable, so it is applied in initConfig.

	root.AddCommand(a.newStressCmd(), a.newPipelineCmd(), newVersionCmd())
	return root
}

func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if err := config.Configure(a.v, a.cfgFile); err != nil {
		return err
	}
	if fixed, _ := cmd.Flags().GetBool("fixed"); fixed {
		a.v.Set("queue.growable", false)
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	if file := a.v.ConfigFileUsed(); file != "" {
		a.logger.Debug("config loaded", zap.String("file", file))
	}
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}
