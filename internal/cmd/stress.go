package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/internal/stress"
)

func (a *app) newStressCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the spawning stress workload",
		Long: `Run the stress workload for a number of epochs on one queue.

Every root task adds to a shared sum; roots whose id is a multiple of
--spawn-every spawn two batches of children with different context shapes
under continuations. Each epoch's sum is checked against a serial
reference, and --verify also compares a multi-worker run with a
single-worker one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStress(cmd, verify)
		},
	}

	flags := cmd.Flags()
	flags.Int("tasks", 0, "root tasks per epoch")
	flags.Int("iterations", 0, "epochs to run")
	flags.Int("spawn-every", 0, "roots whose id is a multiple of this spawn children")
	flags.Int("batch-size", 0, "children per spawned batch")
	flags.Int("chunk", 0, "root tasks per producer submission")
	flags.BoolVar(&verify, "verify", false, "also compare against a single-worker run")
	bindFlags(a.v, flags, map[string]string{
		"tasks":       "stress.tasks",
		"iterations":  "stress.iterations",
		"spawn-every": "stress.spawn_every",
		"batch-size":  "stress.batch_size",
		"chunk":       "stress.enqueue_chunk",
	})
	return cmd
}

func (a *app) stressOptions(qc *core.QueueConfig) stress.Options {
	c := a.cfg
	return stress.Options{
		Workers:      c.Workers,
		Tasks:        c.Stress.Tasks,
		Iterations:   c.Stress.Iterations,
		SpawnEvery:   c.Stress.SpawnEvery,
		BatchSize:    c.Stress.BatchSize,
		EnqueueChunk: c.Stress.EnqueueChunk,
		Capacity:     c.Queue.Capacity,
		Queue:        qc,
		Logger:       a.logger,
	}
}

func (a *app) runStress(cmd *cobra.Command, verify bool) error {
	defer func() { _ = a.logger.Sync() }()
	ctx := cmd.Context()

	t, err := a.startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	qc := a.queueConfig("stress", t.metrics)
	opts := a.stressOptions(qc)
	h, err := stress.New(opts)
	if err != nil {
		return err
	}
	defer h.Close()
	t.watch(h.Queue(), h.Dispatcher())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "stress: %d workers, %d roots, %d epochs, reference sum %d\n",
		h.Dispatcher().WorkerCount(), opts.Tasks, opts.Iterations, stress.Reference(opts))

	results, err := h.Run(ctx)
	for _, r := range results {
		fmt.Fprintf(out, "epoch %3d  sum %d  executed %d  capacity %d  %v\n",
			r.Iteration, r.Sum, r.Executed, r.Capacity, r.Elapsed)
	}
	if err != nil {
		return fmt.Errorf("stress run: %w", err)
	}

	if verify {
		vq := a.queueConfig("stress-verify", t.metrics)
		multi, single, err := stress.Verify(ctx, a.stressOptions(vq))
		if err != nil {
			return fmt.Errorf("stress verify: %w", err)
		}
		fmt.Fprintf(out, "verify: %d workers %v, 1 worker %v, sums match (%d)\n",
			len(multi.Workers), multi.Elapsed, single.Elapsed, multi.Sum)
	}
	return nil
}

// queueConfig builds the queue configuration for a named queue of this run.
func (a *app) queueConfig(name string, metrics core.Metrics) *core.QueueConfig {
	qc := a.cfg.QueueConfigFor(name)
	qc.Logger = core.NewZapLogger(a.logger).Named(name)
	qc.PanicHandler = &core.LoggingPanicHandler{Logger: qc.Logger}
	qc.Metrics = metrics
	return qc
}
