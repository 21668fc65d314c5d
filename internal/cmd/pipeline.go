package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/pipeline"
)

func (a *app) newPipelineCmd() *cobra.Command {
	var seed uint64

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Step the body simulation through the frame pipeline",
		Long: `Step a set of bodies through the fixed per-frame phase sequence.

Each parallel phase is one scheduler epoch over all bodies. The solve and
integrate phases are split into --substeps sub-steps. Per-phase time is
reported at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPipeline(cmd, seed)
		},
	}

	flags := cmd.Flags()
	flags.Int("frames", 0, "frames to step")
	flags.Int("substeps", 0, "sub-steps of the solve and integrate phases")
	flags.Int("bodies", 0, "number of bodies")
	flags.Uint64Var(&seed, "seed", 1, "random seed for the initial body state")
	bindFlags(a.v, flags, map[string]string{
		"frames":   "pipeline.frames",
		"substeps": "pipeline.substeps",
		"bodies":   "pipeline.bodies",
	})
	return cmd
}

// phaseTimer accumulates the time spent in each phase.
type phaseTimer struct {
	total [len(pipeline.Phases)]time.Duration
}

func (p *phaseTimer) BeforePhase(int, pipeline.Phase) {}

func (p *phaseTimer) AfterPhase(_ int, phase pipeline.Phase, elapsed time.Duration) {
	p.total[phase] += elapsed
}

func (a *app) runPipeline(cmd *cobra.Command, seed uint64) error {
	defer func() { _ = a.logger.Sync() }()
	c := a.cfg

	t, err := a.startTelemetry(cmd.Context())
	if err != nil {
		return err
	}
	defer t.Close()

	q := core.NewTaskQueueWithConfig(c.Queue.Capacity, core.NewPooledAllocator(), a.queueConfig("pipeline", t.metrics))
	defer q.Dispose()
	d := taskqueue.NewGoroutineDispatcher("pipeline", c.Workers)
	d.SetLogger(core.NewZapLogger(a.logger))
	t.watch(q, d)

	s := pipeline.NewStepper(d, q, pipeline.Config{
		Substeps: map[pipeline.Phase]int{
			pipeline.PhaseConstraintSolve: c.Pipeline.Substeps,
			pipeline.PhaseIntegratePoses:  c.Pipeline.Substeps,
		},
		Logger: core.NewZapLogger(a.logger).Named("pipeline"),
	})
	timer := &phaseTimer{}
	s.AddObserver(timer)

	bodies := pipeline.NewBodies(c.Pipeline.Bodies, seed)
	bodies.Install(s)

	started := time.Now()
	for range c.Pipeline.Frames {
		if err := s.Step(c.Pipeline.FrameDuration); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	elapsed := time.Since(started)

	out := cmd.OutOrStdout()
	epochs, tasks := s.Stats()
	fmt.Fprintf(out, "pipeline: %d frames of %d bodies on %d workers in %v\n",
		s.Frame(), bodies.Len(), d.WorkerCount(), elapsed)
	fmt.Fprintf(out, "scheduler: %d epochs, %d tasks, %d contacts\n", epochs, tasks, bodies.TotalContacts())
	for _, p := range pipeline.Phases {
		fmt.Fprintf(out, "  %-22s %v\n", p, timer.total[p])
	}
	return nil
}
