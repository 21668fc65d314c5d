// Package pipeline runs a fixed sequence of per-frame phases on top of a
// task queue.
//
// A frame always walks the same six phases in the same order. Each phase may
// be split into equal sub-steps, and observers are told about every phase
// boundary in registration order. The stepper has no concurrency of its own:
// a phase that wants parallelism asks for it through StepContext.ParallelFor,
// which runs one scheduler epoch and returns when it has drained.
package pipeline

import (
	"fmt"
	"time"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/core"
)

// Phase identifies one stage of a frame.
type Phase int

const (
	PhasePredictBounds Phase = iota
	PhaseCollisionDetection
	PhaseConstraintPrepare
	PhaseConstraintSolve
	PhaseIntegratePoses
	PhaseOptimize

	phaseCount
)

// Phases lists every phase in execution order.
var Phases = [phaseCount]Phase{
	PhasePredictBounds,
	PhaseCollisionDetection,
	PhaseConstraintPrepare,
	PhaseConstraintSolve,
	PhaseIntegratePoses,
	PhaseOptimize,
}

func (p Phase) String() string {
	switch p {
	case PhasePredictBounds:
		return "predict_bounds"
	case PhaseCollisionDetection:
		return "collision_detection"
	case PhaseConstraintPrepare:
		return "constraint_prepare"
	case PhaseConstraintSolve:
		return "constraint_solve"
	case PhaseIntegratePoses:
		return "integrate_poses"
	case PhaseOptimize:
		return "optimize"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// PhaseFunc is the body of one sub-step of a phase.
type PhaseFunc func(ctx *StepContext) error

// Observer is notified around every phase of every frame.
type Observer interface {
	BeforePhase(frame int, phase Phase)
	AfterPhase(frame int, phase Phase, elapsed time.Duration)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Before func(frame int, phase Phase)
	After  func(frame int, phase Phase, elapsed time.Duration)
}

func (o ObserverFuncs) BeforePhase(frame int, phase Phase) {
	if o.Before != nil {
		o.Before(frame, phase)
	}
}

func (o ObserverFuncs) AfterPhase(frame int, phase Phase, elapsed time.Duration) {
	if o.After != nil {
		o.After(frame, phase, elapsed)
	}
}

// StepContext describes the sub-step being run and gives it access to the
// scheduler.
type StepContext struct {
	Frame    int
	Phase    Phase
	Substep  int
	Substeps int
	// Dt is the frame duration divided by Substeps.
	Dt time.Duration

	stepper *Stepper
}

// ParallelFor runs fn for ids [0, n) on the stepper's workers and returns
// once every range task has finished. Work the range tasks spawn runs only if
// it is enqueued before the last range task returns; anything later fails the
// call with core.ErrEnqueuedAfterStop.
func (c *StepContext) ParallelFor(fn core.TaskFunc, taskContext any, n int64) error {
	s := c.stepper
	stats, err := taskqueue.ParallelFor(s.dispatcher, s.queue, fn, taskContext, 0, n)
	if err != nil {
		return err
	}
	s.parallelEpochs++
	for _, w := range stats {
		s.parallelTasks += w.Executed
	}
	return nil
}

// ParallelForTyped is StepContext.ParallelFor with a strongly typed context.
func ParallelForTyped[T any](c *StepContext, fn core.TypedTaskFunc[T], taskContext *T, n int64) error {
	return c.ParallelFor(func(taskID int64, tc any, workerIndex int, d core.Dispatcher) {
		fn(taskID, tc.(*T), workerIndex, d)
	}, taskContext, n)
}

// Config sets up a Stepper.
type Config struct {
	// Substeps per phase. Missing or non-positive entries mean 1.
	Substeps map[Phase]int
	Logger   core.Logger
}

// Stepper runs frames. It is not safe for concurrent use.
type Stepper struct {
	dispatcher taskqueue.WorkerDispatcher
	queue      *core.TaskQueue
	logger     core.Logger

	phases    [phaseCount]PhaseFunc
	substeps  [phaseCount]int
	observers []Observer

	frame          int
	parallelEpochs int64
	parallelTasks  int64
}

// NewStepper creates a stepper whose phases run their parallel work on q
// through d. Every phase starts out empty.
func NewStepper(d taskqueue.WorkerDispatcher, q *core.TaskQueue, config Config) *Stepper {
	s := &Stepper{
		dispatcher: d,
		queue:      q,
		logger:     config.Logger,
	}
	if s.logger == nil {
		s.logger = core.NewNoOpLogger()
	}
	for _, p := range Phases {
		s.substeps[p] = 1
		if n := config.Substeps[p]; n > 0 {
			s.substeps[p] = n
		}
	}
	return s
}

// SetPhase installs the body of a phase, replacing any previous one. A nil
// fn leaves the phase empty; observers are still notified for it.
func (s *Stepper) SetPhase(p Phase, fn PhaseFunc) {
	s.phases[p] = fn
}

// SetSubsteps changes how many sub-steps a phase is split into.
func (s *Stepper) SetSubsteps(p Phase, n int) {
	s.substeps[p] = max(n, 1)
}

// AddObserver appends an observer. Observers are notified in the order they
// were added.
func (s *Stepper) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Step runs one frame of duration dt. The first failing sub-step ends the
// frame; nothing is retried.
func (s *Stepper) Step(dt time.Duration) error {
	frame := s.frame
	s.frame++

	for _, p := range Phases {
		for _, o := range s.observers {
			o.BeforePhase(frame, p)
		}

		started := time.Now()
		if fn := s.phases[p]; fn != nil {
			n := s.substeps[p]
			ctx := &StepContext{Frame: frame, Phase: p, Substeps: n, Dt: dt / time.Duration(n), stepper: s}
			for i := range n {
				ctx.Substep = i
				if err := fn(ctx); err != nil {
					s.logger.Error("phase failed",
						core.F("frame", frame), core.F("phase", p.String()), core.F("substep", i), core.F("error", err))
					return fmt.Errorf("frame %d phase %s substep %d: %w", frame, p, i, err)
				}
			}
		}
		elapsed := time.Since(started)

		for _, o := range s.observers {
			o.AfterPhase(frame, p, elapsed)
		}
	}

	s.logger.Debug("frame complete", core.F("frame", frame))
	return nil
}

// Frame returns the number of frames started so far.
func (s *Stepper) Frame() int { return s.frame }

// Stats reports how much work went through the scheduler.
func (s *Stepper) Stats() (epochs, tasks int64) {
	return s.parallelEpochs, s.parallelTasks
}
