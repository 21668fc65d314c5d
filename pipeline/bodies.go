package pipeline

import (
	"math"
	"math/rand/v2"

	"github.com/Swind/go-task-queue/core"
)

const (
	gravity      = -9.81
	restitution  = 0.5
	sleepEpsilon = 1e-3
)

// Bodies is a small set of falling circles used to exercise a Stepper with
// realistic, data-parallel phase bodies. Slices are indexed by body id;
// parallel phases write only to the entry of the body they were given.
type Bodies struct {
	Radius float64

	PosX, PosY []float64
	VelX, VelY []float64

	MinX, MinY, MaxX, MaxY []float64
	Contacts               []int32
	Penetration            []float64
	Sleeping               []bool

	SleepingCount int
}

// NewBodies scatters n bodies above the ground plane y=0. The layout is
// reproducible for a given seed.
func NewBodies(n int, seed uint64) *Bodies {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := &Bodies{
		Radius:      0.5,
		PosX:        make([]float64, n),
		PosY:        make([]float64, n),
		VelX:        make([]float64, n),
		VelY:        make([]float64, n),
		MinX:        make([]float64, n),
		MinY:        make([]float64, n),
		MaxX:        make([]float64, n),
		MaxY:        make([]float64, n),
		Contacts:    make([]int32, n),
		Penetration: make([]float64, n),
		Sleeping:    make([]bool, n),
	}
	for i := range n {
		b.PosX[i] = r.Float64() * float64(n)
		b.PosY[i] = 1 + r.Float64()*10
		b.VelX[i] = r.Float64()*2 - 1
	}
	return b
}

// Len returns the number of bodies.
func (b *Bodies) Len() int { return len(b.PosX) }

// TotalContacts sums the broad-phase overlaps found in the last frame.
func (b *Bodies) TotalContacts() int64 {
	var total int64
	for _, c := range b.Contacts {
		total += int64(c)
	}
	return total
}

type bodyStep struct {
	b  *Bodies
	dt float64
}

// Install sets every phase of s to operate on b.
func (b *Bodies) Install(s *Stepper) {
	n := int64(b.Len())

	s.SetPhase(PhasePredictBounds, func(ctx *StepContext) error {
		return ParallelForTyped(ctx, predictBounds, &bodyStep{b: b, dt: ctx.Dt.Seconds()}, n)
	})
	s.SetPhase(PhaseCollisionDetection, func(ctx *StepContext) error {
		return ParallelForTyped(ctx, detectOverlaps, &bodyStep{b: b}, n)
	})
	s.SetPhase(PhaseConstraintPrepare, func(ctx *StepContext) error {
		return ParallelForTyped(ctx, prepareGroundContact, &bodyStep{b: b}, n)
	})
	s.SetPhase(PhaseConstraintSolve, func(ctx *StepContext) error {
		return ParallelForTyped(ctx, solveGroundContact, &bodyStep{b: b}, n)
	})
	s.SetPhase(PhaseIntegratePoses, func(ctx *StepContext) error {
		return ParallelForTyped(ctx, integrate, &bodyStep{b: b, dt: ctx.Dt.Seconds()}, n)
	})
	s.SetPhase(PhaseOptimize, func(ctx *StepContext) error {
		b.updateSleeping()
		return nil
	})
}

func predictBounds(id int64, s *bodyStep, _ int, _ core.Dispatcher) {
	b := s.b
	r := b.Radius
	dx, dy := math.Abs(b.VelX[id])*s.dt, math.Abs(b.VelY[id])*s.dt
	b.MinX[id], b.MaxX[id] = b.PosX[id]-r-dx, b.PosX[id]+r+dx
	b.MinY[id], b.MaxY[id] = b.PosY[id]-r-dy, b.PosY[id]+r+dy
}

func detectOverlaps(id int64, s *bodyStep, _ int, _ core.Dispatcher) {
	b := s.b
	var hits int32
	for j := int(id) + 1; j < b.Len(); j++ {
		if b.MinX[id] <= b.MaxX[j] && b.MaxX[id] >= b.MinX[j] &&
			b.MinY[id] <= b.MaxY[j] && b.MaxY[id] >= b.MinY[j] {
			hits++
		}
	}
	b.Contacts[id] = hits
}

func prepareGroundContact(id int64, s *bodyStep, _ int, _ core.Dispatcher) {
	b := s.b
	b.Penetration[id] = max(b.Radius-b.PosY[id], 0)
}

func solveGroundContact(id int64, s *bodyStep, _ int, _ core.Dispatcher) {
	b := s.b
	if b.Penetration[id] == 0 {
		return
	}
	b.PosY[id] += b.Penetration[id]
	b.Penetration[id] = 0
	if b.VelY[id] < 0 {
		b.VelY[id] = -b.VelY[id] * restitution
	}
}

func integrate(id int64, s *bodyStep, _ int, _ core.Dispatcher) {
	b := s.b
	if b.Sleeping[id] {
		return
	}
	b.VelY[id] += gravity * s.dt
	b.PosX[id] += b.VelX[id] * s.dt
	b.PosY[id] += b.VelY[id] * s.dt
}

func (b *Bodies) updateSleeping() {
	b.SleepingCount = 0
	for i := range b.Sleeping {
		resting := b.PosY[i] <= b.Radius+sleepEpsilon
		slow := math.Abs(b.VelY[i]) < 10*sleepEpsilon
		b.Sleeping[i] = resting && slow
		if b.Sleeping[i] {
			b.VelX[i], b.VelY[i] = 0, 0
			b.SleepingCount++
		}
	}
}
