package stress

import (
	"sync/atomic"

	"github.com/Swind/go-task-queue/core"
)

// The two child payloads differ in size and layout so that a queue which
// delivered one batch's context to another batch's body fails the type
// assertion in the body and is reported as a panic.

type narrowPayload struct {
	epoch  *epoch
	parent int64
	done   atomic.Int64
}

type widePayload struct {
	epoch   *epoch
	parent  int64
	offset  int64
	stride  int64
	weights [4]int64
	done    atomic.Int64
}

func newNarrowPayload(e *epoch, parent int64) *narrowPayload {
	return &narrowPayload{epoch: e, parent: parent}
}

func newWidePayload(e *epoch, parent int64) *widePayload {
	return &widePayload{
		epoch:   e,
		parent:  parent,
		offset:  1000,
		stride:  7,
		weights: [4]int64{1, 2, 3, 5},
	}
}

func rootValue(taskID int64) int64 { return taskID + 1 }

func (p *narrowPayload) value(childID int64) int64 { return p.parent*3 + childID }

func (p *widePayload) value(childID int64) int64 {
	return p.offset + p.stride*childID + p.weights[childID%4] + p.parent
}

func narrowTask(taskID int64, taskContext any, workerIndex int, d core.Dispatcher) {
	p := taskContext.(*narrowPayload)
	defer p.epoch.finish(1, workerIndex, d)
	p.epoch.sum.Add(p.value(taskID))
	p.done.Add(1)
}

func wideTask(taskID int64, taskContext any, workerIndex int, d core.Dispatcher) {
	p := taskContext.(*widePayload)
	defer p.epoch.finish(1, workerIndex, d)
	p.epoch.sum.Add(p.value(taskID))
	p.done.Add(1)
}

func narrowDone(taskID int64, taskContext any, workerIndex int, d core.Dispatcher) {
	p := taskContext.(*narrowPayload)
	p.epoch.batchDone(p.done.Load(), taskID, workerIndex, d)
}

func wideDone(taskID int64, taskContext any, workerIndex int, d core.Dispatcher) {
	p := taskContext.(*widePayload)
	p.epoch.batchDone(p.done.Load(), taskID, workerIndex, d)
}

// batchDone runs as a continuation follow-up. done is how many children of
// the batch had returned when it started.
func (e *epoch) batchDone(done, parent int64, workerIndex int, d core.Dispatcher) {
	defer e.finish(1, workerIndex, d)
	if done != int64(e.h.opts.BatchSize) {
		e.violations.Add(1)
	}
	e.followUps.Add(1)
	e.sum.Add(parent)
}

// Reference is the sum a run of opts must produce, computed by walking the
// task graph serially in submission order.
func Reference(opts Options) int64 {
	e := &epoch{}
	batch := int64(opts.BatchSize)

	var sum int64
	for id := range int64(opts.Tasks) {
		sum += rootValue(id)
		if opts.SpawnEvery <= 0 || id%int64(opts.SpawnEvery) != 0 {
			continue
		}
		narrow := newNarrowPayload(e, id)
		for child := range batch {
			sum += narrow.value(child)
		}
		sum += id
		wide := newWidePayload(e, id)
		for child := range batch {
			sum += wide.value(child)
		}
		sum += id
	}
	return sum
}

// ExpectedExecuted is the number of task bodies one epoch of opts runs:
// the roots, every spawned child and one follow-up per batch.
func ExpectedExecuted(opts Options) int64 {
	if opts.SpawnEvery <= 0 {
		return int64(opts.Tasks)
	}
	spawners := (int64(opts.Tasks) + int64(opts.SpawnEvery) - 1) / int64(opts.SpawnEvery)
	return int64(opts.Tasks) + spawners*2*(int64(opts.BatchSize)+1)
}
