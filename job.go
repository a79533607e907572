// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"

	"code.hybscloud.com/atomix"
)

// Priority is the strict scheduling tier a Job is enqueued under. A
// worker always fully drains High before looking at Normal, and Normal
// before Low; within one tier, FIFO order is preserved by the ring (C1).
type Priority uint8

const (
	// High is drained before any Normal or Low work.
	High Priority = iota
	// Normal is the priority Group.Dispatch schedules lane jobs at.
	Normal
	// Low is only drained once High and Normal are both empty.
	Low

	numPriorities = int(Low) + 1
)

// String renders the priority tier's name, mainly for log fields.
func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Job is the unit of schedulable work.
//
// In the original C++ job system a JobInfo is a fixed-size, by-value
// type-erased buffer holding a function pointer and an inline parameter
// copy, so that scheduling never allocates. A Go func value already is a
// small, fixed-size, by-value closure — the runtime owns the captured
// environment the same way the ring owns the job bytes once enqueued —
// so Job stores the callable directly instead of reimplementing
// placement-new over a byte buffer; see DESIGN.md for the full
// rationale.
//
// Job is copied by value into and out of the priority ring (C1); once
// Schedule returns, the caller's copy and the queued copy are
// independent.
type Job struct {
	// Fn is the work to execute. Must not be nil when scheduled. ctx
	// carries the executing fiber's identity, so WaitForCounter and
	// WaitForSingle, called from inside Fn, know which fiber is parking
	// — the idiomatic Go stand-in for the TLS lookup the original uses
	// to find "the current fiber" from arbitrary job code.
	Fn func(ctx context.Context)

	// Counter is incremented by Schedule and decremented by the
	// scheduler once Fn returns. nil means "fire and forget". The field
	// is exported so callers can attach a *Counter to a Job literal; its
	// type stays the unexported countable interface, so *Counter and
	// *TinyCounter (the only two types in this package implementing it)
	// remain the only values that can ever be assigned here.
	Counter countable

	// parent, if set, is decremented when this job completes, in
	// addition to Counter. Used by the lightweight SPMD dispatch path
	// (C6) so each lane job doesn't need its own per-call-site counter
	// plumbing — see Group.Dispatch. Unexported: it is wiring internal
	// to this package, not something a caller attaches directly.
	parent countable
}

// countable is the shared surface of Counter and TinyCounter that a Job
// needs in order to settle itself on completion and that the scheduler
// needs in order to park and resume waiting fibers. Keeping it as an
// interface rather than a concrete type lets Job and the ring carry
// either counter flavor without knowing which one a given caller chose.
type countable interface {
	increment(n uint32) uint32
	decrement(n uint32) uint32
	value() uint32
	addWaiter(fiberIndex int32, target uint32, stored *atomix.Bool) (alreadyDone bool, err error)
}

// execute runs the job's callable and settles its counters. Matches
// JobInfo::execute in the original, generalized to also settle parent.
func (j *Job) execute(ctx context.Context) {
	j.Fn(ctx)
	if j.Counter != nil {
		j.Counter.decrement(1)
	}
	if j.parent != nil {
		j.parent.decrement(1)
	}
}
