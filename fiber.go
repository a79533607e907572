// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import "code.hybscloud.com/atomix"

// fiber is a schedulable unit of execution (C4), bound one-to-one to a
// goroutine for its entire lifetime: from the moment a worker pulls a job
// off a priority ring until that job (and every job it transitively waits
// on) has completed.
//
// The original pins OS threads and manually switches a fixed fiber stack
// onto each one via ucontext, because the C++ runtime gives it nothing
// cheaper. Go's scheduler already multiplexes goroutines onto OS threads
// and parks/resumes them for free, so a fiber here is simply "the
// goroutine currently carrying this job", and wait parks as an ordinary
// channel receive instead of a manual stack swap — see SPEC_FULL.md's
// Open Question resolution for the full reasoning. What survives from
// the original is everything observable from outside that collapse: the
// bounded pool of fiber slots (fiberFreeList, C4), the counter waiter
// protocol (C3) that decides when a parked fiber may resume, and the
// strict priority drain order (C1).
type fiber struct {
	index  int32
	wake   chan struct{}
	stored atomix.Bool
}

// newFiberPool allocates n fiber slots and their wake channels up front,
// matching the original's fixed fiber-array preallocation: a running
// system never allocates a new fiber, it only recycles indices through
// fiberFreeList.
func newFiberPool(n int) []*fiber {
	fibers := make([]*fiber, n)
	for i := range fibers {
		fibers[i] = &fiber{
			index: int32(i),
			wake:  make(chan struct{}, 1),
		}
	}
	return fibers
}
