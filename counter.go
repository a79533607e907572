// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import "code.hybscloud.com/atomix"

// maxWaiting is the waiter table size for a regular Counter. A fan-in
// wider than this is a configuration error, not a condition the system
// tries to grow out of: the original fixes the same bound in
// Counter.hpp rather than making the table dynamic, to keep a Counter
// lock-free and allocation-free for its whole life.
const maxWaiting = 5

// waiterSlot is one entry in a counter's waiter table. A slot is either
// free (no fiber waiting) or owned by exactly one parked fiber. Ownership
// transfers back to the scheduler atomically via a CAS on inUse, which is
// what makes check_waiters / add_waiter race-free against each other.
type waiterSlot struct {
	fiberIndex atomix.Int32
	target     atomix.Int64
	stored     *atomix.Bool
	inUse      atomix.Bool
	free       atomix.Bool
	_          [64 - 4 - 8 - 1 - 1]byte
}

// Counter is a lock-free atomic count with a fixed-size table of fiber
// waiters, grounded on JobSystem/Counter.hpp and Counter.cpp. Schedule
// increments a job's attached Counter before enqueuing it; the scheduler
// decrements it when the job completes. WaitForCounter parks the calling
// fiber in the first free waiter slot and hands it back to the scheduler
// once the counter reaches the fiber's target value.
//
// A Counter is safe for concurrent use by multiple scheduler workers and
// at most maxWaiting concurrently parked fibers; a wait beyond that
// capacity is a fatal configuration error (see addWaiter).
type Counter struct {
	v       atomix.Int64
	waiters [maxWaiting]waiterSlot
	mgr     *Manager
}

// TinyCounter is a Counter with room for exactly one waiter, used by
// WaitForSingle so a single-job wait doesn't pay for a 5-slot table it
// will never need more than one of.
type TinyCounter struct {
	v       atomix.Int64
	waiters [1]waiterSlot
	mgr     *Manager
}

// NewCounter returns a zero-valued Counter bound to mgr, with every
// waiter slot marked free. mgr is only used to resume a woken waiter's
// fiber through Manager.wakeFiber; see checkWaiters.
func NewCounter(mgr *Manager) *Counter {
	c := &Counter{mgr: mgr}
	for i := range c.waiters {
		c.waiters[i].free.StoreRelaxed(true)
	}
	return c
}

// NewTinyCounter returns a zero-valued TinyCounter bound to mgr, with its
// single waiter slot marked free.
func NewTinyCounter(mgr *Manager) *TinyCounter {
	c := &TinyCounter{mgr: mgr}
	c.waiters[0].free.StoreRelaxed(true)
	return c
}

// Value returns the counter's current value.
func (c *Counter) Value() uint32 { return uint32(c.v.LoadAcquire()) }

// Value returns the counter's current value.
func (c *TinyCounter) Value() uint32 { return uint32(c.v.LoadAcquire()) }

func (c *Counter) value() uint32     { return c.Value() }
func (c *TinyCounter) value() uint32 { return c.Value() }

// increment performs a seq-cst fetch_add and re-evaluates waiters
// against the new value, returning the prior value. A counter is only
// ever incremented by Schedule, before the job it guards is visible to
// any worker.
func (c *Counter) increment(n uint32) uint32 {
	next := c.v.AddAcqRel(int64(n))
	c.checkWaiters(c.waiters[:], next)
	return uint32(next) - n
}

func (c *TinyCounter) increment(n uint32) uint32 {
	next := c.v.AddAcqRel(int64(n))
	c.checkWaiters(c.waiters[:], next)
	return uint32(next) - n
}

// decrement performs a seq-cst fetch_sub and re-evaluates waiters
// against the new value, returning the prior value. Called by the
// scheduler exactly once per completed job that carries this counter.
func (c *Counter) decrement(n uint32) uint32 {
	next := c.v.AddAcqRel(-int64(n))
	c.checkWaiters(c.waiters[:], next)
	return uint32(next) + n
}

func (c *TinyCounter) decrement(n uint32) uint32 {
	next := c.v.AddAcqRel(-int64(n))
	c.checkWaiters(c.waiters[:], next)
	return uint32(next) + n
}

// addWaiter installs fiberIndex as a waiter for target, returning
// alreadyDone=true without installing anything if the counter already
// reads target. stored is set true (relaxed) by Manager.wakeFiber when
// the waiter is woken.
//
// Returns ErrCounterOverflow if every waiter slot is occupied — a fatal
// configuration error (a job graph with wider fan-in than maxWaiting/1
// concurrent waiters on one counter).
func (c *Counter) addWaiter(fiberIndex int32, target uint32, stored *atomix.Bool) (bool, error) {
	return addWaiter(c.waiters[:], &c.v, fiberIndex, target, stored)
}

func (c *TinyCounter) addWaiter(fiberIndex int32, target uint32, stored *atomix.Bool) (bool, error) {
	return addWaiter(c.waiters[:], &c.v, fiberIndex, target, stored)
}

// addWaiter is the shared implementation behind Counter.addWaiter and
// TinyCounter.addWaiter: claim the first free slot via CAS on free,
// publish fiberIndex/target, then re-check the live value in case a
// decrement raced us between the initial read and the claim.
func addWaiter(slots []waiterSlot, v *atomix.Int64, fiberIndex int32, target uint32, stored *atomix.Bool) (bool, error) {
	t := int64(target)
	if v.LoadAcquire() == t {
		return true, nil
	}

	for i := range slots {
		s := &slots[i]
		if !s.free.CompareAndSwapAcqRel(true, false) {
			continue
		}
		s.fiberIndex.StoreRelaxed(fiberIndex)
		s.target.StoreRelaxed(t)
		s.stored = stored
		s.inUse.StoreRelease(false)

		// A decrement may have already passed the value we are
		// about to wait on while we were claiming the slot; if so,
		// try to win the wake ourselves instead of parking forever.
		if v.LoadAcquire() == t && s.inUse.CompareAndSwapAcqRel(false, true) {
			s.free.StoreRelease(true)
			return true, nil
		}
		return false, nil
	}
	return false, ErrCounterOverflow
}

// checkWaiters scans the waiter table for slots whose target equals
// newValue and that are not already claimed, wins ownership of each via
// CAS on inUse, and resumes the fiber through Manager.wakeFiber.
// Losers of the CAS race (another decrement already claimed the slot)
// are skipped; this is what guarantees at-most-once wake per slot.
func (c *Counter) checkWaiters(slots []waiterSlot, newValue int64) {
	checkWaiters(c.mgr, slots, newValue)
}

func (c *TinyCounter) checkWaiters(slots []waiterSlot, newValue int64) {
	checkWaiters(c.mgr, slots, newValue)
}

func checkWaiters(mgr *Manager, slots []waiterSlot, newValue int64) {
	for i := range slots {
		s := &slots[i]
		if s.free.LoadAcquire() {
			continue
		}
		if s.target.LoadAcquire() != newValue {
			continue
		}
		if !s.inUse.CompareAndSwapAcqRel(false, true) {
			continue
		}
		fiberIndex := s.fiberIndex.LoadAcquire()
		stored := s.stored
		s.free.StoreRelease(true)
		if mgr != nil {
			mgr.wakeFiber(fiberIndex, stored)
		}
	}
}
