// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import "code.hybscloud.com/atomix"

// deque is the fixed-capacity Chase–Lev work-stealing deque (C2) backing
// the lightweight SPMD dispatch path (C6). The owning worker pushes and
// pops from bottom (LIFO, no contention in the common case); any other
// worker may concurrently steal from top (FIFO) via a single CAS.
//
// Grounded on the traditional Chase-Lev deque shape, restyled onto this
// package's atomix/pad conventions in place of bare sync/atomic and a
// steal-side mutex: the steal race is resolved with a CAS on top alone,
// matching how C1's ring resolves its own head/tail races.
type deque struct {
	_      pad
	bottom atomix.Int64
	_      pad
	top    atomix.Int64
	_      pad
	tasks  []Job
	mask   int64
}

// newDeque creates a deque with capacity rounded up to a power of 2.
func newDeque(capacity int) *deque {
	n := roundToPow2(capacity)
	return &deque{
		tasks: make([]Job, n),
		mask:  int64(n) - 1,
	}
}

// push adds j to the bottom. Owner-only; never called concurrently with
// itself or pop. Returns ErrWouldBlock if the deque is full.
func (d *deque) push(j Job) error {
	b := d.bottom.LoadRelaxed()
	t := d.top.LoadAcquire()
	if b-t >= int64(len(d.tasks)) {
		return ErrWouldBlock
	}
	d.tasks[b&d.mask] = j
	d.bottom.StoreRelease(b + 1)
	return nil
}

// pop removes and returns the most recently pushed job. Owner-only.
// Returns ErrWouldBlock if empty.
func (d *deque) pop() (Job, error) {
	b := d.bottom.LoadRelaxed() - 1
	d.bottom.StoreRelease(b)
	t := d.top.LoadAcquire()

	if t > b {
		d.bottom.StoreRelease(t)
		return Job{}, ErrWouldBlock
	}

	j := d.tasks[b&d.mask]
	if t == b {
		if !d.top.CompareAndSwapAcqRel(t, t+1) {
			d.bottom.StoreRelease(b + 1)
			return Job{}, ErrWouldBlock
		}
		d.bottom.StoreRelease(b + 1)
	}
	return j, nil
}

// steal removes and returns the least recently pushed job. Called by any
// worker other than the owner; safe to call from many goroutines
// concurrently with each other and with the owner's push/pop. Returns
// ErrWouldBlock if empty or if this steal lost a race to another thief
// or to the owner's pop.
func (d *deque) steal() (Job, error) {
	t := d.top.LoadAcquire()
	b := d.bottom.LoadAcquire()
	if t >= b {
		return Job{}, ErrWouldBlock
	}

	j := d.tasks[t&d.mask]
	if !d.top.CompareAndSwapAcqRel(t, t+1) {
		return Job{}, ErrWouldBlock
	}
	return j, nil
}

// len returns the approximate number of queued jobs.
func (d *deque) len() int {
	b := d.bottom.LoadAcquire()
	t := d.top.LoadAcquire()
	if b < t {
		return 0
	}
	return int(b - t)
}
