// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// ring is the bounded MPMC priority queue (C1): a CAS-based Vyukov ring
// with per-slot sequence numbers, adapted from the lfq family's
// MPMCSeq[T] generalized from an arbitrary payload to a Job. One ring
// backs each of the three priority tiers (High/Normal/Low) inside a
// Manager.
//
// Enqueue/dequeue retry under a [spin.Wait] backoff rather than blocking,
// matching the lock-free contract C1 requires: many producers schedule
// concurrently, many workers drain concurrently, and neither side may
// ever take a lock.
type ring struct {
	_        pad
	tail     atomix.Uint64
	_        pad
	head     atomix.Uint64
	_        pad
	buffer   []ringSlot
	mask     uint64
	capacity uint64
}

type ringSlot struct {
	seq  atomix.Uint64
	data Job
	_    padShort
}

// newRing creates a ring sized for capacity jobs, rounded up to the next
// power of 2. A full ring is a fatal configuration error in the
// scheduler (see Manager.Schedule): rings are sized so this never
// triggers under the load the caller configured them for.
func newRing(capacity int) *ring {
	if capacity < 2 {
		panic("jobsystem: ring capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	q := &ring{
		buffer:   make([]ringSlot, n),
		mask:     n - 1,
		capacity: n,
	}
	for i := uint64(0); i < n; i++ {
		q.buffer[i].seq.StoreRelaxed(i)
	}
	return q
}

// enqueue adds a job to the ring. Returns ErrWouldBlock if full.
func (q *ring) enqueue(j *Job) error {
	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		slot := &q.buffer[tail&q.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(tail)

		if diff == 0 {
			if q.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.data = *j
				slot.seq.StoreRelease(tail + 1)
				return nil
			}
		} else if diff < 0 {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// dequeue removes and returns a job. Returns ErrWouldBlock if empty.
func (q *ring) dequeue() (Job, error) {
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		slot := &q.buffer[head&q.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(head+1)

		if diff == 0 {
			if q.head.CompareAndSwapAcqRel(head, head+1) {
				elem := slot.data
				slot.data = Job{}
				slot.seq.StoreRelease(head + q.capacity)
				return elem, nil
			}
		} else if diff < 0 {
			return Job{}, ErrWouldBlock
		}
		sw.Once()
	}
}

// cap returns the ring capacity (post power-of-2 rounding).
func (q *ring) cap() int {
	return int(q.capacity)
}

// len returns the approximate number of queued jobs, for Manager.Stats.
func (q *ring) len() int {
	tail := q.tail.LoadAcquire()
	head := q.head.LoadAcquire()
	if tail < head {
		return 0
	}
	return int(tail - head)
}
