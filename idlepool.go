// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// fiberFreeList is the idle-fiber pool (C4): a lock-free MPMC queue of
// fiber indices, any worker goroutine may push a fiber back (release)
// or pop one (acquire) concurrently.
//
// This replaces the bitmap-plus-CAS-scan design in the original
// jobSystem::Manager::findFreeFiber with an FAA-based SCQ ring carrying
// fiber indices, adapted from the lfq family's MPMCIndirect (128-bit
// packed cycle+value atomic entry, 2n physical slots for capacity n).
// A free list scales the same way a bitmap scan does under light
// contention and strictly better once NumFibers grows past a few dozen,
// since acquiring a fiber no longer means scanning the whole bitmap.
type fiberFreeList struct {
	_         pad
	tail      atomix.Uint64
	_         pad
	head      atomix.Uint64
	_         pad
	threshold atomix.Int64
	_         pad
	buffer    []freeListSlot
	capacity  uint64
	size      uint64
	mask      uint64
}

type freeListSlot struct {
	entry atomix.Uint128 // lo=cycle, hi=fiber index (+1, so 0 is never ambiguous with "empty")
	_     [64 - 16]byte
}

// newFiberFreeList creates a free list sized for numFibers entries, all
// pre-populated with fiber indices [0, numFibers).
func newFiberFreeList(numFibers int) *fiberFreeList {
	n := uint64(roundToPow2(numFibers))
	size := n * 2

	q := &fiberFreeList{
		buffer:   make([]freeListSlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	q.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		q.buffer[i].entry.StoreRelaxed(i/n, 0)
	}
	for i := 0; i < numFibers; i++ {
		_ = q.release(int32(i))
	}
	return q
}

// release returns a fiber index to the free list.
func (q *fiberFreeList) release(fiberIndex int32) error {
	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		head := q.head.LoadAcquire()
		if tail >= head+q.capacity {
			return ErrWouldBlock
		}

		myTail := q.tail.AddAcqRel(1) - 1
		slot := &q.buffer[myTail&q.mask]
		expectedCycle := myTail / q.capacity

		slotCycle, valHi := slot.entry.LoadAcquire()
		if slotCycle == expectedCycle {
			if slot.entry.CompareAndSwapAcqRel(expectedCycle, valHi, expectedCycle+1, uint64(fiberIndex)+1) {
				q.threshold.StoreRelaxed(3*int64(q.capacity) - 1)
				return nil
			}
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// acquire removes and returns a fiber index, or ok=false if none is free.
func (q *fiberFreeList) acquire() (fiberIndex int32, ok bool) {
	if q.threshold.LoadRelaxed() < 0 {
		return 0, false
	}

	sw := spin.Wait{}
	for {
		myHead := q.head.AddAcqRel(1) - 1
		slot := &q.buffer[myHead&q.mask]
		expectedCycle := myHead/q.capacity + 1
		slotCycle, valHi := slot.entry.LoadAcquire()

		if slotCycle == expectedCycle {
			nextEnqCycle := (myHead + q.size) / q.capacity
			if slot.entry.CompareAndSwapAcqRel(slotCycle, valHi, nextEnqCycle, 0) {
				return int32(valHi) - 1, true
			}
		}

		if int64(slotCycle) < int64(expectedCycle) {
			nextEnqCycle := (myHead + q.size) / q.capacity
			slot.entry.CompareAndSwapAcqRel(slotCycle, valHi, nextEnqCycle, 0)

			tail := q.tail.LoadAcquire()
			if tail <= myHead+1 {
				q.catchup(tail, myHead+1)
				q.threshold.AddAcqRel(-1)
				return 0, false
			}
			if q.threshold.AddAcqRel(-1) <= 0 {
				return 0, false
			}
		}
		sw.Once()
	}
}

func (q *fiberFreeList) catchup(tail, head uint64) {
	for tail < head {
		if q.tail.CompareAndSwapRelaxed(tail, head) {
			break
		}
		tail = q.tail.LoadRelaxed()
		head = q.head.LoadRelaxed()
	}
}
