// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// completionEvent is recorded once per finished job, for aggregation by
// the single telemetry consumer goroutine a Manager may optionally run.
type completionEvent struct {
	priority Priority
	parked   bool
}

// completionRing is a bounded multi-producer/single-consumer queue of
// completionEvents, adapted from the teacher's MPSC sequenced ring
// (every dispatch-loop goroutine may publish a completion event
// concurrently; exactly one telemetry goroutine drains it) rather than
// the full MPMC ring C1 uses, since there is never more than one
// consumer here.
type completionRing struct {
	_      pad
	tail   atomix.Uint64
	_      pad
	head   atomix.Uint64
	_      pad
	buffer []completionSlot
	mask   uint64
}

type completionSlot struct {
	seq  atomix.Uint64
	data completionEvent
	_    padShort
}

func newCompletionRing(capacity int) *completionRing {
	n := uint64(roundToPow2(capacity))
	r := &completionRing{
		buffer: make([]completionSlot, n),
		mask:   n - 1,
	}
	for i := uint64(0); i < n; i++ {
		r.buffer[i].seq.StoreRelaxed(i)
	}
	return r
}

// publish is the multi-producer side; drops the event (returning false)
// rather than blocking a worker if the telemetry consumer falls behind,
// since telemetry must never add backpressure to job execution.
func (r *completionRing) publish(ev completionEvent) bool {
	sw := spin.Wait{}
	for attempts := 0; attempts < 8; attempts++ {
		tail := r.tail.LoadAcquire()
		slot := &r.buffer[tail&r.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(tail)

		if diff == 0 {
			if r.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.data = ev
				slot.seq.StoreRelease(tail + 1)
				return true
			}
		} else if diff < 0 {
			return false
		}
		sw.Once()
	}
	return false
}

// drain is the single-consumer side: pop one event, or ok=false if empty.
func (r *completionRing) drain() (completionEvent, bool) {
	head := r.head.LoadAcquire()
	slot := &r.buffer[head&r.mask]
	seq := slot.seq.LoadAcquire()
	diff := int64(seq) - int64(head+1)
	if diff != 0 {
		return completionEvent{}, false
	}
	ev := slot.data
	slot.seq.StoreRelease(head + uint64(len(r.buffer)))
	r.head.StoreRelease(head + 1)
	return ev, true
}

// TelemetrySnapshot aggregates completion counts observed by the
// telemetry consumer goroutine, per priority and park/resume activity.
type TelemetrySnapshot struct {
	Completed  [numPriorities]uint64
	ParkEvents uint64
}

// telemetryAggregator drains a completionRing on its own goroutine and
// keeps running totals; started by Manager.StartTelemetry.
type telemetryAggregator struct {
	ring    *completionRing
	stopCh  chan struct{}
	snap    TelemetrySnapshot
	mu      atomix.Bool // guards snap via a simple spin-lock: telemetry is not on the hot path
}

func newTelemetryAggregator(capacity int) *telemetryAggregator {
	return &telemetryAggregator{ring: newCompletionRing(capacity), stopCh: make(chan struct{})}
}

func (t *telemetryAggregator) lock() {
	for !t.mu.CompareAndSwapAcqRel(false, true) {
	}
}

func (t *telemetryAggregator) unlock() { t.mu.StoreRelease(false) }

func (t *telemetryAggregator) run() {
	bo := spin.Wait{}
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}
		ev, ok := t.ring.drain()
		if !ok {
			bo.Once()
			continue
		}
		t.lock()
		t.snap.Completed[ev.priority]++
		if ev.parked {
			t.snap.ParkEvents++
		}
		t.unlock()
	}
}

func (t *telemetryAggregator) snapshot() TelemetrySnapshot {
	t.lock()
	s := t.snap
	t.unlock()
	return s
}

func (t *telemetryAggregator) stop() { close(t.stopCh) }
