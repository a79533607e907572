// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
	"go.opentelemetry.io/otel/attribute"
)

// Manager is the scheduler (C5): it owns the three priority rings (C1),
// the bounded fiber pool and idle-fiber free list (C4), and the
// execution-admission semaphore that bounds concurrently executing job
// code. Grounded on JobSystem/Manager.hpp, Manager.cpp, and
// ManagerJobs.cpp, with the fiber-switch machinery collapsed onto
// goroutines per SPEC_FULL.md's Open Question resolution.
type Manager struct {
	opts      ManagerOptions
	rings     [numPriorities]*ring
	fibers    []*fiber
	freeList  *fiberFreeList
	threadSem chan struct{}

	shuttingDown atomix.Bool
	stopCh       chan struct{}
	wg           sync.WaitGroup

	telemetry *telemetryAggregator
}

// StartTelemetry starts a background goroutine aggregating per-priority
// completion counts. Safe to call at most once per Manager; a Manager
// with no telemetry started simply never publishes events (runFiber's
// publish call is a cheap nil check away from becoming a no-op).
func (m *Manager) StartTelemetry(ringCapacity int) {
	m.telemetry = newTelemetryAggregator(ringCapacity)
	go m.telemetry.run()
}

// Telemetry returns the current aggregated counts, or the zero
// value if StartTelemetry was never called.
func (m *Manager) Telemetry() TelemetrySnapshot {
	if m.telemetry == nil {
		return TelemetrySnapshot{}
	}
	return m.telemetry.snapshot()
}

type ctxKey struct{}

var fiberCtxKey ctxKey

// fiberHandle is what WaitForCounter finds on ctx to identify which
// fiber is calling it — the Go stand-in for the original's TLS-based
// "current fiber" lookup.
type fiberHandle struct {
	mgr *Manager
	f   *fiber
	tls *workerTLS
}

func withFiber(ctx context.Context, h *fiberHandle) context.Context {
	return context.WithValue(ctx, fiberCtxKey, h)
}

func fiberFromContext(ctx context.Context) (*fiberHandle, bool) {
	h, ok := ctx.Value(fiberCtxKey).(*fiberHandle)
	return h, ok
}

// NewManager validates opts and builds a Manager. Returns an error (and
// logs Critical through opts.Logger) if NumThreads < 1 or if NumFibers
// is too small to guarantee a free fiber is always reachable — see
// SPEC_FULL.md §13.
func NewManager(opts ManagerOptions) (*Manager, error) {
	opts.normalize()

	if opts.NumThreads < 1 {
		opts.Logger.Critical("jobsystem: NumThreads must be >= 1", "numThreads", opts.NumThreads)
		return nil, fmt.Errorf("jobsystem: invalid NumThreads %d", opts.NumThreads)
	}
	if opts.NumFibers < opts.NumThreads+opts.MaxParkedFibers {
		opts.Logger.Critical("jobsystem: NumFibers too small for NumThreads+MaxParkedFibers",
			"numFibers", opts.NumFibers, "numThreads", opts.NumThreads, "maxParkedFibers", opts.MaxParkedFibers)
		return nil, fmt.Errorf("jobsystem: NumFibers (%d) must be >= NumThreads+MaxParkedFibers (%d)",
			opts.NumFibers, opts.NumThreads+opts.MaxParkedFibers)
	}

	m := &Manager{
		opts:      opts,
		fibers:    newFiberPool(opts.NumFibers),
		freeList:  newFiberFreeList(opts.NumFibers),
		threadSem: make(chan struct{}, opts.NumThreads),
		stopCh:    make(chan struct{}),
	}
	for p := 0; p < numPriorities; p++ {
		m.rings[p] = newRing(opts.QueueSizes[p])
	}
	return m, nil
}

// Schedule enqueues job at priority. If job carries a counter (Job.Counter
// or Job.parent), it is incremented before the job becomes visible to any
// worker, matching the original's increment-then-enqueue order. Returns
// ErrShuttingDown if Shutdown has already been called, or the ring's
// ErrWouldBlock (logged Critical first, per the failure model in
// spec.md §7) if the target priority's ring is full.
func (m *Manager) Schedule(priority Priority, job Job) error {
	if m.shuttingDown.LoadAcquire() {
		return ErrShuttingDown
	}
	if job.Fn == nil {
		m.opts.Logger.Critical("jobsystem: scheduled job has nil Fn")
		return fmt.Errorf("jobsystem: job.Fn must not be nil")
	}
	if job.Counter != nil {
		job.Counter.increment(1)
	}
	if job.parent != nil {
		job.parent.increment(1)
	}
	if err := m.rings[priority].enqueue(&job); err != nil {
		m.opts.Logger.Critical("jobsystem: priority ring full", "priority", priority.String())
		return err
	}
	return nil
}

// WaitForCounter parks the calling fiber until c reads target, or returns
// immediately if it already does. ctx must carry the fiber identity of
// the goroutine currently executing a scheduled Job (or Run's main) —
// calling this outside that context is a programmer error.
func (m *Manager) WaitForCounter(ctx context.Context, c countable, target uint32) error {
	if c.value() == target {
		return nil
	}
	h, ok := fiberFromContext(ctx)
	if !ok {
		return fmt.Errorf("jobsystem: WaitForCounter called outside a scheduled fiber")
	}

	done, err := c.addWaiter(h.f.index, target, &h.f.stored)
	if err != nil {
		m.opts.Logger.Critical("jobsystem: counter waiter table exhausted", "fiber", h.f.index)
		return err
	}
	if done {
		return nil
	}

	_, span := m.opts.Tracer.startSpan(ctx, "jobsystem.wait", attribute.Int64("target", int64(target)))
	h.tls.onPark()
	<-m.threadSem // give up the execution slot while parked
	<-h.f.wake    // block until checkWaiters wakes this fiber
	m.threadSem <- struct{}{}
	h.tls.onResume()
	span.End()
	return nil
}

// WaitForSingle schedules fn at priority under a fresh TinyCounter and
// waits for it, equivalent to the original's wait_for_single.
func (m *Manager) WaitForSingle(ctx context.Context, priority Priority, fn func(ctx context.Context)) error {
	tc := NewTinyCounter(m)
	if err := m.Schedule(priority, Job{Fn: fn, Counter: tc}); err != nil {
		return err
	}
	return m.WaitForCounter(ctx, tc, 0)
}

// Run starts NumThreads-1 background dispatch loops, runs main on a
// fiber bound to the calling goroutine, and on return either shuts the
// scheduler down (if opts.ShutdownAfterMain) or folds the calling
// goroutine into the dispatch pool — matching Manager::run in the
// original, where thread 0 converts itself, spawns workers 1..N, runs
// main on a rebound fiber, then either shuts down or keeps working.
func (m *Manager) Run(main func(ctx context.Context)) error {
	for i := 1; i < m.opts.NumThreads; i++ {
		m.wg.Add(1)
		go m.dispatchLoop(i)
	}

	idx, ok := m.freeList.acquire()
	if !ok {
		m.opts.Logger.Critical("jobsystem: no free fiber for Run's main callback")
		return fmt.Errorf("jobsystem: no free fiber available")
	}
	f := m.fibers[idx]
	tls := newWorkerTLS(0)

	m.threadSem <- struct{}{}
	tls.enter(f.index)
	ctx := withFiber(context.Background(), &fiberHandle{mgr: m, f: f, tls: tls})
	main(ctx)
	tls.leave()
	<-m.threadSem
	_ = m.freeList.release(f.index)

	if m.opts.ShutdownAfterMain {
		return m.Shutdown(true)
	}
	m.wg.Add(1)
	m.dispatchLoop(0)
	return nil
}

// Shutdown signals every dispatch loop to stop picking up new work. If
// blocking, it waits for all dispatch loops to exit before returning;
// fibers already executing or parked are not forcibly cancelled (no
// cancellation of in-flight jobs is a stated Non-goal).
func (m *Manager) Shutdown(blocking bool) error {
	if m.shuttingDown.CompareAndSwapAcqRel(false, true) {
		close(m.stopCh)
		if m.telemetry != nil {
			m.telemetry.stop()
		}
	}
	if blocking {
		m.wg.Wait()
	}
	return nil
}

// wakeFiber is called by a counter's checkWaiters once it wins the CAS
// to wake fiberIndex. It sets stored (the original's stored_flag,
// relaxed) and resumes the parked goroutine by sending on its wake
// channel — the at-most-once wake guarantee comes from checkWaiters'
// CAS on the waiter slot, not from this send.
func (m *Manager) wakeFiber(fiberIndex int32, stored *atomix.Bool) {
	if stored != nil {
		stored.StoreRelaxed(true)
	}
	f := m.fibers[fiberIndex]
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop is one worker's poll loop: drain High, then Normal, then
// Low; on an empty pass, back off. Every dequeued job runs on a freshly
// acquired fiber in its own goroutine so the loop is never blocked by a
// job that parks.
func (m *Manager) dispatchLoop(threadIndex int) {
	defer m.wg.Done()
	bo := iox.Backoff{}

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		job, priority, ok := m.nextJob()
		if !ok {
			bo.Wait()
			continue
		}
		bo.Reset()

		idx, ok := m.freeList.acquire()
		if !ok {
			m.opts.Logger.Warn("jobsystem: no free fiber, spinning until one is released", "thread", threadIndex)
			sw := spin.Wait{}
			for !ok {
				select {
				case <-m.stopCh:
					return
				default:
				}
				sw.Once()
				idx, ok = m.freeList.acquire()
			}
		}
		f := m.fibers[idx]
		// Each fiber gets its own workerTLS: unlike the original's
		// strictly single-fiber-per-thread execution, this loop may
		// have several fibers from the same dispatch thread in flight
		// at once (one running, others freshly spawned), so TLS can no
		// longer be shared across them without a race.
		go m.runFiber(f, job, priority, newWorkerTLS(threadIndex))
	}
}

// nextJob tries each priority ring in strict order and returns the first
// available job along with the priority it was drained from.
func (m *Manager) nextJob() (Job, Priority, bool) {
	for p := 0; p < numPriorities; p++ {
		if job, err := m.rings[p].dequeue(); err == nil {
			return job, Priority(p), true
		}
	}
	return Job{}, High, false
}

// runFiber executes job on fiber f: acquire the execution-admission
// slot, run Job.Fn (which may park and resume any number of times
// through WaitForCounter), release the slot, then return f to the idle
// pool. Matches JobInfo::execute's role in the original, with the
// thread-slot semaphore taking over from OS-thread pinning.
func (m *Manager) runFiber(f *fiber, job Job, priority Priority, tls *workerTLS) {
	m.threadSem <- struct{}{}
	tls.enter(f.index)
	ctx := withFiber(context.Background(), &fiberHandle{mgr: m, f: f, tls: tls})
	ctx, span := m.opts.Tracer.startSpan(ctx, "jobsystem.job",
		attribute.String("priority", priority.String()))
	parksBefore := tls.parkCount.LoadAcquire()
	job.execute(ctx)
	span.End()
	tls.leave()
	<-m.threadSem
	_ = m.freeList.release(f.index)

	if m.telemetry != nil {
		m.telemetry.ring.publish(completionEvent{
			priority: priority,
			parked:   tls.parkCount.LoadAcquire() > parksBefore,
		})
	}
}

// ManagerStats is a point-in-time snapshot for logging/metrics. Queue
// depths are read from the priority rings and are approximate under
// concurrent access.
type ManagerStats struct {
	QueueDepth [numPriorities]int
}

// Stats returns a snapshot of the three priority rings' approximate
// depths.
func (m *Manager) Stats() ManagerStats {
	var s ManagerStats
	for p := 0; p < numPriorities; p++ {
		s.QueueDepth[p] = m.rings[p].len()
	}
	return s
}
