// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"
	"fmt"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Group coordinates laneCount participating lanes as a single SPMD
// group: barrier synchronization, a ring-shaped broadcast buffer, and
// range-splitting helpers, grounded on JobSystem/SPMDGroup (the
// "lightweight" job system the distilled spec folds into C6).
//
// Membership is addressed through a *Lane handle returned by JoinGroup
// rather than through TLS: Go has no per-goroutine storage, so the
// original's "membership recorded in TLS" becomes an explicit value the
// caller threads through Sync/Broadcast/LeaveGroup — the same collapse
// applied to fiber identity in fiber.go/manager.go.
type Group struct {
	ID          uuid.UUID
	laneCount   int32
	nextLaneID  atomix.Int32
	arrived     atomix.Int32
	sense       atomix.Bool
	scratch     []byte
	scratchSize int
	tracer      *Tracer
}

// GroupOption configures optional Group behavior at NewGroup time.
type GroupOption func(*Group)

// WithTracer attaches a Tracer so Sync/Broadcast emit spans even when the
// Group is used outside Dispatch (which otherwise inherits the Manager's
// tracer automatically).
func WithTracer(t *Tracer) GroupOption {
	return func(g *Group) { g.tracer = t }
}

// Lane is a group membership token returned by JoinGroup/JoinGroupAuto.
type Lane struct {
	group      *Group
	id         int32
	localSense bool
}

// NewGroup allocates a barrier for laneCount lanes and a broadcast
// scratch buffer of broadcastScratchSize bytes. Matches Group::create.
func NewGroup(laneCount int, broadcastScratchSize int, opts ...GroupOption) *Group {
	if laneCount < 1 {
		panic("jobsystem: laneCount must be >= 1")
	}
	g := &Group{
		ID:          uuid.New(),
		laneCount:   int32(laneCount),
		scratch:     make([]byte, broadcastScratchSize),
		scratchSize: broadcastScratchSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// JoinGroup records membership for an explicitly chosen laneID.
func JoinGroup(g *Group, laneID int32) *Lane {
	return &Lane{group: g, id: laneID}
}

// JoinGroupAuto atomically claims the next unused lane ID.
func JoinGroupAuto(g *Group) *Lane {
	id := g.nextLaneID.AddAcqRel(1) - 1
	return &Lane{group: g, id: id}
}

// LeaveGroup releases l's membership. A nil l (a lane that never joined)
// is a programmer error and panics; for any other lane this is a no-op,
// since there is no membership table to update.
func LeaveGroup(l *Lane) {
	if l == nil {
		panic("jobsystem: LeaveGroup called on a lane that never joined")
	}
}

// LaneID returns the lane's identifier within its group.
func (l *Lane) LaneID() int32 { return l.id }

// Sync blocks until every lane in the group has called Sync once since
// the last time the barrier opened — a classic sense-reversing barrier.
// This is used instead of a C3 Counter for the repeated rendezvous: a
// waiter-table Counter is single-fire (it hands out an at-most-once wake
// per decrement to zero) and cannot safely be rearmed for indefinite
// reuse without a second handshake to guarantee every lane has already
// registered before the rearm — the sense-reversing counter sidesteps
// that race entirely while staying on this package's atomix/spin style.
func (l *Lane) Sync(ctx context.Context) {
	g := l.group
	_, span := g.tracer.startSpan(ctx, "jobsystem.spmd.sync", attribute.Int64("lane", int64(l.id)))
	defer span.End()

	l.localSense = !l.localSense
	if g.arrived.AddAcqRel(1) == g.laneCount {
		g.arrived.StoreRelease(0)
		g.sense.StoreRelease(l.localSense)
		return
	}
	for g.sense.LoadAcquire() != l.localSense {
		// busy-wait; SPMD groups are small and short-lived by design
		// (renderer shader compilation, dispatch fan-out), so a park
		// through the fiber wake channel is not worth the complexity
		// a barrier this size would add.
	}
}

// Broadcast has the root lane publish size bytes from src into the
// group's scratch buffer, then every lane (including root) copies them
// into its own dst. Three barrier waits bound the three phases exactly
// as in the original: wait, root writes, wait, everyone reads, wait.
// A src larger than the scratch buffer, or a dst shorter than src,
// returns an error before any barrier wait; nothing is logged and no
// fatal hook runs.
func (l *Lane) Broadcast(ctx context.Context, dst []byte, src []byte, rootLane int32) error {
	g := l.group
	if len(src) > g.scratchSize || len(dst) < len(src) {
		return fmt.Errorf("jobsystem: broadcast size %d exceeds scratch buffer %d", len(src), g.scratchSize)
	}
	ctx, span := g.tracer.startSpan(ctx, "jobsystem.spmd.broadcast", attribute.Int64("lane", int64(l.id)))
	defer span.End()

	l.Sync(ctx)
	if l.id == rootLane {
		copy(g.scratch, src)
	}
	l.Sync(ctx)
	copy(dst, g.scratch[:len(src)])
	l.Sync(ctx)
	return nil
}

// SplitRange balances total items across laneCount lanes, folding the
// remainder into the leading lanes, and returns lane laneID's [lo, hi).
func SplitRange(total, laneID, laneCount int) (lo, hi int) {
	base := total / laneCount
	rem := total % laneCount
	if laneID < rem {
		lo = laneID * (base + 1)
		hi = lo + base + 1
		return
	}
	lo = rem*(base+1) + (laneID-rem)*base
	hi = lo + base
	return
}

// Dispatch submits laneCount child jobs under a shared root counter;
// each job joins g under its own lane ID and runs kernel(ctx, params, laneID), then
// Dispatch waits for all of them. Matches Group::dispatch.
//
// Lane fan-out is distributed through the work-stealing deque (C2):
// Dispatch pushes one job per lane onto a local deque it owns, then a
// pool of dispatcher goroutines steal from it and hand each stolen job
// to Manager.Schedule — so a lane's actual execution still runs inside
// the full C1/C3/C4/C5 pipeline (and can itself call WaitForCounter),
// while the initial lane assignment exercises C2 instead of going
// straight through a priority ring.
func (g *Group) Dispatch(ctx context.Context, mgr *Manager, kernel func(ctx context.Context, params any, laneID int32), params any) error {
	if g.tracer == nil {
		g.tracer = mgr.opts.Tracer
	}
	ctx, span := g.tracer.startSpan(ctx, "jobsystem.spmd.dispatch", attribute.Int64("lanes", int64(g.laneCount)))
	defer span.End()

	root := NewCounter(mgr)
	dq := newDeque(int(g.laneCount))

	for i := int32(0); i < g.laneCount; i++ {
		laneID := i
		job := Job{
			Fn: func(ctx context.Context) {
				lane := JoinGroup(g, laneID)
				kernel(ctx, params, laneID)
				LeaveGroup(lane)
			},
		}
		if err := dq.push(job); err != nil {
			return err
		}
	}

	stealerCount := int(g.laneCount)
	done := make(chan error, stealerCount)
	for s := 0; s < stealerCount; s++ {
		go func() {
			sw := spin.Wait{}
			for {
				job, err := dq.steal()
				if err == nil {
					job.parent = root
					if scheduleErr := mgr.Schedule(Normal, job); scheduleErr != nil {
						done <- scheduleErr
						return
					}
					sw.Reset()
					continue
				}
				// steal's ErrWouldBlock covers both "empty" and "lost
				// the CAS race to another thief"; only the deque's own
				// len (monotonically non-increasing once Dispatch stops
				// pushing) tells the two apart.
				if dq.len() <= 0 {
					done <- nil
					return
				}
				sw.Once()
			}
		}()
	}
	for s := 0; s < stealerCount; s++ {
		if err := <-done; err != nil {
			return err
		}
	}

	return mgr.WaitForCounter(ctx, root, 0)
}
