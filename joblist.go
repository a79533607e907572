// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"

	"github.com/google/uuid"
)

// JobList accumulates jobs under one shared Counter and a default
// priority, then waits on all of them at once — a small convenience
// restored from JobSystem/JobList.hpp/.cpp that the distilled spec
// dropped. Add schedules fn immediately; Wait blocks the calling fiber
// until every job added so far has completed.
//
// ID is a uuid for log correlation and trace span attributes, grounded
// on seike460-s3ry's use of github.com/google/uuid for the same purpose.
type JobList struct {
	ID       uuid.UUID
	mgr      *Manager
	priority Priority
	counter  *Counter
}

// NewJobList creates a JobList bound to mgr, scheduling every job Add
// receives at priority.
func NewJobList(mgr *Manager, priority Priority) *JobList {
	return &JobList{
		ID:       uuid.New(),
		mgr:      mgr,
		priority: priority,
		counter:  NewCounter(mgr),
	}
}

// Add schedules fn under the list's shared counter and priority.
func (l *JobList) Add(fn func(ctx context.Context)) error {
	return l.mgr.Schedule(l.priority, Job{Fn: fn, Counter: l.counter})
}

// Wait blocks the calling fiber until every job Add has scheduled so far
// has completed.
func (l *JobList) Wait(ctx context.Context) error {
	return l.mgr.WaitForCounter(ctx, l.counter, 0)
}

// Count returns the number of jobs added to the list that have not yet
// completed.
func (l *JobList) Count() uint32 {
	return l.counter.Value()
}
