// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import "code.hybscloud.com/atomix"

// workerTLS is the per-fiber-execution bookkeeping block, grounded
// on JobSystem/ThreadLocalStorage.hpp. The original's TLS exists because
// a worker OS thread needs somewhere to stash its current fiber, its
// previous fiber (for post-switch cleanup), and a lock-free
// ready_fibers list that only that worker ever drains.
//
// Once fiber resumption is an ordinary goroutine wakeup (see fiber.go),
// no ready_fibers list is needed, and this struct has none: the Go
// scheduler, not a worker's dispatch loop, is what re-examines a resumed
// fiber. workerTLS is kept anyway — one per fiber execution, created by
// the dispatch loop and passed down rather than a global — purely for
// the same debugging visibility the original gets from TLS: which fiber
// it is currently carrying, and a running count of how many
// times it has parked and resumed, both useful in logs and traces
// without affecting scheduling correctness.
type workerTLS struct {
	threadIndex  int
	currentFiber int32
	parkCount    atomix.Int64
	resumeCount  atomix.Int64
}

func newWorkerTLS(threadIndex int) *workerTLS {
	return &workerTLS{threadIndex: threadIndex, currentFiber: -1}
}

func (t *workerTLS) enter(fiberIndex int32) {
	t.currentFiber = fiberIndex
}

func (t *workerTLS) leave() {
	t.currentFiber = -1
}

func (t *workerTLS) onPark() {
	t.parkCount.AddAcqRel(1)
}

func (t *workerTLS) onResume() {
	t.resumeCount.AddAcqRel(1)
}
