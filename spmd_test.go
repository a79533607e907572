// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSplitRangeBalancesRemainder(t *testing.T) {
	tests := []struct {
		total, laneCount int
		wantLo, wantHi   []int
	}{
		{10, 3, []int{0, 4, 7}, []int{4, 7, 10}},
		{9, 3, []int{0, 3, 6}, []int{3, 6, 9}},
		{1, 1, []int{0}, []int{1}},
	}
	for _, tt := range tests {
		for lane := 0; lane < tt.laneCount; lane++ {
			lo, hi := SplitRange(tt.total, lane, tt.laneCount)
			if lo != tt.wantLo[lane] || hi != tt.wantHi[lane] {
				t.Fatalf("SplitRange(%d,%d,%d) = (%d,%d), want (%d,%d)",
					tt.total, lane, tt.laneCount, lo, hi, tt.wantLo[lane], tt.wantHi[lane])
			}
		}

		// Every element in [0, total) is covered by exactly one lane.
		covered := make([]int, tt.total)
		for lane := 0; lane < tt.laneCount; lane++ {
			lo, hi := SplitRange(tt.total, lane, tt.laneCount)
			for i := lo; i < hi; i++ {
				covered[i]++
			}
		}
		for i, c := range covered {
			if c != 1 {
				t.Fatalf("total=%d laneCount=%d: element %d covered %d times, want 1", tt.total, tt.laneCount, i, c)
			}
		}
	}
}

func TestGroupSyncRendezvous(t *testing.T) {
	const lanes = 6
	g := NewGroup(lanes, 0)

	var before, after int32
	var wg sync.WaitGroup
	wg.Add(lanes)
	for i := 0; i < lanes; i++ {
		i := i
		go func() {
			defer wg.Done()
			lane := JoinGroup(g, int32(i))
			atomic.AddInt32(&before, 1)
			lane.Sync(context.Background())
			// Every lane must observe all others having arrived.
			if atomic.LoadInt32(&before) != lanes {
				t.Errorf("lane %d resumed before all %d lanes arrived", i, lanes)
			}
			atomic.AddInt32(&after, 1)
			LeaveGroup(lane)
		}()
	}
	wg.Wait()
	if after != lanes {
		t.Fatalf("after = %d, want %d", after, lanes)
	}
}

func TestGroupSyncIsReusable(t *testing.T) {
	const lanes = 4
	const rounds = 20
	g := NewGroup(lanes, 0)

	var wg sync.WaitGroup
	wg.Add(lanes)
	for i := 0; i < lanes; i++ {
		i := i
		go func() {
			defer wg.Done()
			lane := JoinGroup(g, int32(i))
			for r := 0; r < rounds; r++ {
				lane.Sync(context.Background())
			}
		}()
	}
	wg.Wait()
}

func TestGroupBroadcast(t *testing.T) {
	const lanes = 4
	g := NewGroup(lanes, 16)

	src := []byte("hello, spmd!")
	dsts := make([][]byte, lanes)
	for i := range dsts {
		dsts[i] = make([]byte, len(src))
	}

	var wg sync.WaitGroup
	wg.Add(lanes)
	for i := 0; i < lanes; i++ {
		i := i
		go func() {
			defer wg.Done()
			lane := JoinGroup(g, int32(i))
			if err := lane.Broadcast(context.Background(), dsts[i], src, 0); err != nil {
				t.Errorf("lane %d Broadcast: %v", i, err)
			}
		}()
	}
	wg.Wait()

	for i, dst := range dsts {
		if !bytes.Equal(dst, src) {
			t.Fatalf("lane %d dst = %q, want %q", i, dst, src)
		}
	}
}

func TestGroupBroadcastOverflow(t *testing.T) {
	g := NewGroup(1, 4)
	lane := JoinGroup(g, 0)
	src := []byte("too long")
	dst := make([]byte, len(src))
	if err := lane.Broadcast(context.Background(), dst, src, 0); err == nil {
		t.Fatal("Broadcast with src exceeding scratch buffer: got nil error")
	}
}

func TestGroupDispatch(t *testing.T) {
	opts := DefaultOptions(4)
	opts.ShutdownAfterMain = true
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	const lanes = 8
	results := make([]int32, lanes)
	g := NewGroup(lanes, 0)

	runErr := mgr.Run(func(ctx context.Context) {
		err := g.Dispatch(ctx, mgr, func(ctx context.Context, params any, laneID int32) {
			atomic.StoreInt32(&results[laneID], laneID*2)
		}, nil)
		if err != nil {
			t.Errorf("Dispatch: %v", err)
		}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}

	for i, v := range results {
		if v != int32(i*2) {
			t.Fatalf("results[%d] = %d, want %d", i, v, i*2)
		}
	}
}

func TestGroupDispatchKernelCanWait(t *testing.T) {
	// Every lane parks on its own WaitForSingle while still holding its
	// own fiber slot, and that child job needs a fiber slot of its own
	// to ever run — so NumFibers must have headroom for main (parked) +
	// every lane (parked) + every lane's child (executing) all at once,
	// well beyond DefaultOptions' 2x-NumThreads sizing.
	opts := ManagerOptions{
		NumThreads:        4,
		NumFibers:         16,
		MaxParkedFibers:   12,
		QueueSizes:        defaultQueueSizes,
		ShutdownAfterMain: true,
		Logger:            discardLogger(),
	}
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	const lanes = 4
	var completed int32
	g := NewGroup(lanes, 0)

	runErr := mgr.Run(func(ctx context.Context) {
		err := g.Dispatch(ctx, mgr, func(ctx context.Context, params any, laneID int32) {
			if err := mgr.WaitForSingle(ctx, High, func(context.Context) {
				atomic.AddInt32(&completed, 1)
			}); err != nil {
				t.Errorf("lane %d WaitForSingle: %v", laneID, err)
			}
		}, nil)
		if err != nil {
			t.Errorf("Dispatch: %v", err)
		}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if completed != lanes {
		t.Fatalf("completed = %d, want %d", completed, lanes)
	}
}

func TestJoinGroupAutoAssignsDistinctLanes(t *testing.T) {
	g := NewGroup(4, 0)
	seen := make(map[int32]bool)
	for i := 0; i < 4; i++ {
		lane := JoinGroupAuto(g)
		if seen[lane.LaneID()] {
			t.Fatalf("JoinGroupAuto returned duplicate lane ID %d", lane.LaneID())
		}
		seen[lane.LaneID()] = true
	}
}
