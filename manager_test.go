// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

func discardLogger() *Logger {
	l := NewLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.OnFatal = func(string) {}
	return l
}

func TestNewManagerRejectsZeroThreads(t *testing.T) {
	opts := DefaultOptions(0)
	opts.Logger = discardLogger()
	if _, err := NewManager(opts); err == nil {
		t.Fatal("NewManager with NumThreads=0: got nil error")
	}
}

func TestNewManagerRejectsInsufficientFibers(t *testing.T) {
	opts := ManagerOptions{
		NumThreads:      4,
		NumFibers:       4,
		MaxParkedFibers: 2,
		QueueSizes:      defaultQueueSizes,
		Logger:          discardLogger(),
	}
	if _, err := NewManager(opts); err == nil {
		t.Fatal("NewManager with NumFibers < NumThreads+MaxParkedFibers: got nil error")
	}
}

func TestManagerNextJobPriorityOrder(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := mgr.Schedule(Low, Job{Fn: func(context.Context) {}}); err != nil {
		t.Fatalf("schedule Low: %v", err)
	}
	if err := mgr.Schedule(Normal, Job{Fn: func(context.Context) {}}); err != nil {
		t.Fatalf("schedule Normal: %v", err)
	}
	if err := mgr.Schedule(High, Job{Fn: func(context.Context) {}}); err != nil {
		t.Fatalf("schedule High: %v", err)
	}

	wantOrder := []Priority{High, Normal, Low}
	for i, want := range wantOrder {
		_, got, ok := mgr.nextJob()
		if !ok {
			t.Fatalf("nextJob(%d): empty, want %s", i, want)
		}
		if got != want {
			t.Fatalf("nextJob(%d) = %s, want %s", i, got, want)
		}
	}
	if _, _, ok := mgr.nextJob(); ok {
		t.Fatal("nextJob on drained rings: ok = true, want false")
	}
}

func TestManagerScheduleRejectsNilFn(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Schedule(Normal, Job{}); err == nil {
		t.Fatal("Schedule with nil Fn: got nil error")
	}
}

func TestManagerScheduleAndWaitForCounter(t *testing.T) {
	opts := DefaultOptions(4)
	opts.ShutdownAfterMain = true
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var total int64
	const n = 200

	runErr := mgr.Run(func(ctx context.Context) {
		c := NewCounter(mgr)
		for i := 0; i < n; i++ {
			if err := mgr.Schedule(Normal, Job{
				Fn:      func(context.Context) { atomic.AddInt64(&total, 1) },
				Counter: c,
			}); err != nil {
				t.Errorf("schedule(%d): %v", i, err)
			}
		}
		if err := mgr.WaitForCounter(ctx, c, 0); err != nil {
			t.Errorf("WaitForCounter: %v", err)
		}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if got := atomic.LoadInt64(&total); got != n {
		t.Fatalf("total = %d, want %d", got, n)
	}
}

func TestManagerWaitForSingle(t *testing.T) {
	opts := DefaultOptions(2)
	opts.ShutdownAfterMain = true
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var ran bool
	runErr := mgr.Run(func(ctx context.Context) {
		if err := mgr.WaitForSingle(ctx, High, func(context.Context) { ran = true }); err != nil {
			t.Errorf("WaitForSingle: %v", err)
		}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if !ran {
		t.Fatal("WaitForSingle job did not run")
	}
}

func TestManagerWaitForCounterOutsideFiber(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	c := NewCounter(mgr)
	if err := mgr.WaitForCounter(context.Background(), c, 0); err != nil {
		t.Fatal("WaitForCounter with counter already at target: want nil error even outside a fiber")
	}

	c.increment(1)
	if err := mgr.WaitForCounter(context.Background(), c, 0); err == nil {
		t.Fatal("WaitForCounter outside a scheduled fiber: got nil error, want a programmer-error")
	}
}

func TestManagerScheduleAfterShutdown(t *testing.T) {
	opts := DefaultOptions(2)
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Shutdown(false); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := mgr.Schedule(Normal, Job{Fn: func(context.Context) {}}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Schedule after Shutdown: got %v, want ErrShuttingDown", err)
	}
}

func TestManagerStats(t *testing.T) {
	opts := DefaultOptions(1)
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := mgr.Schedule(Low, Job{Fn: func(context.Context) {}}); err != nil {
			t.Fatalf("schedule(%d): %v", i, err)
		}
	}
	stats := mgr.Stats()
	if stats.QueueDepth[Low] != 5 {
		t.Fatalf("QueueDepth[Low] = %d, want 5", stats.QueueDepth[Low])
	}
	if stats.QueueDepth[High] != 0 || stats.QueueDepth[Normal] != 0 {
		t.Fatalf("unexpected non-Low queue depth: %+v", stats)
	}
}

func TestJobListFanOutAndJoin(t *testing.T) {
	opts := DefaultOptions(4)
	opts.ShutdownAfterMain = true
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var total int64
	const n = 64

	runErr := mgr.Run(func(ctx context.Context) {
		list := NewJobList(mgr, Normal)
		for i := 0; i < n; i++ {
			if err := list.Add(func(context.Context) { atomic.AddInt64(&total, 1) }); err != nil {
				t.Errorf("Add(%d): %v", i, err)
			}
		}
		if err := list.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
		}
		if got := list.Count(); got != 0 {
			t.Errorf("Count after Wait = %d, want 0", got)
		}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if got := atomic.LoadInt64(&total); got != n {
		t.Fatalf("total = %d, want %d", got, n)
	}
}

func TestManagerTelemetry(t *testing.T) {
	opts := DefaultOptions(4)
	opts.ShutdownAfterMain = true
	opts.Logger = discardLogger()
	mgr, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.StartTelemetry(64)

	const n = 32
	runErr := mgr.Run(func(ctx context.Context) {
		c := NewCounter(mgr)
		for i := 0; i < n; i++ {
			if err := mgr.Schedule(High, Job{Fn: func(context.Context) {}, Counter: c}); err != nil {
				t.Errorf("schedule(%d): %v", i, err)
			}
		}
		if err := mgr.WaitForCounter(ctx, c, 0); err != nil {
			t.Errorf("WaitForCounter: %v", err)
		}
	})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}

	// Telemetry is best-effort and asynchronous, and Run's shutdown stops
	// the aggregator, so only an upper bound on the recorded count is
	// asserted rather than an exact count.
	snap := mgr.Telemetry()
	total := snap.Completed[High] + snap.Completed[Normal] + snap.Completed[Low]
	if total > n {
		t.Fatalf("telemetry recorded %d completions, more than %d jobs scheduled", total, n)
	}
}
