// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRingFIFOOrder(t *testing.T) {
	r := newRing(4)
	if r.cap() != 4 {
		t.Fatalf("cap = %d, want 4", r.cap())
	}

	var got []int
	for i := 0; i < 4; i++ {
		n := i
		if err := r.enqueue(&Job{Fn: func(ctx context.Context) { got = append(got, n) }}); err != nil {
			t.Fatalf("enqueue(%d): %v", i, err)
		}
	}
	if r.len() != 4 {
		t.Fatalf("len = %d, want 4", r.len())
	}

	for i := 0; i < 4; i++ {
		job, err := r.dequeue()
		if err != nil {
			t.Fatalf("dequeue(%d): %v", i, err)
		}
		if job.Fn == nil {
			t.Fatalf("dequeue(%d): nil Fn", i)
		}
		job.Fn(context.Background())
	}
	if _, err := r.dequeue(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("dequeue on empty: got %v, want ErrWouldBlock", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("dequeue order = %v, want [0 1 2 3]", got)
		}
	}
}

func TestRingCapacityRounding(t *testing.T) {
	tests := []struct {
		input, want int
	}{
		{2, 2}, {3, 4}, {4, 4}, {5, 8}, {9, 16}, {100, 128},
	}
	for _, tt := range tests {
		r := newRing(tt.input)
		if r.cap() != tt.want {
			t.Fatalf("newRing(%d).cap() = %d, want %d", tt.input, r.cap(), tt.want)
		}
	}
}

func TestRingPanicOnSmallCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for capacity < 2")
		}
	}()
	newRing(1)
}

func TestRingFullReturnsWouldBlock(t *testing.T) {
	r := newRing(2)
	for i := 0; i < 2; i++ {
		if err := r.enqueue(&Job{Fn: func(context.Context) {}}); err != nil {
			t.Fatalf("enqueue(%d): %v", i, err)
		}
	}
	if err := r.enqueue(&Job{Fn: func(context.Context) {}}); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("enqueue on full: got %v, want ErrWouldBlock", err)
	}
}

func TestRingWrapAround(t *testing.T) {
	r := newRing(4)
	order := make([]int, 0, 40)
	var mu sync.Mutex

	for round := 0; round < 10; round++ {
		for i := 0; i < 4; i++ {
			v := round*100 + i
			if err := r.enqueue(&Job{Fn: func(context.Context) {
				mu.Lock()
				order = append(order, v)
				mu.Unlock()
			}}); err != nil {
				t.Fatalf("round %d enqueue %d: %v", round, i, err)
			}
		}
		for i := 0; i < 4; i++ {
			job, err := r.dequeue()
			if err != nil {
				t.Fatalf("round %d dequeue %d: %v", round, i, err)
			}
			job.Fn(context.Background())
		}
	}

	for i, v := range order {
		want := (i/4)*100 + i%4
		if v != want {
			t.Fatalf("order[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestRingLenApproximate(t *testing.T) {
	r := newRing(8)
	if r.len() != 0 {
		t.Fatalf("len = %d, want 0", r.len())
	}
	for i := 0; i < 3; i++ {
		_ = r.enqueue(&Job{Fn: func(context.Context) {}})
	}
	if r.len() != 3 {
		t.Fatalf("len = %d, want 3", r.len())
	}
	_, _ = r.dequeue()
	if r.len() != 2 {
		t.Fatalf("len = %d, want 2", r.len())
	}
}
