// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package jobsystem is a fiber-style work-stealing job scheduler:
// bounded priority queues, lock-free counters with attached waiters, a
// bounded pool of fiber slots (each job runs on a goroutine holding one
// slot, and parks on that slot's channel while waiting), and
// an SPMD group layered on top for barrier/broadcast kernels.
//
// # Quick Start
//
//	mgr, err := jobsystem.NewManager(jobsystem.DefaultOptions(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mgr.Run(func(ctx context.Context) {
//	    c := jobsystem.NewCounter(mgr)
//	    for i := 0; i < 128; i++ {
//	        i := i
//	        mgr.Schedule(jobsystem.Normal, jobsystem.Job{
//	            Fn: func(ctx context.Context) { results[i] = i * 2 },
//	            Counter: c,
//	        })
//	    }
//	    mgr.WaitForCounter(ctx, c, 0)
//	})
//
// # Priorities
//
// Three priority tiers are drained strictly in order — High before
// Normal before Low — with FIFO order preserved within a tier:
//
//	mgr.Schedule(jobsystem.High, job)   // latency-critical
//	mgr.Schedule(jobsystem.Normal, job) // default
//	mgr.Schedule(jobsystem.Low, job)    // background
//
// # Waiting
//
// A job (or Run's main callback) parks the fiber it is running on by
// calling WaitForCounter or WaitForSingle with the ctx it was handed;
// calling either from outside a scheduled fiber is a programmer error:
//
//	mgr.WaitForCounter(ctx, counter, 0)
//	mgr.WaitForSingle(ctx, jobsystem.Normal, func(ctx context.Context) { ... })
//
// # JobList
//
// JobList accumulates jobs under one shared counter for a fan-out/join
// pattern that doesn't need a Counter managed by hand:
//
//	list := jobsystem.NewJobList(mgr, jobsystem.Normal)
//	for _, item := range items {
//	    item := item
//	    list.Add(func(ctx context.Context) { process(item) })
//	}
//	list.Wait(ctx)
//
// # SPMD groups
//
// A Group coordinates a fixed number of lanes with a barrier, a
// broadcast scratch buffer, and balanced range splitting:
//
//	group := jobsystem.NewGroup(8, 64)
//	group.Dispatch(ctx, mgr, func(ctx context.Context, params any, lane int32) {
//	    lo, hi := jobsystem.SplitRange(total, int(lane), 8)
//	    process(lo, hi)
//	}, nil)
//
// # Failure model
//
// Queue-full, a nil Job.Fn, and a counter waiter-table overflow are all
// treated as fatal: the configured Logger receives a Critical line
// before the error is returned, matching this scheduler's original
// critical-log-then-abort convention, with OnFatal (default panic)
// overridable so tests can observe a Critical without crashing.
//
// # Thread safety
//
// Every exported type's methods are safe for concurrent use unless
// documented otherwise. Schedule, WaitForCounter, and Counter's methods
// may all be called concurrently from many goroutines; a Lane handle
// from JoinGroup/JoinGroupAuto belongs to exactly one lane and must not
// be shared.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives
// with explicit memory ordering, [code.hybscloud.com/iox] for semantic
// errors and adaptive backoff, and [code.hybscloud.com/spin] for CPU
// pause instructions in its CAS retry loops — the same foundation the
// ring and free-list data structures in this package were adapted from.
package jobsystem
