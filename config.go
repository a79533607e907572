// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

// defaultQueueSizes are the per-priority ring capacities from spec.md
// §4.1: High is smallest (latency-critical, expected to drain fast),
// Low is largest (background work is expected to pile up).
var defaultQueueSizes = [numPriorities]int{
	High:   512,
	Normal: 2048,
	Low:    4096,
}

// ManagerOptions configures a Manager at construction time. Matches the
// original's ManagerOptions record, generalized from a fixed struct
// literal into a Go options value with a DefaultOptions constructor —
// the same role the teacher's options.go Builder played, scoped down to
// the knobs this scheduler actually exposes.
type ManagerOptions struct {
	// NumThreads bounds how many fibers may be actively executing job
	// code at once (an execution-admission semaphore). Must be >= 1.
	NumThreads int

	// NumFibers bounds how many jobs may be in flight (executing +
	// parked) at once. Must satisfy NumFibers >= NumThreads +
	// MaxParkedFibers (see §13 of SPEC_FULL.md) or NewManager fails.
	NumFibers int

	// MaxParkedFibers is the portion of NumFibers reserved for fibers
	// parked on a counter wait rather than executing. Zero means
	// NumFibers - NumThreads.
	MaxParkedFibers int

	// QueueSizes are per-priority ring capacities, indexed by Priority.
	// A zero entry falls back to defaultQueueSizes[p].
	QueueSizes [numPriorities]int

	// ShutdownAfterMain, if true, makes Run call Shutdown(true) itself
	// once the supplied main callback returns, instead of leaving the
	// Manager running for further Schedule calls from other goroutines.
	ShutdownAfterMain bool

	// Logger receives Debug/Info/Warn/Error/Critical events. A nil
	// Logger falls back to NewLogger(nil) (slog.Default()).
	Logger *Logger

	// Tracer optionally wraps job execution, waits, and SPMD sync in
	// OpenTelemetry spans. A nil Tracer disables tracing entirely.
	Tracer *Tracer
}

// DefaultOptions returns a ManagerOptions sized for numThreads worker
// slots with no parked-fiber headroom beyond one per thread, default
// queue sizes, and a slog.Default()-backed Logger.
func DefaultOptions(numThreads int) ManagerOptions {
	return ManagerOptions{
		NumThreads:      numThreads,
		NumFibers:       numThreads * 2,
		MaxParkedFibers: numThreads,
		QueueSizes:      defaultQueueSizes,
		Logger:          NewLogger(nil),
	}
}

func (o *ManagerOptions) normalize() {
	if o.MaxParkedFibers == 0 {
		o.MaxParkedFibers = o.NumFibers - o.NumThreads
	}
	for p := 0; p < numPriorities; p++ {
		if o.QueueSizes[p] == 0 {
			o.QueueSizes[p] = defaultQueueSizes[p]
		}
	}
	if o.Logger == nil {
		o.Logger = NewLogger(nil)
	}
}
