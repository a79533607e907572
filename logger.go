// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"context"
	"log/slog"
)

// levelCritical sits above slog's own top level. The original's Logger
// has five levels (Debug/Info/Warning/Error/Critical); Critical is the
// level reserved for the scheduler's own fatal conditions (queue full,
// counter overflow, invalid startup configuration) and is always
// surfaced regardless of the configured minimum level.
const levelCritical = slog.LevelError + 4

// Logger is the injected logging sink for a Manager. Wrapping
// *slog.Logger rather than using a package-level global lets tests
// observe Critical events (by supplying a handler that records them)
// instead of asserting on process-level panics.
type Logger struct {
	base *slog.Logger
	// OnFatal runs after a Critical log line for a condition the
	// original treats as unrecoverable (queue full, counter overflow,
	// bad NewManager configuration). Defaults to panic. Tests override
	// this to assert on the failure without aborting the test binary.
	OnFatal func(msg string)
}

// NewLogger wraps base. A nil base falls back to slog.Default().
func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base, OnFatal: defaultOnFatal}
}

func defaultOnFatal(msg string) { panic(msg) }

func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// Critical logs at levelCritical and then invokes OnFatal. Matches the
// original's pattern of a critical log immediately preceding an abort,
// e.g. a full priority ring or a counter waiter-table overflow.
func (l *Logger) Critical(msg string, args ...any) {
	l.base.Log(context.Background(), levelCritical, msg, args...)
	if l.OnFatal != nil {
		l.OnFatal(msg)
	}
}
