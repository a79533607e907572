// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a ring or deque operation cannot proceed
// immediately (full on enqueue/push, empty on dequeue/pop/steal).
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency with
// the rest of the code.hybscloud.com module family.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrShuttingDown is returned by Schedule once Manager.Shutdown has been
// called; WaitForCounter does not check for shutdown. It is a semantic, expected condition
// for callers racing the shutdown signal, not a bug report.
var ErrShuttingDown = errors.New("jobsystem: manager is shutting down")

// ErrCounterOverflow is returned by a counter's waiter-table install when
// every slot is already occupied. The original treats this as fatal
// (critical log and abort); callers that want that behavior should route
// it through Manager's Logger.Critical rather than ignore it.
var ErrCounterOverflow = errors.New("jobsystem: counter waiter table exhausted")

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
