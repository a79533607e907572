// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package jobsystem

// RaceEnabled is true when the race detector is active.
// Used by tests to skip concurrent tests for the ring/deque/counter
// implementations, which trigger false positives because the race
// detector cannot see happens-before relationships established purely
// through acquire-release atomics.
const RaceEnabled = true
