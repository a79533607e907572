// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobsystem

// pad is cache line padding to prevent false sharing between hot atomic
// fields (ring head/tail, deque bottom/top, idle-fiber list head/tail).
type pad [64]byte

// padShort is padding to fill a cache line after an 8-byte field.
type padShort [64 - 8]byte

// roundToPow2 rounds n up to the next power of 2. Every bounded ring and
// deque in this package requires a power-of-two capacity so that index
// wraparound reduces to a mask.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
