//go:build !mono

// Package mono provides low-level monotonic time.
package mono

import "time"

// NanoTime returns a monotonic clock reading in nanoseconds. Only deltas
// between two calls are meaningful; the absolute value carries no wall-clock
// semantics. The `mono` build tag swaps this for a zero-allocation
// runtime.nanotime linkname on platforms where that's been verified safe.
func NanoTime() int64 { return time.Now().UnixNano() }
