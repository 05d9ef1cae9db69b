// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mathutil provides small numeric helpers shared by the rate-control
// engine.
package mathutil

import "math"

// SafeDiv returns a/b, or def when the divisor is zero or close enough to
// zero that the division would explode.
func SafeDiv(a, b, def float64) float64 {
	if b == 0 || math.Abs(b) < 1e-10 {
		return def
	}
	return a / b
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt64 bounds v to [lo, hi].
func ClampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
