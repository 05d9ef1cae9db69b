// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"math"

	"github.com/autobrr/pacer/pkg/mathutil"
)

// quantSteps are the base quantiser step sizes per phase, in bytes/s.
var quantSteps = map[Phase]int64{
	PhaseFinish: 256,
	PhaseSteady: 512,
	PhaseCatch:  2048,
	PhaseWarmup: 4096,
}

const (
	quantStepMin = 256
	quantStepMax = 8192
)

// Quantize snaps a raw limit onto a phase-appropriate step grid. The step
// widens when the current speed runs well above target and narrows near or
// below it; a strong short-term trend halves the step. Non-positive limits
// (unlimited) pass through unchanged.
func Quantize(limit int64, phase Phase, currentSpeed, target, trend float64) int64 {
	if limit <= 0 {
		return limit
	}
	base, ok := quantSteps[phase]
	if !ok {
		base = 1024
	}
	ratio := mathutil.SafeDiv(currentSpeed, target, 1)

	var step int64
	switch {
	case phase == PhaseFinish:
		step = quantStepMin
	case ratio > 1.2:
		step = base * 2
	case ratio > 1.05:
		step = base
	case ratio > 0.8:
		step = base / 2
	default:
		step = base
	}

	if math.Abs(trend) > 0.1 {
		step = max(quantStepMin, step/2)
	}
	step = mathutil.ClampInt64(step, quantStepMin, quantStepMax)

	quantized := (limit + step/2) / step * step
	return max(MinLimit, quantized)
}
