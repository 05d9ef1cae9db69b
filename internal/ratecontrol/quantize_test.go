// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantizeUnlimitedPassesThrough(t *testing.T) {
	assert.Equal(t, Unlimited, Quantize(Unlimited, PhaseSteady, 0, 1000, 0))
	assert.Equal(t, int64(0), Quantize(0, PhaseSteady, 0, 1000, 0))
}

func TestQuantizeStepSelection(t *testing.T) {
	tests := []struct {
		name     string
		phase    Phase
		speed    float64
		target   float64
		trend    float64
		limit    int64
		expected int64
	}{
		{
			// Finish always uses the finest grid.
			name: "finish_fine_grid", phase: PhaseFinish,
			speed: 3000, target: 1000, limit: 100000, expected: 100096,
		},
		{
			// Speed 30% over target doubles the steady step to 1024.
			name: "steady_overspeed_doubles", phase: PhaseSteady,
			speed: 1300, target: 1000, limit: 100000, expected: 100352,
		},
		{
			// Near target keeps the base step.
			name: "steady_near_target", phase: PhaseSteady,
			speed: 1100, target: 1000, limit: 100000, expected: 99840,
		},
		{
			// Slightly under target halves the steady step to 256.
			name: "steady_under_target", phase: PhaseSteady,
			speed: 900, target: 1000, limit: 100100, expected: 100096,
		},
		{
			// Far under target falls back to the base step.
			name: "steady_far_under", phase: PhaseSteady,
			speed: 100, target: 1000, limit: 100100, expected: 100352,
		},
		{
			// Warmup base is the coarsest grid.
			name: "warmup_coarse", phase: PhaseWarmup,
			speed: 1000, target: 1000, limit: 100000, expected: 100352,
		},
		{
			// A strong trend halves the step.
			name: "trend_halves_step", phase: PhaseWarmup,
			speed: 1000, target: 1000, trend: 0.5, limit: 99500, expected: 99328,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantize(tt.limit, tt.phase, tt.speed, tt.target, tt.trend)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuantizeNeverBelowMinLimit(t *testing.T) {
	for _, phase := range []Phase{PhaseWarmup, PhaseCatch, PhaseSteady, PhaseFinish} {
		got := Quantize(1, phase, 0, 1000, 0)
		assert.GreaterOrEqual(t, got, MinLimit, "phase %s", phase)
	}
}

func TestQuantizeResultOnStepGrid(t *testing.T) {
	for limit := int64(5000); limit < 200000; limit += 7919 {
		got := Quantize(limit, PhaseCatch, 1000, 1000, 0)
		// Catch near target halves the base 2048 step.
		assert.Zero(t, got%1024, "limit %d", limit)
	}
}
