// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"math"
	"time"

	"github.com/autobrr/pacer/pkg/mathutil"
)

const (
	pidIntegralLimit   = 0.3
	pidDerivativeAlpha = 0.3
	pidOutputMin       = 0.5
	pidOutputMax       = 2.0
)

// PID is a proportional-integral-derivative corrector over cumulative cycle
// upload versus the cycle target. The error is normalised by the setpoint so
// the gains are unit-free; the output is a multiplier around 1.0.
type PID struct {
	kp, ki, kd float64

	integral    float64
	lastError   float64
	lastUpdate  time.Time
	lastOutput  float64
	derivFilter float64
	initialized bool
}

// NewPID returns a controller with steady-phase gains.
func NewPID() *PID {
	p := &PID{}
	p.SetPhase(PhaseSteady)
	p.lastOutput = 1.0
	return p
}

// SetPhase swaps in the gain set for the given phase.
func (p *PID) SetPhase(phase Phase) {
	params := paramsFor(phase)
	p.kp, p.ki, p.kd = params.kp, params.ki, params.kd
}

// Update advances the controller with the measured cumulative upload against
// the setpoint and returns the output multiplier in [0.5, 2.0]. The first
// call seeds the state and returns 1.0; calls closer than 10 ms to the
// previous one return the prior output unchanged.
func (p *PID) Update(setpoint, measured float64, now time.Time) float64 {
	err := mathutil.SafeDiv(setpoint-measured, math.Max(setpoint, 1), 0)
	if !p.initialized {
		p.lastError = err
		p.lastUpdate = now
		p.initialized = true
		return 1.0
	}

	dt := now.Sub(p.lastUpdate).Seconds()
	if dt <= 0.01 {
		return p.lastOutput
	}
	p.lastUpdate = now

	pTerm := p.kp * err

	p.integral = mathutil.Clamp(p.integral+err*dt, -pidIntegralLimit, pidIntegralLimit)
	iTerm := p.ki * p.integral

	rawDerivative := (err - p.lastError) / dt
	p.derivFilter = pidDerivativeAlpha*rawDerivative + (1-pidDerivativeAlpha)*p.derivFilter
	dTerm := p.kd * p.derivFilter
	p.lastError = err

	output := mathutil.Clamp(1.0+pTerm+iTerm+dTerm, pidOutputMin, pidOutputMax)
	p.lastOutput = output
	return output
}

// Reset clears all accumulated state.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
	p.lastUpdate = time.Time{}
	p.lastOutput = 1.0
	p.derivFilter = 0
	p.initialized = false
}
