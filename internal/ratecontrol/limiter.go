// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"math"
	"time"

	"github.com/autobrr/pacer/pkg/mathutil"
)

// Calculation is the outcome of one limit computation, with the
// intermediates callers log and test against.
type Calculation struct {
	Limit          int64
	Reason         string
	PredictedRatio float64
	RequiredSpeed  float64
	PIDOutput      float64
}

// Controller combines the speed filters, the PID corrector and the
// quantiser into the per-torrent upload limit calculator. One Controller is
// embedded in each torrent state and reset on cycle rollover.
type Controller struct {
	Kalman *KalmanFilter
	Window *SpeedWindow
	PID    *PID

	smoothLimit int64
}

// NewController returns a controller with fresh filters.
func NewController() *Controller {
	return &Controller{
		Kalman:      NewKalmanFilter(),
		Window:      NewSpeedWindow(),
		PID:         NewPID(),
		smoothLimit: Unlimited,
	}
}

// RecordSpeed feeds an instantaneous upload speed sample into both filters.
func (c *Controller) RecordSpeed(now time.Time, speed float64) {
	c.Kalman.Update(speed, now)
	c.Window.Record(now, speed)
}

// Calculate computes the upload limit for the current tick.
//
// target is the margin-adjusted target in bytes/s, uploaded the cumulative
// bytes this cycle, timeLeft/elapsed the cycle position in seconds and
// precisionAdj the multiplier from the precision tracker. Returns Unlimited
// with reason "reporting" once timeLeft reaches zero.
func (c *Controller) Calculate(target float64, uploaded int64, timeLeft, elapsed float64, phase Phase, now time.Time, precisionAdj float64) Calculation {
	adjustedTarget := target * precisionAdj

	kalmanSpeed := c.Kalman.Speed
	weightedSpeed := c.Window.WeightedAverage(now, phase)
	trend := c.Window.Trend(now)

	currentSpeed := kalmanSpeed
	if phase == PhaseFinish && weightedSpeed > 0 {
		currentSpeed = weightedSpeed
	} else if kalmanSpeed <= 0 {
		currentSpeed = weightedSpeed
	}

	totalTime := elapsed + timeLeft
	targetTotal := adjustedTarget * totalTime
	out := Calculation{
		PredictedRatio: mathutil.SafeDiv(float64(uploaded)+c.Kalman.PredictUpload(timeLeft), targetTotal, 0),
		PIDOutput:      1.0,
	}

	need := math.Max(0, targetTotal-float64(uploaded))
	if timeLeft <= 0 {
		out.Limit = Unlimited
		out.Reason = "reporting"
		c.smoothLimit = Unlimited
		return out
	}
	requiredSpeed := need / timeLeft
	out.RequiredSpeed = requiredSpeed

	c.PID.SetPhase(phase)
	pidOutput := c.PID.Update(targetTotal, float64(uploaded), now)
	out.PIDOutput = pidOutput

	headroom := paramsFor(phase).headroom
	limit := Unlimited

	switch phase {
	case PhaseFinish:
		pred := out.PredictedRatio
		correction := 1.0
		if pred > 1.002 {
			correction = math.Max(0.8, 1-(pred-1)*3)
		} else if pred < 0.998 {
			correction = math.Min(1.2, 1+(1-pred)*3)
		}
		limit = int64(requiredSpeed * pidOutput * correction)
		out.Reason = "finish closeout"

	case PhaseSteady:
		if out.PredictedRatio > 1.01 {
			headroom = 1.0
		}
		limit = int64(requiredSpeed * headroom * pidOutput)
		out.Reason = "steady"

	case PhaseCatch:
		if requiredSpeed > adjustedTarget*5 {
			out.Limit = c.smooth(Unlimited, phase)
			out.Reason = "underspeed release"
			return out
		}
		limit = int64(requiredSpeed * headroom * pidOutput)
		out.Reason = "catch-up"

	default: // warmup
		progress := mathutil.SafeDiv(float64(uploaded), targetTotal, 0)
		switch {
		case progress >= 1.0:
			limit = MinLimit
			out.Reason = "warmup cap"
		case progress >= 0.8:
			limit = int64(requiredSpeed * 1.01 * pidOutput)
			out.Reason = "warmup fine"
		case progress >= 0.5:
			limit = int64(requiredSpeed * 1.05)
			out.Reason = "warmup hold"
		default:
			out.Limit = c.smooth(Unlimited, phase)
			out.Reason = "preheat"
			return out
		}
	}

	if limit > 0 {
		limit = Quantize(limit, phase, currentSpeed, adjustedTarget, trend)
	}
	out.Limit = c.smooth(limit, phase)
	return out
}

// smooth blends the new limit with the previous one to damp oscillation.
// Small moves (<20%) and the finish phase pass through directly; larger
// moves are blended 3/10 or, beyond 50%, 1/2 toward the new value.
// Unlimited on either side bypasses blending.
func (c *Controller) smooth(newLimit int64, phase Phase) int64 {
	if newLimit <= 0 || c.smoothLimit <= 0 || phase == PhaseFinish {
		c.smoothLimit = newLimit
		return newLimit
	}
	change := math.Abs(float64(newLimit-c.smoothLimit)) / float64(c.smoothLimit)
	if change < 0.2 {
		c.smoothLimit = newLimit
	} else {
		factor := 0.3
		if change >= 0.5 {
			factor = 0.5
		}
		c.smoothLimit = int64((1-factor)*float64(c.smoothLimit) + factor*float64(newLimit))
	}
	return c.smoothLimit
}

// Reset clears all filters and the smoothing state, ready for a new cycle.
func (c *Controller) Reset() {
	c.Kalman.Reset()
	c.Window.Reset()
	c.PID.Reset()
	c.smoothLimit = Unlimited
}
