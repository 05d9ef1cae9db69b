// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"math"
	"time"
)

// Process and measurement noise for the speed/acceleration model.
const (
	kalmanQSpeed = 0.1
	kalmanQAccel = 0.05
	kalmanR      = 0.5
)

// KalmanFilter tracks upload speed and its acceleration from noisy
// instantaneous speed samples. The state is (speed, accel) with a 2x2
// covariance; only speed is measured.
type KalmanFilter struct {
	Speed float64
	Accel float64

	p00, p01, p10, p11 float64

	lastUpdate  time.Time
	initialized bool
}

// NewKalmanFilter returns a filter ready for its first sample.
func NewKalmanFilter() *KalmanFilter {
	k := &KalmanFilter{}
	k.Reset()
	return k
}

// Update folds a speed measurement taken at now into the state and returns
// the filtered speed and acceleration. Samples closer than 10 ms to the
// previous one leave the state untouched.
func (k *KalmanFilter) Update(measurement float64, now time.Time) (speed, accel float64) {
	if !k.initialized {
		k.Speed = measurement
		k.lastUpdate = now
		k.initialized = true
		return measurement, 0
	}

	dt := now.Sub(k.lastUpdate).Seconds()
	if dt <= 0.01 {
		return k.Speed, k.Accel
	}
	k.lastUpdate = now

	predSpeed := k.Speed + k.Accel*dt
	p00 := k.p00 + dt*(k.p10+k.p01) + dt*dt*k.p11 + kalmanQSpeed
	p01 := k.p01 + dt*k.p11
	p10 := k.p10 + dt*k.p11
	p11 := k.p11 + kalmanQAccel

	s := p00 + kalmanR
	if math.Abs(s) < 1e-10 {
		return k.Speed, k.Accel
	}
	k0 := p00 / s
	k1 := p10 / s
	innovation := measurement - predSpeed

	k.Speed = predSpeed + k0*innovation
	k.Accel += k1 * innovation
	k.p00 = (1 - k0) * p00
	k.p01 = (1 - k0) * p01
	k.p10 = -k1*p00 + p10
	k.p11 = -k1*p01 + p11
	return k.Speed, k.Accel
}

// PredictUpload extrapolates bytes uploaded over the next horizon seconds
// from the current speed and acceleration estimate. Never negative.
func (k *KalmanFilter) PredictUpload(horizon float64) float64 {
	return math.Max(0, k.Speed*horizon+0.5*k.Accel*horizon*horizon)
}

// Reset returns the filter to its pre-first-sample state.
func (k *KalmanFilter) Reset() {
	k.Speed = 0
	k.Accel = 0
	k.p00 = 1000
	k.p01 = 0
	k.p10 = 0
	k.p11 = 1000
	k.lastUpdate = time.Time{}
	k.initialized = false
}
