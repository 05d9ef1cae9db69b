// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"sync"
	"time"

	"github.com/autobrr/pacer/pkg/mathutil"
)

// speedWindows are the averaging windows, in seconds, combined by
// WeightedAverage.
var speedWindows = [4]float64{5, 15, 30, 60}

// windowWeights maps each phase to the weight of each window in
// speedWindows order. Short windows dominate as the cycle closes out.
var windowWeights = map[Phase][4]float64{
	PhaseWarmup: {0.1, 0.2, 0.3, 0.4},
	PhaseCatch:  {0.2, 0.3, 0.3, 0.2},
	PhaseSteady: {0.3, 0.3, 0.2, 0.2},
	PhaseFinish: {0.5, 0.3, 0.15, 0.05},
}

const (
	speedSampleCap   = 1200
	sessionSampleCap = 600
	trendWindow      = 10
	trendMinSamples  = 5
)

type speedSample struct {
	at    time.Time
	speed float64
}

// SpeedWindow is a fixed-capacity ring of timestamped speed samples with
// phase-weighted multi-window averaging and a short-horizon trend estimate.
// Safe for concurrent use.
type SpeedWindow struct {
	mu    sync.Mutex
	buf   [speedSampleCap]speedSample
	head  int
	count int
}

// NewSpeedWindow returns an empty window.
func NewSpeedWindow() *SpeedWindow {
	return &SpeedWindow{}
}

// Record appends a sample, evicting the oldest once the ring is full.
func (w *SpeedWindow) Record(now time.Time, speed float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[(w.head+w.count)%speedSampleCap] = speedSample{at: now, speed: speed}
	if w.count < speedSampleCap {
		w.count++
	} else {
		w.head = (w.head + 1) % speedSampleCap
	}
}

// snapshot copies the live samples oldest-first. Caller must hold no lock.
func (w *SpeedWindow) snapshot() []speedSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]speedSample, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.head+i)%speedSampleCap]
	}
	return out
}

// WeightedAverage combines the per-window mean speeds using the phase's
// weights, normalised over the windows that actually held samples. Returns 0
// when no window has data.
func (w *SpeedWindow) WeightedAverage(now time.Time, phase Phase) float64 {
	weights, ok := windowWeights[phase]
	if !ok {
		weights = windowWeights[PhaseSteady]
	}
	samples := w.snapshot()

	var weightedSum, totalWeight float64
	for i, window := range speedWindows {
		var sum float64
		var n int
		for _, s := range samples {
			if now.Sub(s.at).Seconds() <= window {
				sum += s.speed
				n++
			}
		}
		if n > 0 {
			weightedSum += (sum / float64(n)) * weights[i]
			totalWeight += weights[i]
		}
	}
	if totalWeight <= 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// Trend compares the mean speed of the two halves of the last ten seconds
// of samples and returns the relative change. Requires at least five samples
// in the window, otherwise 0.
func (w *SpeedWindow) Trend(now time.Time) float64 {
	all := w.snapshot()
	recent := all[:0]
	for _, s := range all {
		if now.Sub(s.at).Seconds() <= trendWindow {
			recent = append(recent, s)
		}
	}
	if len(recent) < trendMinSamples {
		return 0
	}
	mid := len(recent) / 2
	var first, second float64
	for _, s := range recent[:mid] {
		first += s.speed
	}
	for _, s := range recent[mid:] {
		second += s.speed
	}
	first /= float64(mid)
	second /= float64(len(recent) - mid)
	return mathutil.SafeDiv(second-first, first, 0)
}

// Reset discards all samples.
func (w *SpeedWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.count = 0
}

type sessionSample struct {
	at         time.Time
	uploaded   int64
	downloaded int64
	upSpeed    float64
	dlSpeed    float64
}

// SessionWindow is a fixed-capacity ring of cumulative transfer snapshots
// used to compute average transfer rates over the recent past. Safe for
// concurrent use.
type SessionWindow struct {
	mu    sync.Mutex
	buf   [sessionSampleCap]sessionSample
	head  int
	count int
}

// NewSessionWindow returns an empty window.
func NewSessionWindow() *SessionWindow {
	return &SessionWindow{}
}

// Record appends a cumulative (uploaded, downloaded) snapshot together with
// the instantaneous speeds reported by the client.
func (s *SessionWindow) Record(now time.Time, uploaded, downloaded int64, upSpeed, dlSpeed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[(s.head+s.count)%sessionSampleCap] = sessionSample{
		at:         now,
		uploaded:   uploaded,
		downloaded: downloaded,
		upSpeed:    upSpeed,
		dlSpeed:    dlSpeed,
	}
	if s.count < sessionSampleCap {
		s.count++
	} else {
		s.head = (s.head + 1) % sessionSampleCap
	}
}

// AverageRates derives the average upload and download rate over the given
// window from the first and last cumulative snapshots inside it. Returns
// zeros when fewer than two samples fall in the window.
func (s *SessionWindow) AverageRates(now time.Time, window float64) (avgUp, avgDl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first, last *sessionSample
	for i := 0; i < s.count; i++ {
		smp := &s.buf[(s.head+i)%sessionSampleCap]
		if now.Sub(smp.at).Seconds() > window {
			continue
		}
		if first == nil {
			first = smp
		}
		last = smp
	}
	if first == nil || last == nil || first == last {
		return 0, 0
	}
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	avgUp = mathutil.SafeDiv(float64(last.uploaded-first.uploaded), dt, 0)
	avgDl = mathutil.SafeDiv(float64(last.downloaded-first.downloaded), dt, 0)
	return avgUp, avgDl
}

// Reset discards all samples.
func (s *SessionWindow) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.count = 0
}
