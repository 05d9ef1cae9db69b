// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"sync"
	"time"

	"github.com/autobrr/pacer/pkg/mathutil"
)

const (
	precisionHistoryCap = 30
	precisionMinSamples = 5
	precisionPhaseMinN  = 3
	phaseAdjustmentMin  = 0.92
	phaseAdjustmentMax  = 1.08
	globalAdjustmentMin = 0.95
	globalAdjustmentMax = 1.05
)

type precisionSample struct {
	ratio float64
	phase Phase
	at    time.Time
}

// PrecisionTracker is the process-wide feedback loop that learns a small
// multiplicative correction from how past cycles landed relative to their
// intended upload. One instance is shared by every torrent; all methods are
// safe for concurrent use.
type PrecisionTracker struct {
	mu        sync.Mutex
	history   [precisionHistoryCap]precisionSample
	head      int
	count     int
	phaseAdj  map[Phase]float64
	globalAdj float64
}

// NewPrecisionTracker returns a tracker with neutral adjustments.
func NewPrecisionTracker() *PrecisionTracker {
	return &PrecisionTracker{
		phaseAdj: map[Phase]float64{
			PhaseWarmup: 1.0,
			PhaseCatch:  1.0,
			PhaseSteady: 1.0,
			PhaseFinish: 1.0,
		},
		globalAdj: 1.0,
	}
}

// Record folds an end-of-cycle achieved/intended ratio into the history and
// re-derives the per-phase and global adjustments.
func (t *PrecisionTracker) Record(ratio float64, phase Phase, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history[(t.head+t.count)%precisionHistoryCap] = precisionSample{ratio: ratio, phase: phase, at: now}
	if t.count < precisionHistoryCap {
		t.count++
	} else {
		t.head = (t.head + 1) % precisionHistoryCap
	}
	t.update()
}

// update recomputes adjustments from the current history. Caller holds mu.
func (t *PrecisionTracker) update() {
	if t.count < precisionMinSamples {
		return
	}

	phaseRatios := make(map[Phase][]float64)
	var globalSum float64
	for i := 0; i < t.count; i++ {
		s := t.history[(t.head+i)%precisionHistoryCap]
		phaseRatios[s.phase] = append(phaseRatios[s.phase], s.ratio)
		globalSum += s.ratio
	}

	for phase, ratios := range phaseRatios {
		if len(ratios) < precisionPhaseMinN {
			continue
		}
		var sum float64
		for _, r := range ratios {
			sum += r
		}
		avg := sum / float64(len(ratios))

		adj := 1.0
		switch {
		case avg > 1.005:
			adj = 0.998
		case avg > 1.001:
			adj = 0.999
		case avg < 0.99:
			adj = 1.002
		case avg < 0.995:
			adj = 1.001
		}
		t.phaseAdj[phase] = mathutil.Clamp(t.phaseAdj[phase]*adj, phaseAdjustmentMin, phaseAdjustmentMax)
	}

	globalAvg := globalSum / float64(t.count)
	switch {
	case globalAvg > 1.002:
		t.globalAdj = mathutil.Clamp(t.globalAdj*0.999, globalAdjustmentMin, globalAdjustmentMax)
	case globalAvg < 0.995:
		t.globalAdj = mathutil.Clamp(t.globalAdj*1.001, globalAdjustmentMin, globalAdjustmentMax)
	}
}

// Adjustment returns the multiplier applied to the effective target for a
// phase: the phase correction times the global correction.
func (t *PrecisionTracker) Adjustment(phase Phase) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	adj, ok := t.phaseAdj[phase]
	if !ok {
		adj = 1.0
	}
	return adj * t.globalAdj
}
