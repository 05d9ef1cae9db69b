// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratecontrol implements the per-torrent upload shaping engine: a
// Kalman speed tracker, a multi-window averager, a phase-gained PID
// corrector, an adaptive step quantiser, the cross-torrent precision
// feedback tracker, and the auxiliary download limiter and reannounce
// optimiser.
//
// All speeds are bytes per second unless a name says KiB. Limits are bytes
// per second where -1 means unlimited.
package ratecontrol

// Phase classifies where a torrent sits inside its announce cycle. The
// controller gains, averaging weights and quantiser steps are all keyed on
// it.
type Phase string

const (
	PhaseWarmup Phase = "warmup"
	PhaseCatch  Phase = "catch"
	PhaseSteady Phase = "steady"
	PhaseFinish Phase = "finish"
)

const (
	// finishTime and steadyTime split a synced cycle by seconds left until
	// the next announce.
	finishTime = 30
	steadyTime = 120
)

// ClassifyPhase derives the phase from seconds left in the cycle and whether
// the cycle interval has been observed (synced).
func ClassifyPhase(timeLeft float64, synced bool) Phase {
	if !synced {
		return PhaseWarmup
	}
	if timeLeft <= finishTime {
		return PhaseFinish
	}
	if timeLeft <= steadyTime {
		return PhaseSteady
	}
	return PhaseCatch
}

const (
	// Unlimited is the sentinel the qBittorrent API uses for "no limit".
	Unlimited int64 = -1

	// MinLimit is the lowest upload limit ever applied, in bytes/s.
	MinLimit int64 = 4096

	// HardSpeedLimit is the absolute per-cycle average ceiling the tracker
	// must never see exceeded (50 MiB/s).
	HardSpeedLimit = 50 * 1024 * 1024

	// ReannounceDrainRate is the assumed drain speed used to compute the
	// earliest legal reannounce instant (45 MiB/s).
	ReannounceDrainRate = 45 * 1024 * 1024

	// ReannounceMinInterval is the cooldown between forced announces, and
	// also the minimum cycle age before a waiting reannounce may fire.
	ReannounceMinInterval = 900

	// ReannounceSpeedWindow is the session-average window consulted by the
	// reannounce optimiser, in seconds.
	ReannounceSpeedWindow = 300

	// ReannounceWaitLimitKiB caps upload while waiting for a planned
	// announce, in KiB/s.
	ReannounceWaitLimitKiB = 5120

	// MaxAnnounceSeconds bounds plausible time-to-next-announce values from
	// the client; anything above is treated as garbage.
	MaxAnnounceSeconds = 86400
)

// Announce interval estimates by torrent age.
const (
	AnnounceIntervalNew  = 1800
	AnnounceIntervalWeek = 2700
	AnnounceIntervalOld  = 3600
)

// Overshoot guard thresholds, keyed on cycle progress and current speed
// relative to target.
const (
	ProgressProtect   = 0.90
	SpeedProtectRatio = 2.5
	SpeedProtectLimit = 1.3
)

// Cycle precision grades used by aggregate stats.
const (
	PrecisionPerfect = 0.001
	PrecisionGood    = 0.005
)

// phaseParams carries the PID gains and the speed headroom applied per
// phase.
type phaseParams struct {
	kp       float64
	ki       float64
	kd       float64
	headroom float64
}

var pidParams = map[Phase]phaseParams{
	PhaseWarmup: {kp: 0.3, ki: 0.05, kd: 0.02, headroom: 1.03},
	PhaseCatch:  {kp: 0.5, ki: 0.10, kd: 0.05, headroom: 1.02},
	PhaseSteady: {kp: 0.6, ki: 0.15, kd: 0.08, headroom: 1.005},
	PhaseFinish: {kp: 0.8, ki: 0.20, kd: 0.12, headroom: 1.001},
}

func paramsFor(phase Phase) phaseParams {
	if p, ok := pidParams[phase]; ok {
		return p
	}
	return pidParams[PhaseSteady]
}
