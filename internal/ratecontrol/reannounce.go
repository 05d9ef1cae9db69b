// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import "time"

// ReannounceInput is everything the optimiser consults for one tick.
type ReannounceInput struct {
	// UploadedInCycle and Elapsed describe the current cycle.
	UploadedInCycle int64
	Elapsed         float64

	// AvgUp and AvgDl are the 300 s session-average transfer rates in
	// bytes/s.
	AvgUp float64
	AvgDl float64

	// Remaining is total size minus completed bytes.
	Remaining int64

	// AnnounceInterval is the estimated tracker interval in seconds.
	AnnounceInterval float64

	// LastReannounce is the previous forced announce, zero if none.
	LastReannounce time.Time

	Now time.Time
}

// ReannounceDecision is the optimiser's verdict for one tick.
type ReannounceDecision struct {
	// Fire requests an immediate forced announce.
	Fire bool
	// Wait latches the waiting-for-reannounce state: upload is capped low
	// until the average recovers, then the announce fires.
	Wait   bool
	Reason string
}

// EvaluateReannounce decides whether to force an announce now, start
// waiting for one, or do nothing.
//
// When the cycle pace exceeds the hard ceiling, the perfect instant to
// announce is the one where the next cycle's reported delta lands exactly on
// the ceiling: completion time minus interval scaled by ceiling/avg_up. The
// earliest legal instant is when enough time has passed that the cycle
// average has drained back to the ceiling.
func EvaluateReannounce(in ReannounceInput) ReannounceDecision {
	if !in.LastReannounce.IsZero() && in.Now.Sub(in.LastReannounce).Seconds() < ReannounceMinInterval {
		return ReannounceDecision{}
	}
	if in.Elapsed < 30 {
		return ReannounceDecision{}
	}
	if in.AvgUp <= HardSpeedLimit || in.AvgDl <= 0 {
		return ReannounceDecision{}
	}
	if in.Remaining <= 0 {
		return ReannounceDecision{}
	}

	now := float64(in.Now.UnixNano()) / 1e9
	completeTime := float64(in.Remaining)/in.AvgDl + now
	perfectTime := completeTime - in.AnnounceInterval*HardSpeedLimit/in.AvgUp

	pace := float64(in.UploadedInCycle) / in.Elapsed
	earliest := now
	if pace > HardSpeedLimit {
		earliest = (float64(in.UploadedInCycle)-HardSpeedLimit*in.Elapsed)/ReannounceDrainRate + now
	}

	// A fire this close to the cycle start would itself report an
	// over-ceiling delta.
	if earliest-(now-in.Elapsed) < ReannounceMinInterval {
		return ReannounceDecision{}
	}

	if earliest > perfectTime {
		if now >= earliest {
			if pace > HardSpeedLimit {
				return ReannounceDecision{Fire: true, Reason: "optimised announce"}
			}
		} else if earliest < perfectTime+60 {
			return ReannounceDecision{Wait: true, Reason: "waiting for announce"}
		}
	}
	return ReannounceDecision{}
}

// EvaluateWaiting checks whether a latched waiting-for-reannounce state may
// fire: the cycle must be at least the cooldown old and the cycle average
// back under the hard ceiling.
func EvaluateWaiting(uploadedInCycle int64, elapsed float64) (fire bool, reason string) {
	if elapsed < ReannounceMinInterval {
		return false, ""
	}
	if float64(uploadedInCycle)/elapsed < HardSpeedLimit {
		return true, "average recovered"
	}
	return false, ""
}
