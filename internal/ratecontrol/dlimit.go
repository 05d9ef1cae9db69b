// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

const (
	// dlLimitMinTime is the remote-ETA horizon, in seconds, inside which an
	// imminent completion triggers a download cap. Doubled while upload is
	// limited.
	dlLimitMinTime = 20

	// Denominator slack, in seconds, when first applying and when adjusting
	// an existing cap.
	dlLimitBuffer       = 30
	dlLimitAdjustBuffer = 60

	// DLLimitMinKiB is the lowest download cap ever applied, in KiB/s.
	DLLimitMinKiB int64 = 512

	dlLimitMaxKiB int64 = 512000
)

// DownloadInput is everything the download limiter consults for one tick.
type DownloadInput struct {
	// UploadedInCycle and Elapsed describe the current cycle.
	UploadedInCycle int64
	Elapsed         float64

	// Remaining is total size minus completed bytes.
	Remaining int64

	// ETA is the client's remaining-download estimate in seconds.
	ETA int64

	// DlSpeed is the instantaneous download speed in bytes/s.
	DlSpeed float64

	// LastLimitKiB is the download cap currently applied, in KiB/s;
	// <= 0 means none.
	LastLimitKiB int64

	// UploadLimited reports whether an upload limit is currently in force.
	UploadLimited bool
}

// DownloadLimit decides the download cap, in KiB/s, that keeps the cycle's
// average upload under the hard ceiling. Returns -1 to clear or keep no
// limit. The idea: when the torrent is about to finish while the cycle
// average is over the ceiling, stretch out the download so the cycle lasts
// long enough for the average to fall back under it.
func DownloadLimit(in DownloadInput) (limitKiB int64, reason string) {
	if in.Elapsed < 2 {
		return -1, ""
	}

	avgSpeed := float64(in.UploadedInCycle) / in.Elapsed
	if avgSpeed <= HardSpeedLimit {
		if in.LastLimitKiB > 0 {
			return -1, "average recovered"
		}
		return -1, ""
	}

	if in.Remaining <= 0 {
		return -1, ""
	}

	minTime := float64(dlLimitMinTime)
	if in.UploadLimited {
		minTime *= 2
	}

	if in.LastLimitKiB <= 0 {
		if in.ETA > 0 && float64(in.ETA) <= minTime {
			denom := float64(in.UploadedInCycle)/HardSpeedLimit - in.Elapsed + dlLimitBuffer
			if denom <= 0 {
				return DLLimitMinKiB, "severe overspeed"
			}
			dl := int64(float64(in.Remaining) / denom / 1024)
			return max(DLLimitMinKiB, dl), "average over limit"
		}
		return -1, ""
	}

	// An active cap and the average still above the ceiling: re-plan with a
	// wider buffer, but only while the measured download speed shows the cap
	// is actually binding.
	if in.DlSpeed/1024 < float64(2*in.LastLimitKiB) {
		denom := float64(in.UploadedInCycle)/HardSpeedLimit - in.Elapsed + dlLimitAdjustBuffer
		if denom <= 0 {
			return DLLimitMinKiB, "severe overspeed"
		}
		newLimit := float64(in.Remaining) / denom / 1024
		if newLimit > float64(dlLimitMaxKiB) {
			newLimit = float64(dlLimitMaxKiB)
		}
		switch {
		case newLimit > 1.5*float64(in.LastLimitKiB):
			newLimit = 1.5 * float64(in.LastLimitKiB)
		case newLimit < float64(in.LastLimitKiB):
			newLimit /= 1.5
		}
		return max(DLLimitMinKiB, int64(newLimit)), "adjusting"
	}
	return in.LastLimitKiB, "hold"
}
