// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratecontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const mib = 1024 * 1024

func TestDownloadLimitEarlyCycleNoAction(t *testing.T) {
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 100 * mib,
		Elapsed:         1,
	})
	assert.Equal(t, int64(-1), limit)
	assert.Empty(t, reason)
}

func TestDownloadLimitAverageUnderCeiling(t *testing.T) {
	// 40 MiB/s over 100s is under the ceiling: nothing to do.
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 4000 * mib,
		Elapsed:         100,
		Remaining:       1000 * mib,
	})
	assert.Equal(t, int64(-1), limit)
	assert.Empty(t, reason)
}

func TestDownloadLimitClearsWhenAverageRecovers(t *testing.T) {
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 4000 * mib,
		Elapsed:         100,
		Remaining:       1000 * mib,
		LastLimitKiB:    2048,
	})
	assert.Equal(t, int64(-1), limit)
	assert.Equal(t, "average recovered", reason)
}

func TestDownloadLimitNothingRemaining(t *testing.T) {
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       0,
	})
	assert.Equal(t, int64(-1), limit)
	assert.Empty(t, reason)
}

func TestDownloadLimitDistantETAWaits(t *testing.T) {
	// Overspeed but completion is far off: the average will recover on
	// its own.
	limit, _ := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       10000 * mib,
		ETA:             600,
	})
	assert.Equal(t, int64(-1), limit)
}

func TestDownloadLimitImminentCompletionCaps(t *testing.T) {
	// 80 MiB/s over 100s with 10s to completion. The cycle needs
	// 8000/50 - 100 + 30 = 90 more seconds, so spread the remaining
	// 900 MiB over it.
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       900 * mib,
		ETA:             10,
	})
	assert.Equal(t, "average over limit", reason)
	assert.Equal(t, int64(900*1024/90), limit)
}

func TestDownloadLimitUploadLimitedWidensHorizon(t *testing.T) {
	// ETA 30s is outside the bare 20s horizon but inside the doubled one.
	in := DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       900 * mib,
		ETA:             30,
	}
	limit, _ := DownloadLimit(in)
	assert.Equal(t, int64(-1), limit)

	in.UploadLimited = true
	limit, reason := DownloadLimit(in)
	assert.Equal(t, "average over limit", reason)
	assert.Greater(t, limit, int64(0))
}

func TestDownloadLimitAdjustGrowthCapped(t *testing.T) {
	// Re-planning would allow a much higher cap; growth is held to 1.5x.
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       9000 * mib,
		LastLimitKiB:    1024,
		DlSpeed:         1024 * 1024,
	})
	assert.Equal(t, "adjusting", reason)
	assert.Equal(t, int64(1536), limit)
}

func TestDownloadLimitAdjustShrinkDamped(t *testing.T) {
	// Re-planning wants a lower cap: shrink by the damping divisor.
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       900 * mib,
		LastLimitKiB:    65536,
		DlSpeed:         60000 * 1024,
	})
	assert.Equal(t, "adjusting", reason)
	// 900 MiB over 120s is 7680 KiB/s, damped to 5120.
	assert.Equal(t, int64(5120), limit)
}

func TestDownloadLimitHoldWhileCapNotBinding(t *testing.T) {
	// Measured download speed far above twice the cap means the cap is
	// not what is pacing the transfer: keep it untouched.
	limit, reason := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       900 * mib,
		LastLimitKiB:    1024,
		DlSpeed:         10000 * 1024,
	})
	assert.Equal(t, "hold", reason)
	assert.Equal(t, int64(1024), limit)
}

func TestDownloadLimitNeverBelowFloor(t *testing.T) {
	limit, _ := DownloadLimit(DownloadInput{
		UploadedInCycle: 8000 * mib,
		Elapsed:         100,
		Remaining:       1 * mib,
		ETA:             5,
	})
	assert.GreaterOrEqual(t, limit, DLLimitMinKiB)
}
