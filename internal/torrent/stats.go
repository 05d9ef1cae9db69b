// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"math"
	"sync"
	"time"

	"github.com/autobrr/pacer/internal/ratecontrol"
	"github.com/autobrr/pacer/pkg/mathutil"
)

// Stats aggregates cycle outcomes across all torrents for the session.
type Stats struct {
	mu        sync.Mutex
	Start     time.Time
	Total     int64
	Success   int64
	Precision int64
	Uploaded  int64
}

// NewStats returns stats anchored at now.
func NewStats(now time.Time) *Stats {
	return &Stats{Start: now}
}

// Record folds one finished cycle in. A cycle counts as a success at 95% of
// its intended upload and as precise within one permille of it.
func (st *Stats) Record(ratio float64, uploaded int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Total++
	st.Uploaded += uploaded
	if ratio >= 0.95 {
		st.Success++
	}
	if math.Abs(ratio-1) <= ratecontrol.PrecisionPerfect {
		st.Precision++
	}
}

// Rates returns the success and precision fractions over all recorded
// cycles.
func (st *Stats) Rates() (success, precision float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	total := float64(st.Total)
	return mathutil.SafeDiv(float64(st.Success), total, 0),
		mathutil.SafeDiv(float64(st.Precision), total, 0)
}

// StatsView is a point-in-time copy of the counters.
type StatsView struct {
	Start     time.Time
	Total     int64
	Success   int64
	Precision int64
	Uploaded  int64
}

// View returns a copy safe to read outside the lock.
func (st *Stats) View() StatsView {
	st.mu.Lock()
	defer st.mu.Unlock()
	return StatsView{
		Start:     st.Start,
		Total:     st.Total,
		Success:   st.Success,
		Precision: st.Precision,
		Uploaded:  st.Uploaded,
	}
}

// Load replaces the counters from persisted values.
func (st *Stats) Load(start time.Time, total, success, precision, uploaded int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !start.IsZero() {
		st.Start = start
	}
	st.Total = total
	st.Success = success
	st.Precision = precision
	st.Uploaded = uploaded
}
