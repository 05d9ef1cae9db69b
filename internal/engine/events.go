// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "sync/atomic"

// Controls carries the runtime switches shared between the engine and the
// bot: a global pause and a temporary target override.
type Controls struct {
	paused        atomic.Bool
	tempTargetKiB atomic.Int64
}

func (c *Controls) Pause()       { c.paused.Store(true) }
func (c *Controls) Resume()      { c.paused.Store(false) }
func (c *Controls) Paused() bool { return c.paused.Load() }

// SetTempTarget overrides the configured target, in KiB/s. Zero or negative
// clears the override.
func (c *Controls) SetTempTarget(kib int64) { c.tempTargetKiB.Store(kib) }
func (c *Controls) TempTargetKiB() int64    { return c.tempTargetKiB.Load() }

// MonitorEvent announces a torrent entering management.
type MonitorEvent struct {
	Hash      string
	Name      string
	TotalSize int64
	Target    int64
	TID       int64
	Promotion string
}

// CycleReport summarises a finished announce cycle.
type CycleReport struct {
	Hash            string
	Name            string
	Speed           float64
	RealSpeed       float64
	Target          int64
	Ratio           float64
	Uploaded        int64
	Duration        float64
	CycleIndex      int
	TID             int64
	TotalSize       int64
	TotalUploaded   int64
	TotalDownloaded int64
	ProgressPct     float64
	DlLimited       bool
	Reannounced     bool
}

// FinishEvent fires when a torrent's download completes.
type FinishEvent struct {
	Hash            string
	Name            string
	TotalSize       int64
	TotalUploaded   int64
	TotalDownloaded int64
}

// Events receives engine notifications; the bot implements it. All methods
// must be non-blocking.
type Events interface {
	MonitorStart(ev MonitorEvent)
	CycleReport(ev CycleReport)
	ReannounceForced(name, reason string, tid int64)
	OverspeedWarning(name string, speed float64, target int64, tid int64)
	DownloadLimited(name string, limitKiB int64, reason string, tid int64)
	TorrentFinished(ev FinishEvent)
	CookieInvalid(message string)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) MonitorStart(MonitorEvent)                      {}
func (NopEvents) CycleReport(CycleReport)                        {}
func (NopEvents) ReannounceForced(string, string, int64)         {}
func (NopEvents) OverspeedWarning(string, float64, int64, int64) {}
func (NopEvents) DownloadLimited(string, int64, string, int64)   {}
func (NopEvents) TorrentFinished(FinishEvent)                    {}
func (NopEvents) CookieInvalid(string)                           {}
