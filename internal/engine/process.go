// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"math"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/internal/ratecontrol"
	"github.com/autobrr/pacer/internal/torrent"
	"github.com/autobrr/pacer/pkg/fmtutil"
	"github.com/autobrr/pacer/pkg/mathutil"
)

// process runs one torrent through a tick: cycle tracking, limit
// calculation and reannounce checks. Returns the torrent's seconds until the
// next announce, TimeLeftUnknown when unmanaged.
func (e *Engine) process(ctx context.Context, t qbt.Torrent, now time.Time, upActions, dlActions map[int64][]string, status *[]TorrentStatus) float64 {
	if !e.managed(t) {
		return torrent.TimeLeftUnknown
	}

	totalUploaded := t.Uploaded
	totalDownloaded := t.Completed

	st, ok := e.states[t.Hash]
	if !ok {
		st = e.admit(ctx, t, now)
	}

	st.Name = t.Name
	if st.TotalSize <= 0 {
		st.TotalSize = t.TotalSize
	}
	st.Session.Record(now, totalUploaded, totalDownloaded, float64(t.UpSpeed), float64(t.DlSpeed))
	e.maybePeerCheck(st, now)

	tl := st.TimeLeft(now)
	if props, fetched := e.fetchProps(ctx, st, now); fetched {
		if ra := float64(props.Reannounce); ra > 0 && ra < ratecontrol.MaxAnnounceSeconds {
			st.CachedTL = ra
			st.CacheTS = now
			if st.LastAnnounce().IsZero() {
				tl = ra
			}
		}
	}

	currentUpLimit := t.UpLimit
	if currentUpLimit == 0 {
		currentUpLimit = ratecontrol.Unlimited
	}
	isJump := !st.CycleStart.IsZero() && tl > st.PrevTL+30

	e.maybeAnnounceMonitored(st, now)
	e.checkFinished(st, t, totalUploaded, totalDownloaded)

	if st.CycleStart.IsZero() || isJump {
		if isJump {
			e.report(st, t, now)
		}
		st.NewCycle(now, totalUploaded, tl, isJump)
		log.Info().
			Str("torrent", truncName(t.Name)).
			Int("cycle", st.CycleIndex).
			Bool("synced", st.CycleSynced).
			Int64("tid", st.TID()).
			Msg("new cycle")
	}
	st.PrevTL = tl

	upLimit, upReason, pidOut := e.calcUploadLimit(st, t, now, tl)
	dlLimitKiB, dlReason := e.calcDownloadLimit(st, t, now)
	e.checkReannounce(ctx, st, t, now)

	if now.Sub(st.LastLog) > logInterval || st.LastLogLimit != upLimit {
		uploaded := st.UploadedInCycle(totalUploaded)
		total := st.EstimateTotal(now, tl)
		progress := mathutil.SafeDiv(float64(uploaded), float64(e.effectiveTarget())*total, 0)
		log.Info().
			Str("torrent", truncName(t.Name)).
			Str("upSpeed", fmtutil.Speed(float64(t.UpSpeed))).
			Float64("progress", math.Round(progress*100)/100).
			Float64("timeLeft", math.Round(tl)).
			Str("phase", string(st.Phase(now))).
			Int64("limit", upLimit).
			Str("reason", upReason).
			Float64("pid", math.Round(pidOut*100)/100).
			Msg("tick")
		st.LastLog = now
		st.LastLogLimit = upLimit
	}

	st.LastUpLimit = upLimit
	st.LastUpReason = upReason
	if upLimit != currentUpLimit {
		upActions[upLimit] = append(upActions[upLimit], t.Hash)
		e.modifiedUp[t.Hash] = struct{}{}
	}

	if dlLimitKiB != st.LastDlLimitKiB {
		if dlLimitKiB > 0 {
			st.DlLimitedThisCycle = true
			if st.LastDlLimitKiB <= 0 {
				log.Warn().
					Str("torrent", truncName(t.Name)).
					Int64("limitKiB", dlLimitKiB).
					Str("reason", dlReason).
					Msg("download limited")
				e.events.DownloadLimited(t.Name, dlLimitKiB, dlReason, st.TID())
			}
		} else if st.LastDlLimitKiB > 0 {
			log.Info().Str("torrent", truncName(t.Name)).Msg("download limit lifted")
		}
		key := ratecontrol.Unlimited
		if dlLimitKiB > 0 {
			key = dlLimitKiB * 1024
		}
		dlActions[key] = append(dlActions[key], t.Hash)
		e.modifiedDl[t.Hash] = struct{}{}
		st.LastDlLimitKiB = dlLimitKiB
	}

	*status = append(*status, TorrentStatus{
		Hash:       st.Hash,
		Name:       st.Name,
		Phase:      string(st.Phase(now)),
		TimeLeft:   tl,
		CycleIndex: st.CycleIndex,
		UpSpeed:    t.UpSpeed,
		UpLimit:    upLimit,
		UpReason:   upReason,
		DlLimitKiB: dlLimitKiB,
		Progress:   t.Progress,
		TID:        st.TID(),
	})
	return tl
}

// admit creates the in-memory state for a newly seen torrent, restoring the
// persisted snapshot when one exists.
func (e *Engine) admit(ctx context.Context, t qbt.Torrent, now time.Time) *torrent.State {
	st := torrent.NewState(t.Hash)
	if e.stateStore != nil {
		snap, err := e.stateStore.Get(ctx, t.Hash)
		switch {
		case err == nil:
			st.Restore(snap)
			log.Info().Str("torrent", truncName(t.Name)).Int("cycle", st.CycleIndex).Msg("restored torrent state")
		case !errors.Is(err, models.ErrNotFound):
			log.Warn().Err(err).Str("hash", t.Hash).Msg("failed to load torrent state")
		}
	}
	if t.AddedOn > 0 {
		st.TimeAdded = time.Unix(t.AddedOn, 0)
	}
	st.InitialUploaded = t.Uploaded
	st.TotalSize = t.TotalSize
	if st.SessionStart.IsZero() {
		st.TotalUploadedStart = t.Uploaded
		st.SessionStart = now
	}
	e.states[t.Hash] = st
	return st
}

// fetchProps polls the torrent properties when the phase TTL has expired and
// the API budget allows.
func (e *Engine) fetchProps(ctx context.Context, st *torrent.State, now time.Time) (qbt.TorrentProperties, bool) {
	ttl, ok := propsTTL[st.Phase(now)]
	if !ok {
		ttl = time.Second
	}
	if !st.LastProps.IsZero() && now.Sub(st.LastProps) < ttl {
		return qbt.TorrentProperties{}, false
	}
	props, requested, err := e.client.TryProperties(ctx, st.Hash)
	if !requested {
		return qbt.TorrentProperties{}, false
	}
	if err != nil {
		log.Debug().Err(err).Str("hash", st.Hash).Msg("properties fetch failed")
		return qbt.TorrentProperties{}, false
	}
	st.LastProps = now
	return props, true
}

// maybeAnnounceMonitored emits the monitor-start notification once per
// torrent, delayed briefly so a tid lookup can land first.
func (e *Engine) maybeAnnounceMonitored(st *torrent.State, now time.Time) {
	if _, ok := e.monitored[st.Hash]; ok {
		return
	}
	e.maybeSearchTID(st, now)

	resolving := e.resolver != nil && e.resolver.Enabled()
	if st.TidSearched() || !resolving || now.Sub(st.SessionStart) > monitorGrace {
		e.events.MonitorStart(MonitorEvent{
			Hash:      st.Hash,
			Name:      st.Name,
			TotalSize: st.TotalSize,
			Target:    e.effectiveTarget(),
			TID:       st.TID(),
			Promotion: st.Promotion(),
		})
		e.monitored[st.Hash] = struct{}{}
	}
}

func (e *Engine) maybeSearchTID(st *torrent.State, now time.Time) {
	if e.resolver == nil || !e.resolver.Enabled() {
		return
	}
	if st.TID() != 0 || st.TidSearched() {
		return
	}
	if st.TidNotFound() && now.Sub(st.TidSearchTime) < tidNotFoundBackoff {
		return
	}
	if !st.TidSearchTime.IsZero() && now.Sub(st.TidSearchTime) < tidSearchInterval {
		return
	}
	st.TidSearchTime = now
	e.resolver.Search(st.Hash, st)
}

func (e *Engine) maybePeerCheck(st *torrent.State, now time.Time) {
	if e.resolver == nil || !e.resolver.Enabled() || st.TID() <= 0 {
		return
	}
	if !st.LastPeerCheck.IsZero() && now.Sub(st.LastPeerCheck) < peerCheckInterval {
		return
	}
	st.LastPeerCheck = now
	e.resolver.PeerCheck(st)
}

func (e *Engine) checkFinished(st *torrent.State, t qbt.Torrent, totalUploaded, totalDownloaded int64) {
	if st.TotalSize <= 0 || totalDownloaded < st.TotalSize {
		return
	}
	if _, ok := e.finished[st.Hash]; ok {
		return
	}
	e.finished[st.Hash] = struct{}{}
	e.events.TorrentFinished(FinishEvent{
		Hash:            st.Hash,
		Name:            t.Name,
		TotalSize:       st.TotalSize,
		TotalUploaded:   totalUploaded,
		TotalDownloaded: totalDownloaded,
	})
}

// calcUploadLimit computes the limit to apply this tick, in bytes/s.
func (e *Engine) calcUploadLimit(st *torrent.State, t qbt.Torrent, now time.Time, tl float64) (limit int64, reason string, pidOut float64) {
	if e.controls.Paused() {
		return ratecontrol.Unlimited, "paused", 1
	}

	target := float64(e.effectiveTarget())
	current := float64(t.UpSpeed)
	st.Controller.RecordSpeed(now, current)

	realSpeed := st.RealAvgSpeed(t.Uploaded, now)
	if realSpeed > ratecontrol.HardSpeedLimit*1.05 {
		log.Warn().
			Str("torrent", truncName(t.Name)).
			Str("realSpeed", fmtutil.Speed(realSpeed)).
			Msg("session average over hard ceiling")
		e.events.OverspeedWarning(t.Name, realSpeed, int64(target), st.TID())
		return ratecontrol.MinLimit, "overspeed brake", 1
	}

	if st.WaitingReannounce {
		return ratecontrol.ReannounceWaitLimitKiB * 1024, "waiting for announce", 1
	}

	uploaded := st.UploadedInCycle(t.Uploaded)
	phase := st.Phase(now)
	calc := st.Controller.Calculate(target, uploaded, tl, st.Elapsed(now), phase, now, e.precision.Adjustment(phase))
	limit = calc.Limit
	reason = calc.Reason

	if maxPhy := e.conf.MaxPhysicalBytes(); maxPhy > 0 {
		if limit == ratecontrol.Unlimited || limit > maxPhy {
			limit = maxPhy
		}
	}

	progress := mathutil.SafeDiv(float64(uploaded), target*st.EstimateTotal(now, tl), 0)
	if progress >= ratecontrol.ProgressProtect && current > target*ratecontrol.SpeedProtectRatio {
		protect := int64(target * ratecontrol.SpeedProtectLimit)
		if limit == ratecontrol.Unlimited || limit > protect {
			limit = protect
			reason = "protect"
		}
	}
	return limit, reason, calc.PIDOutput
}

// calcDownloadLimit computes the download cap in KiB/s, -1 for none.
func (e *Engine) calcDownloadLimit(st *torrent.State, t qbt.Torrent, now time.Time) (int64, string) {
	if !e.conf.DLLimitEnabled || e.controls.Paused() {
		return -1, ""
	}

	totalSize := t.TotalSize
	if totalSize <= 0 {
		totalSize = st.TotalSize
	}
	if totalSize <= 0 {
		return -1, ""
	}

	stateStr := strings.ToLower(string(t.State))
	if !strings.Contains(stateStr, "download") && !strings.Contains(stateStr, "stalled") {
		if st.LastDlLimitKiB > 0 {
			return -1, "complete"
		}
		return -1, ""
	}

	return ratecontrol.DownloadLimit(ratecontrol.DownloadInput{
		UploadedInCycle: st.UploadedInCycle(t.Uploaded),
		Elapsed:         st.Elapsed(now),
		Remaining:       max(0, totalSize-t.Completed),
		ETA:             t.ETA,
		DlSpeed:         float64(t.DlSpeed),
		LastLimitKiB:    st.LastDlLimitKiB,
		UploadLimited:   st.LastUpLimit > 0,
	})
}

func (e *Engine) checkReannounce(ctx context.Context, st *torrent.State, t qbt.Torrent, now time.Time) {
	if !e.conf.ReannounceEnabled || e.controls.Paused() {
		return
	}
	totalSize := t.TotalSize
	if totalSize <= 0 {
		totalSize = st.TotalSize
	}
	if totalSize <= 0 {
		return
	}

	uploaded := st.UploadedInCycle(t.Uploaded)
	elapsed := st.Elapsed(now)

	if st.WaitingReannounce {
		if fire, reason := ratecontrol.EvaluateWaiting(uploaded, elapsed); fire {
			e.doReannounce(ctx, st, now, reason)
		}
		return
	}

	avgUp, avgDl := st.Session.AverageRates(now, ratecontrol.ReannounceSpeedWindow)
	decision := ratecontrol.EvaluateReannounce(ratecontrol.ReannounceInput{
		UploadedInCycle:  uploaded,
		Elapsed:          elapsed,
		AvgUp:            avgUp,
		AvgDl:            avgDl,
		Remaining:        max(0, totalSize-t.Completed),
		AnnounceInterval: st.AnnounceInterval(now),
		LastReannounce:   st.LastReannounce,
		Now:              now,
	})
	switch {
	case decision.Fire:
		e.doReannounce(ctx, st, now, decision.Reason)
	case decision.Wait:
		st.WaitingReannounce = true
		log.Info().Str("torrent", truncName(st.Name)).Msg("holding upload until planned announce")
	}
}

func (e *Engine) doReannounce(ctx context.Context, st *torrent.State, now time.Time, reason string) {
	if err := e.client.Reannounce(ctx, []string{st.Hash}); err != nil {
		log.Warn().Err(err).Str("hash", st.Hash).Msg("reannounce failed")
		return
	}
	st.LastReannounce = now
	st.ReannouncedThisCycle = true
	st.WaitingReannounce = false
	st.SetLastAnnounce(now)
	log.Warn().
		Str("torrent", truncName(st.Name)).
		Str("reason", reason).
		Msg("forced reannounce")
	e.events.ReannounceForced(st.Name, reason, st.TID())
}

// report closes out a cycle: the reported ratio feeds the precision tracker
// and the aggregate stats, and the bot gets the full summary.
func (e *Engine) report(st *torrent.State, t qbt.Torrent, now time.Time) {
	if st.ReportSent {
		return
	}
	st.ReportSent = true

	target := float64(e.effectiveTarget())
	duration := math.Max(1, st.Elapsed(now))
	uploaded := st.UploadedInCycle(t.Uploaded)
	speed := float64(uploaded) / duration
	ratio := mathutil.SafeDiv(speed, target, 0)

	e.precision.Record(ratio, st.Phase(now), now)
	e.stats.Record(ratio, uploaded)

	totalSize := t.TotalSize
	if totalSize <= 0 {
		totalSize = st.TotalSize
	}
	progressPct := 0.0
	if totalSize > 0 {
		progressPct = mathutil.SafeDiv(float64(t.Completed), float64(totalSize), 0) * 100
	}

	log.Info().
		Str("torrent", truncName(t.Name)).
		Str("speed", fmtutil.Speed(speed)).
		Float64("ratio", math.Round(ratio*1000)/1000).
		Bool("dlLimited", st.DlLimitedThisCycle).
		Bool("reannounced", st.ReannouncedThisCycle).
		Msg("cycle reported")

	e.events.CycleReport(CycleReport{
		Hash:            st.Hash,
		Name:            t.Name,
		Speed:           speed,
		RealSpeed:       st.RealAvgSpeed(t.Uploaded, now),
		Target:          int64(target),
		Ratio:           ratio,
		Uploaded:        uploaded,
		Duration:        duration,
		CycleIndex:      st.CycleIndex,
		TID:             st.TID(),
		TotalSize:       totalSize,
		TotalUploaded:   t.Uploaded,
		TotalDownloaded: t.Completed,
		ProgressPct:     progressPct,
		DlLimited:       st.DlLimitedThisCycle,
		Reannounced:     st.ReannouncedThisCycle,
	})
}

func truncName(name string) string {
	if len(name) > 24 {
		return name[:24]
	}
	return name
}
