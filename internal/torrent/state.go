// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrent holds the per-torrent bookkeeping the engine drives:
// announce cycle tracking, cached time-to-announce, limit history and the
// embedded rate controller.
package torrent

import (
	"sync"
	"time"

	"github.com/autobrr/pacer/internal/ratecontrol"
	"github.com/autobrr/pacer/pkg/mathutil"
)

// TimeLeftUnknown is returned while no announce information is available
// at all, keeping the torrent in warmup.
const TimeLeftUnknown = 9999

// backfillMinElapsed is how far into an estimated cycle the start-uploaded
// counter is worth back-dating from the filtered speed.
const backfillMinElapsed = 60

// State tracks one torrent across ticks. The engine owns it and calls all
// methods from its loop; the handful of fields the resolver and notifier
// goroutines write go through the mutex accessors.
type State struct {
	Hash string
	Name string

	mu             sync.Mutex
	tid            int64
	publishTime    time.Time
	lastAnnounceAt time.Time
	promotion      string
	tidSearched    bool
	tidNotFound    bool
	peerUploaded   int64

	TidSearchTime time.Time

	// Announce cycle.
	CycleIndex         int
	CycleStart         time.Time
	CycleStartUploaded int64
	CycleSynced        bool
	CycleInterval      float64
	JumpCount          int
	LastJump           time.Time

	TimeAdded time.Time

	// Session accumulators for the physical average speed.
	InitialUploaded    int64
	TotalSize          int64
	TotalUploadedStart int64
	SessionStart       time.Time

	// Client-reported time-to-announce, cached between property fetches.
	CachedTL float64
	CacheTS  time.Time
	PrevTL   float64

	LastUpLimit        int64
	LastUpReason       string
	LastDlLimitKiB     int64
	DlLimitedThisCycle bool

	LastReannounce       time.Time
	ReannouncedThisCycle bool
	WaitingReannounce    bool

	LastLog      time.Time
	LastLogLimit int64
	LastProps    time.Time
	ReportSent   bool

	LastPeerCheck time.Time

	Controller *ratecontrol.Controller
	Session    *ratecontrol.SessionWindow
}

// NewState returns a fresh state for a hash, with no limits applied yet.
func NewState(hash string) *State {
	return &State{
		Hash:           hash,
		LastUpLimit:    ratecontrol.Unlimited,
		LastDlLimitKiB: -1,
		LastLogLimit:   ratecontrol.Unlimited,
		Controller:     ratecontrol.NewController(),
		Session:        ratecontrol.NewSessionWindow(),
	}
}

// TID returns the resolved tracker torrent id, zero if unknown.
func (s *State) TID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tid
}

func (s *State) SetTID(tid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tid = tid
}

// PublishTime returns the tracker publish time, zero if unresolved.
func (s *State) PublishTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishTime
}

func (s *State) SetPublishTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishTime = t
}

// LastAnnounce returns the timestamp of the last observed announce, zero if
// none has been seen yet.
func (s *State) LastAnnounce() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAnnounceAt
}

func (s *State) SetLastAnnounce(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnnounceAt = t
}

// Promotion returns the tracker promotion label, empty if unresolved.
func (s *State) Promotion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promotion
}

// TidSearched reports whether a tracker id lookup has completed, found or
// not.
func (s *State) TidSearched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tidSearched
}

// TidNotFound reports whether the last lookup came up empty.
func (s *State) TidNotFound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tidNotFound
}

// MarkResolved records a successful tracker id lookup. Called from the
// resolver worker.
func (s *State) MarkResolved(tid int64, publishTime time.Time, promotion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tid = tid
	if !publishTime.IsZero() {
		s.publishTime = publishTime
	}
	s.promotion = promotion
	s.tidSearched = true
	s.tidNotFound = false
}

// MarkNotFound records a lookup that found nothing. Called from the
// resolver worker.
func (s *State) MarkNotFound(promotion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotion = promotion
	s.tidSearched = true
	s.tidNotFound = true
}

// SetPeerInfo records peer-list observations. Called from the resolver
// worker.
func (s *State) SetPeerInfo(uploaded int64, lastAnnounce time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uploaded > 0 {
		s.peerUploaded = uploaded
	}
	if !lastAnnounce.IsZero() {
		s.lastAnnounceAt = lastAnnounce
	}
}

// PeerUploaded returns the uploaded figure last seen on the tracker's peer
// list, zero if never observed.
func (s *State) PeerUploaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerUploaded
}

// AnnounceInterval estimates the tracker interval in seconds from the
// torrent's age: the publish time when resolved, the add time otherwise.
func (s *State) AnnounceInterval(now time.Time) float64 {
	if pt := s.PublishTime(); !pt.IsZero() {
		return estimateInterval(pt, now)
	}
	if !s.TimeAdded.IsZero() {
		return estimateInterval(s.TimeAdded, now)
	}
	return ratecontrol.AnnounceIntervalNew
}

func estimateInterval(ref, now time.Time) float64 {
	age := now.Sub(ref)
	switch {
	case age < 7*24*time.Hour:
		return ratecontrol.AnnounceIntervalNew
	case age < 30*24*time.Hour:
		return ratecontrol.AnnounceIntervalWeek
	default:
		return ratecontrol.AnnounceIntervalOld
	}
}

// TimeLeft returns seconds until the next announce. A directly observed
// announce wins over the decayed property cache; with neither the torrent
// reports TimeLeftUnknown.
func (s *State) TimeLeft(now time.Time) float64 {
	if la := s.LastAnnounce(); !la.IsZero() {
		next := la.Add(time.Duration(s.AnnounceInterval(now) * float64(time.Second)))
		return max(0, next.Sub(now).Seconds())
	}
	if s.CacheTS.IsZero() {
		return TimeLeftUnknown
	}
	return max(0, s.CachedTL-now.Sub(s.CacheTS).Seconds())
}

// Phase classifies the torrent's position in its announce cycle.
func (s *State) Phase(now time.Time) ratecontrol.Phase {
	return ratecontrol.ClassifyPhase(s.TimeLeft(now), s.CycleSynced)
}

// Elapsed returns seconds since the cycle started, zero before the first
// cycle.
func (s *State) Elapsed(now time.Time) float64 {
	if s.CycleStart.IsZero() {
		return 0
	}
	return max(0, now.Sub(s.CycleStart).Seconds())
}

// UploadedInCycle returns the bytes uploaded since the cycle baseline.
func (s *State) UploadedInCycle(currentUploaded int64) int64 {
	return max(0, currentUploaded-s.CycleStartUploaded)
}

// EstimateTotal returns the best guess for the cycle's full length in
// seconds, never below one.
func (s *State) EstimateTotal(now time.Time, timeLeft float64) float64 {
	elapsed := s.Elapsed(now)
	if timeLeft > 0 && timeLeft < ratecontrol.MaxAnnounceSeconds {
		return max(1, elapsed+timeLeft)
	}
	if s.CycleSynced && s.CycleInterval > 0 {
		return max(1, s.CycleInterval)
	}
	return max(1, elapsed)
}

// RealAvgSpeed returns the session-wide physical upload rate in bytes/s,
// zero until ten seconds of session history exist.
func (s *State) RealAvgSpeed(currentUploaded int64, now time.Time) float64 {
	if s.SessionStart.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.SessionStart).Seconds()
	if elapsed < 10 {
		return 0
	}
	return mathutil.SafeDiv(float64(currentUploaded-s.TotalUploadedStart), elapsed, 0)
}

// NewCycle rolls the state over into a fresh announce cycle.
//
// A jump rollover (the client's time-to-announce moved backwards, meaning an
// announce happened) anchors the baseline at the current uploaded counter
// and, from the second jump on, locks in the observed cycle interval. A
// non-jump rollover estimates where in the cycle the torrent already is and
// back-dates the baseline from the filtered speed when far enough in.
func (s *State) NewCycle(now time.Time, uploaded int64, timeLeft float64, isJump bool) {
	switch {
	case isJump:
		s.JumpCount++
		if s.JumpCount >= 2 && !s.LastJump.IsZero() {
			s.CycleInterval = now.Sub(s.LastJump).Seconds()
			s.CycleSynced = true
		}
		s.LastJump = now
		s.CycleIndex++
		s.CycleStartUploaded = uploaded
		s.SetLastAnnounce(now)

	case !s.TimeAdded.IsZero() && now.Sub(s.TimeAdded).Seconds() < s.AnnounceInterval(now):
		// Still inside the first announce interval: everything uploaded so
		// far belongs to this cycle.
		s.CycleStartUploaded = 0

	default:
		interval := s.AnnounceInterval(now)
		elapsedInCycle := 0.0
		if timeLeft > 0 && timeLeft < interval {
			elapsedInCycle = interval - timeLeft
		}
		if elapsedInCycle > backfillMinElapsed && s.Controller.Kalman.Speed > 0 {
			s.CycleStartUploaded = max(0, uploaded-int64(s.Controller.Kalman.Speed*elapsedInCycle))
		} else {
			s.CycleStartUploaded = uploaded
		}
	}

	s.CycleStart = now
	s.ReportSent = false
	s.DlLimitedThisCycle = false
	s.ReannouncedThisCycle = false
	s.WaitingReannounce = false
	s.LastDlLimitKiB = -1
	s.Controller.Reset()
	s.Session.Reset()
}

// Snapshot captures the fields worth surviving a restart.
type Snapshot struct {
	Hash               string
	Name               string
	TID                int64
	Promotion          string
	PublishTime        time.Time
	CycleIndex         int
	CycleStart         time.Time
	CycleStartUploaded int64
	CycleSynced        bool
	CycleInterval      float64
	TotalUploadedStart int64
	SessionStart       time.Time
	LastAnnounce       time.Time
}

// Snapshot returns the persistable view of the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Hash:               s.Hash,
		Name:               s.Name,
		TID:                s.TID(),
		Promotion:          s.Promotion(),
		PublishTime:        s.PublishTime(),
		CycleIndex:         s.CycleIndex,
		CycleStart:         s.CycleStart,
		CycleStartUploaded: s.CycleStartUploaded,
		CycleSynced:        s.CycleSynced,
		CycleInterval:      s.CycleInterval,
		TotalUploadedStart: s.TotalUploadedStart,
		SessionStart:       s.SessionStart,
		LastAnnounce:       s.LastAnnounce(),
	}
}

// Restore loads a snapshot back into the state. A resolved tid skips the
// tracker search on the next tick.
func (s *State) Restore(snap Snapshot) {
	s.Name = snap.Name
	s.mu.Lock()
	s.tid = snap.TID
	if snap.Promotion != "" {
		s.promotion = snap.Promotion
	}
	s.publishTime = snap.PublishTime
	s.lastAnnounceAt = snap.LastAnnounce
	if snap.TID != 0 {
		s.tidSearched = true
	}
	s.mu.Unlock()
	s.CycleIndex = snap.CycleIndex
	s.CycleStart = snap.CycleStart
	s.CycleStartUploaded = snap.CycleStartUploaded
	s.CycleSynced = snap.CycleSynced
	s.CycleInterval = snap.CycleInterval
	s.TotalUploadedStart = snap.TotalUploadedStart
	s.SessionStart = snap.SessionStart
}
