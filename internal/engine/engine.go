// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine runs the supervisory loop: it polls active torrents,
// tracks their announce cycles, computes and applies upload and download
// limits, fires reannounces and persists state.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/domain"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/internal/ratecontrol"
	"github.com/autobrr/pacer/internal/torrent"
)

const (
	logInterval        = 20 * time.Second
	dbSaveInterval     = 180 * time.Second
	cookieInterval     = 3600 * time.Second
	tidSearchInterval  = 60 * time.Second
	tidNotFoundBackoff = 3600 * time.Second
	peerCheckInterval  = 300 * time.Second
	monitorGrace       = 60 * time.Second
)

// propsTTL is the per-phase minimum age between property fetches for one
// torrent. The finish phase needs a near-realtime announce countdown.
var propsTTL = map[ratecontrol.Phase]time.Duration{
	ratecontrol.PhaseFinish: 200 * time.Millisecond,
	ratecontrol.PhaseSteady: 500 * time.Millisecond,
	ratecontrol.PhaseCatch:  time.Second,
	ratecontrol.PhaseWarmup: 2 * time.Second,
}

// activeStates are the client states worth managing.
var activeStates = map[qbt.TorrentState]struct{}{
	qbt.TorrentStateDownloading: {},
	qbt.TorrentStateUploading:   {},
	qbt.TorrentStateForcedUp:    {},
	qbt.TorrentStateStalledUp:   {},
	qbt.TorrentStateStalledDl:   {},
	qbt.TorrentStateCheckingUp:  {},
	qbt.TorrentStateForcedDl:    {},
	qbt.TorrentStateCheckingDl:  {},
	qbt.TorrentStateMetaDl:      {},
}

// Client is the slice of the qBittorrent wrapper the engine drives.
type Client interface {
	ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error)
	TryProperties(ctx context.Context, hash string) (qbt.TorrentProperties, bool, error)
	SetUploadLimit(ctx context.Context, hashes []string, limit int64) error
	SetDownloadLimit(ctx context.Context, hashes []string, limit int64) error
	Reannounce(ctx context.Context, hashes []string) error
	HealthCheck(ctx context.Context) error
}

// Resolver looks up tracker-side metadata for managed torrents. All methods
// other than CheckCookie must be non-blocking.
type Resolver interface {
	Enabled() bool
	Search(hash string, st *torrent.State)
	PeerCheck(st *torrent.State)
	CheckCookie(ctx context.Context) (bool, string)
}

// TorrentStatus is one row of the engine's status snapshot.
type TorrentStatus struct {
	Hash       string
	Name       string
	Phase      string
	TimeLeft   float64
	CycleIndex int
	UpSpeed    int64
	UpLimit    int64
	UpReason   string
	DlLimitKiB int64
	Progress   float64
	TID        int64
}

type Engine struct {
	cfg      *config.AppConfig
	client   Client
	controls *Controls
	events   Events
	resolver Resolver

	// conf is the config snapshot for the current tick, taken once at the
	// top so a hot reload landing mid-pass cannot mix two configs.
	conf *domain.Config

	stateStore *models.TorrentStateStore
	statsStore *models.StatsStore

	states    map[string]*torrent.State
	stats     *torrent.Stats
	precision *ratecontrol.PrecisionTracker

	monitored  map[string]struct{}
	finished   map[string]struct{}
	modifiedUp map[string]struct{}
	modifiedDl map[string]struct{}

	lastDBSave      time.Time
	lastCookieCheck time.Time
	connFails       int

	statusMu sync.RWMutex
	status   []TorrentStatus

	now func() time.Time
}

func New(cfg *config.AppConfig, client Client, controls *Controls) *Engine {
	return &Engine{
		cfg:        cfg,
		client:     client,
		controls:   controls,
		events:     NopEvents{},
		conf:       cfg.Get(),
		states:     make(map[string]*torrent.State),
		stats:      torrent.NewStats(time.Now()),
		precision:  ratecontrol.NewPrecisionTracker(),
		monitored:  make(map[string]struct{}),
		finished:   make(map[string]struct{}),
		modifiedUp: make(map[string]struct{}),
		modifiedDl: make(map[string]struct{}),
		now:        time.Now,
	}
}

// SetEvents installs the notification sink. Must be called before Run.
func (e *Engine) SetEvents(ev Events) {
	e.events = ev
}

// SetResolver installs the tracker metadata resolver. Must be called before
// Run.
func (e *Engine) SetResolver(r Resolver) {
	e.resolver = r
}

// SetStores installs the persistence stores. Must be called before Run.
func (e *Engine) SetStores(states *models.TorrentStateStore, stats *models.StatsStore) {
	e.stateStore = states
	e.statsStore = stats
}

// Stats returns the session-wide cycle statistics.
func (e *Engine) Stats() torrent.StatsView {
	return e.stats.View()
}

// Status returns the per-torrent snapshot refreshed on every tick.
func (e *Engine) Status() []TorrentStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	out := make([]TorrentStatus, len(e.status))
	copy(out, e.status)
	return out
}

// Run drives the loop until ctx is cancelled, then flushes state and lifts
// every limit this process applied.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restoreStats(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to restore stats")
	}
	e.lastDBSave = e.now()

	log.Info().
		Int64("targetKiB", e.cfg.Get().TargetSpeedKiB).
		Bool("dlLimit", e.cfg.Get().DLLimitEnabled).
		Bool("reannounce", e.cfg.Get().ReannounceEnabled).
		Msg("engine started")

	for {
		start := e.now()
		minTL := e.tick(ctx, start)

		sleep := sleepFor(minTL) - e.now().Sub(start)
		if sleep < 100*time.Millisecond {
			sleep = 100 * time.Millisecond
		}
		if e.connFails > 0 {
			sleep = reconnectDelay(e.connFails)
			log.Info().Int("failures", e.connFails).Dur("retryIn", sleep).Msg("waiting before reconnect attempt")
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.shutdown()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tick runs one pass over the active torrents and returns the smallest
// time-to-announce seen, which drives the adaptive poll interval.
func (e *Engine) tick(ctx context.Context, now time.Time) float64 {
	e.conf = e.cfg.Get()
	e.periodic(ctx, now)

	minTL := float64(3600)

	torrents, err := e.client.ActiveTorrents(ctx)
	if err != nil {
		e.connFails++
		log.Warn().Err(err).Int("failures", e.connFails).Msg("torrent list failed, checking connection")
		if hcErr := e.client.HealthCheck(ctx); hcErr != nil {
			log.Error().Err(hcErr).Msg("qBittorrent unreachable")
		}
		return minTL
	}
	e.connFails = 0

	upActions := make(map[int64][]string)
	dlActions := make(map[int64][]string)
	active := make(map[string]struct{}, len(torrents))
	status := make([]TorrentStatus, 0, len(torrents))

	for _, t := range torrents {
		if _, ok := activeStates[t.State]; !ok {
			continue
		}
		active[t.Hash] = struct{}{}
		if tl := e.process(ctx, t, now, upActions, dlActions, &status); tl < minTL {
			minTL = tl
		}
	}

	for limit, hashes := range upActions {
		if err := e.client.SetUploadLimit(ctx, hashes, limit); err != nil {
			log.Warn().Err(err).Int64("limit", limit).Msg("failed to set upload limit")
		}
	}
	for limit, hashes := range dlActions {
		if err := e.client.SetDownloadLimit(ctx, hashes, limit); err != nil {
			log.Warn().Err(err).Int64("limit", limit).Msg("failed to set download limit")
		}
	}

	for hash := range e.states {
		if _, ok := active[hash]; !ok {
			e.evict(ctx, hash)
		}
	}

	e.statusMu.Lock()
	e.status = status
	e.statusMu.Unlock()

	return minTL
}

func (e *Engine) periodic(ctx context.Context, now time.Time) {
	if now.Sub(e.lastDBSave) > dbSaveInterval {
		e.saveAll(ctx)
		e.lastDBSave = now
	}
	if e.resolver != nil && e.resolver.Enabled() && now.Sub(e.lastCookieCheck) > cookieInterval {
		e.lastCookieCheck = now
		if valid, msg := e.resolver.CheckCookie(ctx); !valid {
			log.Warn().Str("status", msg).Msg("tracker cookie invalid")
			e.events.CookieInvalid(msg)
		}
	}
}

func (e *Engine) restoreStats(ctx context.Context) error {
	if e.statsStore == nil {
		return nil
	}
	v, err := e.statsStore.Load(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.stats.Load(v.Start, v.Total, v.Success, v.Precision, v.Uploaded)
	log.Info().Int64("cycles", v.Total).Msg("restored stats from database")
	return nil
}

func (e *Engine) saveAll(ctx context.Context) {
	if e.stateStore == nil {
		return
	}
	for _, st := range e.states {
		if err := e.stateStore.Save(ctx, st.Snapshot()); err != nil {
			log.Error().Err(err).Str("hash", st.Hash).Msg("failed to save torrent state")
		}
	}
	if e.statsStore != nil {
		if err := e.statsStore.Save(ctx, e.stats.View()); err != nil {
			log.Error().Err(err).Msg("failed to save stats")
		}
	}
}

// evict drops a torrent that left the active set. The persisted snapshot
// stays so a resumed torrent picks its cycle back up.
func (e *Engine) evict(ctx context.Context, hash string) {
	if e.stateStore != nil {
		if err := e.stateStore.Save(ctx, e.states[hash].Snapshot()); err != nil {
			log.Error().Err(err).Str("hash", hash).Msg("failed to save torrent state")
		}
	}
	delete(e.states, hash)
	delete(e.monitored, hash)
	delete(e.finished, hash)
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	log.Info().Msg("engine stopping")
	e.saveAll(ctx)

	if len(e.modifiedUp) > 0 {
		if err := e.client.SetUploadLimit(ctx, keys(e.modifiedUp), ratecontrol.Unlimited); err != nil {
			log.Warn().Err(err).Msg("failed to lift upload limits")
		}
	}
	if len(e.modifiedDl) > 0 {
		if err := e.client.SetDownloadLimit(ctx, keys(e.modifiedDl), ratecontrol.Unlimited); err != nil {
			log.Warn().Err(err).Msg("failed to lift download limits")
		}
	}
}

// effectiveTarget is the margin-adjusted target in bytes/s, honouring a
// temporary override from the bot.
func (e *Engine) effectiveTarget() int64 {
	if kib := e.controls.TempTargetKiB(); kib > 0 {
		return max(1, int64(float64(kib)*1024*e.conf.SafetyMargin))
	}
	return e.conf.TargetBytes()
}

// managed applies the tracker keyword filters.
func (e *Engine) managed(t qbt.Torrent) bool {
	if e.conf.ExcludeTrackerKeyword != "" && strings.Contains(t.Tracker, e.conf.ExcludeTrackerKeyword) {
		return false
	}
	if e.conf.TargetTrackerKeyword != "" && !strings.Contains(t.Tracker, e.conf.TargetTrackerKeyword) {
		return false
	}
	return true
}

func sleepFor(minTL float64) time.Duration {
	switch {
	case minTL <= 5:
		return 150 * time.Millisecond
	case minTL <= 15:
		return 250 * time.Millisecond
	case minTL <= 30:
		return 400 * time.Millisecond
	case minTL <= 90:
		return 800 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// reconnectDelay stretches the retry interval while qBittorrent is
// unreachable, 1 s doubling up to 16 s.
func reconnectDelay(fails int) time.Duration {
	if fails > 5 {
		fails = 5
	}
	return time.Second << (fails - 1)
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
