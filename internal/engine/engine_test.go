// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/ratecontrol"
	"github.com/autobrr/pacer/internal/torrent"
)

type fakeClient struct {
	mu          sync.Mutex
	torrents    []qbt.Torrent
	listErr     error
	props       map[string]qbt.TorrentProperties
	upCalls     map[int64][]string
	dlCalls     map[int64][]string
	reannounced []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		props:   map[string]qbt.TorrentProperties{},
		upCalls: map[int64][]string{},
		dlCalls: map[int64][]string{},
	}
}

func (f *fakeClient) ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.torrents, nil
}

func (f *fakeClient) TryProperties(ctx context.Context, hash string) (qbt.TorrentProperties, bool, error) {
	return f.props[hash], true, nil
}

func (f *fakeClient) SetUploadLimit(ctx context.Context, hashes []string, limit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upCalls[limit] = append(f.upCalls[limit], hashes...)
	return nil
}

func (f *fakeClient) SetDownloadLimit(ctx context.Context, hashes []string, limit int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlCalls[limit] = append(f.dlCalls[limit], hashes...)
	return nil
}

func (f *fakeClient) Reannounce(ctx context.Context, hashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reannounced = append(f.reannounced, hashes...)
	return nil
}

func (f *fakeClient) HealthCheck(ctx context.Context) error { return nil }

type recordedEvents struct {
	NopEvents
	mu        sync.Mutex
	monitors  []MonitorEvent
	reports   []CycleReport
	overspeed int
}

func (r *recordedEvents) MonitorStart(ev MonitorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors = append(r.monitors, ev)
}

func (r *recordedEvents) CycleReport(ev CycleReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, ev)
}

func (r *recordedEvents) OverspeedWarning(string, float64, int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overspeed++
}

func testAppConfig(t *testing.T, extra string) *config.AppConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `host = "http://localhost:8080"
username = "admin"
password = "adminadmin"
targetSpeedKib = 10240
safetyMargin = 1.0
` + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := config.New(path)
	require.NoError(t, err)
	return cfg
}

func newTestEngine(t *testing.T, extra string) (*Engine, *fakeClient, *recordedEvents) {
	t.Helper()
	client := newFakeClient()
	events := &recordedEvents{}
	e := New(testAppConfig(t, extra), client, &Controls{})
	e.SetEvents(events)
	return e, client, events
}

func downloadingTorrent(hash string) qbt.Torrent {
	return qbt.Torrent{
		Hash:      hash,
		Name:      "test torrent",
		State:     qbt.TorrentStateDownloading,
		TotalSize: 10 << 30,
		Tracker:   "https://tracker.example.org/announce",
	}
}

func TestTickSkipsExcludedTracker(t *testing.T) {
	e, client, _ := newTestEngine(t, `excludeTrackerKeyword = "example.org"`)
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	e.tick(context.Background(), time.Now())

	assert.Empty(t, e.states)
	assert.Empty(t, client.upCalls)
}

func TestTickHonoursTargetKeyword(t *testing.T) {
	e, client, _ := newTestEngine(t, `targetTrackerKeyword = "example.org"`)
	other := downloadingTorrent("bbbb")
	other.Tracker = "https://other.test/announce"
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa"), other}

	e.tick(context.Background(), time.Now())

	assert.Contains(t, e.states, "aaaa")
	assert.NotContains(t, e.states, "bbbb")
}

func TestTickStartsCycleAndCachesAnnounce(t *testing.T) {
	e, client, events := newTestEngine(t, "")
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}
	client.props["aaaa"] = qbt.TorrentProperties{Reannounce: 1200}

	now := time.Now()
	e.tick(context.Background(), now)

	st := e.states["aaaa"]
	require.NotNil(t, st)
	assert.False(t, st.CycleStart.IsZero())
	assert.False(t, st.CycleSynced)
	assert.Equal(t, float64(1200), st.PrevTL)
	assert.Equal(t, ratecontrol.PhaseWarmup, st.Phase(now))

	// No resolver wired, so the monitor notification goes out immediately.
	require.Len(t, events.monitors, 1)
	assert.Equal(t, "aaaa", events.monitors[0].Hash)
}

func TestJumpRollsCycleAndReports(t *testing.T) {
	e, client, events := newTestEngine(t, "")
	tor := downloadingTorrent("aaaa")
	tor.Uploaded = 1 << 20
	client.torrents = []qbt.Torrent{tor}
	client.props["aaaa"] = qbt.TorrentProperties{Reannounce: 1000}

	t0 := time.Now()
	e.tick(context.Background(), t0)
	require.Equal(t, 0, e.states["aaaa"].CycleIndex)

	// Announce countdown moved backwards by more than the threshold: the
	// tracker announced, the cycle rolls over and the old one is reported.
	client.props["aaaa"] = qbt.TorrentProperties{Reannounce: 1795}
	tor.Uploaded = 500 << 20
	client.torrents = []qbt.Torrent{tor}
	e.tick(context.Background(), t0.Add(3*time.Second))

	st := e.states["aaaa"]
	assert.Equal(t, 1, st.CycleIndex)
	assert.Equal(t, 1, st.JumpCount)
	assert.False(t, st.CycleSynced, "one jump is not enough to lock the interval")
	assert.False(t, st.LastAnnounce().IsZero())

	assert.Equal(t, int64(1), e.Stats().Total)
	require.Len(t, events.reports, 1)
	assert.Equal(t, int64(500<<20-1<<20), events.reports[0].Uploaded)
}

func TestPausedLiftsLimits(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	tor := downloadingTorrent("aaaa")
	tor.UpLimit = 500000
	client.torrents = []qbt.Torrent{tor}
	e.controls.Pause()

	e.tick(context.Background(), time.Now())

	assert.Contains(t, client.upCalls[ratecontrol.Unlimited], "aaaa")
	assert.Equal(t, "paused", e.states["aaaa"].LastUpReason)
}

func TestWaitingReannounceCapsUpload(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	t0 := time.Now()
	e.tick(context.Background(), t0)
	e.states["aaaa"].WaitingReannounce = true

	e.tick(context.Background(), t0.Add(3*time.Second))

	st := e.states["aaaa"]
	assert.Equal(t, int64(ratecontrol.ReannounceWaitLimitKiB*1024), st.LastUpLimit)
	assert.Equal(t, "waiting for announce", st.LastUpReason)
	assert.Contains(t, client.upCalls[ratecontrol.ReannounceWaitLimitKiB*1024], "aaaa")
	assert.True(t, st.WaitingReannounce, "stays latched until the average recovers")
}

func TestOverspeedBrake(t *testing.T) {
	e, client, events := newTestEngine(t, "")
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	t0 := time.Now()
	e.tick(context.Background(), t0)

	// 55 MiB/s session average, above the 50 MiB/s ceiling plus slack.
	st := e.states["aaaa"]
	st.SessionStart = t0.Add(-100 * time.Second)
	st.TotalUploadedStart = 0

	tor := downloadingTorrent("aaaa")
	tor.Uploaded = 100 * 55 * 1024 * 1024
	client.torrents = []qbt.Torrent{tor}
	e.tick(context.Background(), t0.Add(3*time.Second))

	assert.Equal(t, ratecontrol.MinLimit, st.LastUpLimit)
	assert.Equal(t, "overspeed brake", st.LastUpReason)
	assert.Contains(t, client.upCalls[ratecontrol.MinLimit], "aaaa")
	assert.Equal(t, 1, events.overspeed)
}

func TestPhysicalCeilingReplacesUnlimited(t *testing.T) {
	e, client, _ := newTestEngine(t, `maxPhysicalSpeedKib = 10240`)
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	// Warmup preheat wants unlimited; the configured line rate takes its
	// place.
	e.tick(context.Background(), time.Now())

	st := e.states["aaaa"]
	assert.Equal(t, int64(10240*1024), st.LastUpLimit)
	assert.Contains(t, client.upCalls[10240*1024], "aaaa")
}

func TestProtectGuardCapsOvershoot(t *testing.T) {
	e, _, _ := newTestEngine(t, "")
	now := time.Now()

	// Late in the cycle with the quota nearly filled, while the current
	// speed runs far past the target: the catch phase would release the
	// limit entirely, the guard caps it at 1.3x target instead.
	st := torrent.NewState("aaaa")
	st.Name = "test torrent"
	st.CycleSynced = true
	st.CycleStart = now.Add(-7500 * time.Second)
	st.CycleStartUploaded = 0
	st.CachedTL = 150
	st.CacheTS = now

	target := float64(10240 * 1024)
	tor := downloadingTorrent("aaaa")
	tor.Uploaded = int64(0.9 * target * 7650)
	tor.UpSpeed = 30 * 1024 * 1024

	limit, reason, _ := e.calcUploadLimit(st, tor, now, 150)
	assert.Equal(t, int64(target*ratecontrol.SpeedProtectLimit), limit)
	assert.Equal(t, "protect", reason)
}

func TestDownloadLimitClearedWhenComplete(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	t0 := time.Now()
	e.tick(context.Background(), t0)
	e.states["aaaa"].LastDlLimitKiB = 1024

	tor := downloadingTorrent("aaaa")
	tor.State = qbt.TorrentStateUploading
	client.torrents = []qbt.Torrent{tor}
	e.tick(context.Background(), t0.Add(3*time.Second))

	assert.Equal(t, int64(-1), e.states["aaaa"].LastDlLimitKiB)
	assert.Contains(t, client.dlCalls[ratecontrol.Unlimited], "aaaa")
}

func TestEvictsGoneTorrents(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	t0 := time.Now()
	e.tick(context.Background(), t0)
	require.Contains(t, e.states, "aaaa")

	client.torrents = nil
	e.tick(context.Background(), t0.Add(3*time.Second))
	assert.Empty(t, e.states)
}

func TestShutdownLiftsModifiedLimits(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	e.modifiedUp["aaaa"] = struct{}{}
	e.modifiedDl["bbbb"] = struct{}{}

	e.shutdown()

	assert.Contains(t, client.upCalls[ratecontrol.Unlimited], "aaaa")
	assert.Contains(t, client.dlCalls[ratecontrol.Unlimited], "bbbb")
}

func TestStatusSnapshot(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	tor := downloadingTorrent("aaaa")
	tor.UpSpeed = 2048
	client.torrents = []qbt.Torrent{tor}

	e.tick(context.Background(), time.Now())

	status := e.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "aaaa", status[0].Hash)
	assert.Equal(t, int64(2048), status[0].UpSpeed)
	assert.Equal(t, string(ratecontrol.PhaseWarmup), status[0].Phase)
}

func TestEffectiveTargetOverride(t *testing.T) {
	e, _, _ := newTestEngine(t, "")
	assert.Equal(t, int64(10240*1024), e.effectiveTarget())

	e.controls.SetTempTarget(2048)
	assert.Equal(t, int64(2048*1024), e.effectiveTarget())

	e.controls.SetTempTarget(0)
	assert.Equal(t, int64(10240*1024), e.effectiveTarget())
}

func TestTickCountsConnectionFailures(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	client.listErr = errors.New("connection refused")

	e.tick(context.Background(), time.Now())
	assert.Equal(t, 1, e.connFails)
	e.tick(context.Background(), time.Now())
	assert.Equal(t, 2, e.connFails)

	client.listErr = nil
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}
	e.tick(context.Background(), time.Now())
	assert.Equal(t, 0, e.connFails, "a successful pass resets the backoff")
}

func TestReconnectDelayLadder(t *testing.T) {
	tests := []struct {
		fails int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{20, 16 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reconnectDelay(tt.fails))
	}
}

func TestTickSnapshotsConfig(t *testing.T) {
	e, client, _ := newTestEngine(t, "")
	client.torrents = []qbt.Torrent{downloadingTorrent("aaaa")}

	// Every helper on the tick path reads the snapshot, so a reload
	// swapping the live config mid-pass cannot mix two configs.
	stale := *e.cfg.Get()
	stale.ExcludeTrackerKeyword = "example.org"
	e.conf = &stale
	assert.False(t, e.managed(downloadingTorrent("aaaa")))

	e.tick(context.Background(), time.Now())

	assert.Same(t, e.cfg.Get(), e.conf, "snapshot refreshed once at the top of the tick")
	assert.Contains(t, e.states, "aaaa")
}

func TestSleepLadder(t *testing.T) {
	tests := []struct {
		minTL float64
		want  time.Duration
	}{
		{3, 150 * time.Millisecond},
		{10, 250 * time.Millisecond},
		{25, 400 * time.Millisecond},
		{60, 800 * time.Millisecond},
		{3600, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sleepFor(tt.minTL))
	}
}

func TestControls(t *testing.T) {
	c := &Controls{}
	assert.False(t, c.Paused())
	c.Pause()
	assert.True(t, c.Paused())
	c.Resume()
	assert.False(t, c.Paused())
}
