// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package autoremove

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pacer/internal/config"
)

type fakeClient struct {
	torrents []qbt.Torrent
	deleted  []string
}

func (f *fakeClient) AllTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	return f.torrents, nil
}

func (f *fakeClient) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	f.deleted = append(f.deleted, hashes...)
	return nil
}

type fakeNotifier struct {
	removed []string
}

func (f *fakeNotifier) AutoremoveExecuted(name, reason string, size int64) {
	f.removed = append(f.removed, name)
}

func testService(t *testing.T, rules string) (*Service, *fakeClient) {
	t.Helper()
	dir := t.TempDir()

	rulesPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0o644))

	configPath := filepath.Join(dir, "config.toml")
	content := `host = "http://localhost:8080"
username = "admin"
password = "adminadmin"
targetSpeedKib = 10240
safetyMargin = 1.0
autoremoveRulesPath = '` + rulesPath + `'
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	cfg, err := config.New(configPath)
	require.NoError(t, err)

	client := &fakeClient{}
	s := NewService(cfg, client)
	s.diskFree = func(string) int64 { return 500 << 30 }
	return s, client
}

const slowUploaderRule = `[{"name": "slow uploader", "max_up_bps": 1024, "min_low_sec": 60, "require_complete": true}]`

func TestSweepDryRunListsAllCandidates(t *testing.T) {
	s, client := testService(t, slowUploaderRule)
	client.torrents = []qbt.Torrent{
		{Hash: "a", Name: "dead1", UpSpeed: 0, Progress: 1},
		{Hash: "b", Name: "dead2", UpSpeed: 500, Progress: 1},
		{Hash: "c", Name: "busy", UpSpeed: 5 << 20, Progress: 1},
		{Hash: "d", Name: "incomplete", UpSpeed: 0, Progress: 0.5},
	}

	planned, err := s.Sweep(context.Background(), true)
	require.NoError(t, err)

	require.Len(t, planned, 2)
	assert.Equal(t, "dead1", planned[0].Name)
	assert.Equal(t, "dead2", planned[1].Name)
	assert.Empty(t, client.deleted, "dry run never deletes")
	assert.Empty(t, s.since, "dry run never arms hold timers")
}

func TestSweepHoldsBeforeDeleting(t *testing.T) {
	s, client := testService(t, slowUploaderRule)
	client.torrents = []qbt.Torrent{{Hash: "a", Name: "dead", UpSpeed: 0, Progress: 1}}

	now := time.Now()
	s.now = func() time.Time { return now }

	// First sweep only arms the timer.
	planned, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, planned)
	assert.Empty(t, client.deleted)

	// Still inside the hold window.
	now = now.Add(30 * time.Second)
	planned, err = s.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, planned)

	now = now.Add(31 * time.Second)
	planned, err = s.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, []string{"a"}, client.deleted)
}

func TestSweepResetsHoldWhenConditionClears(t *testing.T) {
	s, client := testService(t, slowUploaderRule)
	client.torrents = []qbt.Torrent{{Hash: "a", Name: "dead", UpSpeed: 0, Progress: 1}}

	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, s.since, 1)

	// Torrent picks back up, timer clears.
	client.torrents[0].UpSpeed = 1 << 20
	now = now.Add(time.Minute)
	_, err = s.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, s.since)
}

func TestSweepDeletesAtMostOne(t *testing.T) {
	s, client := testService(t, slowUploaderRule)
	client.torrents = []qbt.Torrent{
		{Hash: "a", Name: "dead1", UpSpeed: 100, Progress: 1},
		{Hash: "b", Name: "dead2", UpSpeed: 0, Progress: 1},
	}

	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)

	planned, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)

	// The slowest uploader goes first, the other waits for the next sweep.
	require.Len(t, planned, 1)
	assert.Equal(t, "dead2", planned[0].Name)
	assert.Equal(t, []string{"b"}, client.deleted)
}

func TestSweepNotifies(t *testing.T) {
	s, client := testService(t, `[{"name": "nuke", "max_up_bps": 1024, "min_low_sec": 1}]`)
	client.torrents = []qbt.Torrent{{Hash: "a", Name: "dead", UpSpeed: 0, Progress: 1, TotalSize: 1 << 30}}
	notifier := &fakeNotifier{}
	s.SetNotifier(notifier)

	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = s.Sweep(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"dead"}, notifier.removed)
}

func TestHoldStateSurvivesRestart(t *testing.T) {
	s, client := testService(t, slowUploaderRule)
	client.torrents = []qbt.Torrent{{Hash: "a", Name: "dead", UpSpeed: 0, Progress: 1}}

	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)
	s.saveHoldState()

	fresh := NewService(s.cfg, client)
	fresh.diskFree = s.diskFree
	fresh.now = func() time.Time { return now.Add(2 * time.Minute) }

	planned, err := fresh.Sweep(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, planned, 1)
}

func TestRuleMatches(t *testing.T) {
	base := qbt.Torrent{UpSpeed: 0, DlSpeed: 0, Progress: 1}

	tests := []struct {
		name    string
		rule    Rule
		torrent qbt.Torrent
		free    int64
		want    bool
	}{
		{
			name: "free space above threshold vetoes",
			rule: Rule{MinFreeGB: 100}, torrent: base, free: 200 << 30, want: false,
		},
		{
			name: "free space below threshold matches",
			rule: Rule{MinFreeGB: 100}, torrent: base, free: 50 << 30, want: true,
		},
		{
			name: "incomplete vetoes when completion required",
			rule: Rule{RequireComplete: true}, torrent: qbt.Torrent{Progress: 0.5}, want: false,
		},
		{
			name: "upload above cap vetoes",
			rule: Rule{MaxUpBps: 1000}, torrent: qbt.Torrent{UpSpeed: 2000, Progress: 1}, want: false,
		},
		{
			name: "download below floor vetoes",
			rule: Rule{MinDlBps: 1000}, torrent: qbt.Torrent{DlSpeed: 100, Progress: 1}, want: false,
		},
		{
			name: "idle torrent never leech-heavy",
			rule: Rule{MinDlUpRatio: 2}, torrent: qbt.Torrent{UpSpeed: 0, DlSpeed: 0}, want: false,
		},
		{
			name: "leech-heavy matches",
			rule: Rule{MinDlUpRatio: 2}, torrent: qbt.Torrent{UpSpeed: 1000, DlSpeed: 5000}, want: true,
		},
		{
			name: "balanced vetoes ratio rule",
			rule: Rule{MinDlUpRatio: 2}, torrent: qbt.Torrent{UpSpeed: 1000, DlSpeed: 1500}, want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ruleMatches(tt.rule, tt.torrent, tt.free))
		})
	}
}

func TestSweepWithoutRulesFile(t *testing.T) {
	s, _ := testService(t, "[]")
	planned, err := s.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, planned)
}
