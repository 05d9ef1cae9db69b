// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/pacer/internal/engine"
	"github.com/autobrr/pacer/internal/torrent"
)

type fakeView struct {
	status []engine.TorrentStatus
	stats  torrent.StatsView
}

func (f *fakeView) Status() []engine.TorrentStatus { return f.status }
func (f *fakeView) Stats() torrent.StatsView       { return f.stats }

func testView() *fakeView {
	return &fakeView{
		status: []engine.TorrentStatus{
			{Hash: "aaa", Name: "one.iso", Phase: "steady", TimeLeft: 300, CycleIndex: 2, UpSpeed: 1 << 20, UpLimit: 2 << 20},
			{Hash: "bbb", Name: "two.iso", Phase: "steady", TimeLeft: 60, CycleIndex: 7, UpSpeed: 3 << 20, UpLimit: -1},
			{Hash: "ccc", Name: "new.iso", Phase: "warmup", TimeLeft: 9999, CycleIndex: 0, UpSpeed: 0, UpLimit: -1},
		},
		stats: torrent.StatsView{Total: 12, Success: 10, Precision: 4, Uploaded: 5 << 30},
	}
}

func TestCollectorSessionTotals(t *testing.T) {
	c := NewEngineCollector(testView())

	expected := strings.NewReader(`
# HELP pacer_cycles_reported_total Announce cycles reported this session
# TYPE pacer_cycles_reported_total counter
pacer_cycles_reported_total 12
# HELP pacer_cycles_on_target_total Reported cycles that landed within 5% of the target
# TYPE pacer_cycles_on_target_total counter
pacer_cycles_on_target_total 10
# HELP pacer_cycles_precise_total Reported cycles that landed within 0.1% of the target
# TYPE pacer_cycles_precise_total counter
pacer_cycles_precise_total 4
# HELP pacer_torrents_managed Number of torrents currently under rate management
# TYPE pacer_torrents_managed gauge
pacer_torrents_managed 3
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected,
		"pacer_cycles_reported_total",
		"pacer_cycles_on_target_total",
		"pacer_cycles_precise_total",
		"pacer_torrents_managed",
	))
}

func TestCollectorPhaseBreakdown(t *testing.T) {
	c := NewEngineCollector(testView())

	expected := strings.NewReader(`
# HELP pacer_torrents_by_phase Number of managed torrents per cycle phase
# TYPE pacer_torrents_by_phase gauge
pacer_torrents_by_phase{phase="steady"} 2
pacer_torrents_by_phase{phase="warmup"} 1
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected, "pacer_torrents_by_phase"))
}

func TestCollectorPerTorrentGauges(t *testing.T) {
	c := NewEngineCollector(testView())

	expected := strings.NewReader(`
# HELP pacer_torrent_upload_limit_bytes_per_second Applied upload limit per torrent, -1 when unlimited
# TYPE pacer_torrent_upload_limit_bytes_per_second gauge
pacer_torrent_upload_limit_bytes_per_second{hash="aaa",name="one.iso"} 2.097152e+06
pacer_torrent_upload_limit_bytes_per_second{hash="bbb",name="two.iso"} -1
pacer_torrent_upload_limit_bytes_per_second{hash="ccc",name="new.iso"} -1
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected, "pacer_torrent_upload_limit_bytes_per_second"))
}

func TestManagerServesMetrics(t *testing.T) {
	m := NewManager(testView())

	srv := httptest.NewServer(promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
