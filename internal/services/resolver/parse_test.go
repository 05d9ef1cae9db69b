// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `<html><body>
<table class="torrents" border="1">
<tr><td class="colhead">Type</td><td class="colhead">Title</td></tr>
<tr>
  <td>Anime</td>
  <td>
    <a href="details.php?id=54321&hit=1">Some.Release.1080p</a>
    <img class="pro_free2up" alt="promo">
    <time title="2026-07-01 12:30:00">3 months ago</time>
  </td>
</tr>
</table>
</body></html>`

const searchPageEmpty = `<html><body>
<table class="torrents"><tr><td class="colhead">Title</td></tr></table>
</body></html>`

const peerPage = `<html><body>
<table>
<tr><td>User</td><td>Uploaded</td></tr>
<tr bgcolor="#ffeecc">
  <td>me</td><td>12.5 GiB</td><td>0</td><td>0</td><td>0</td>
  <td>0</td><td>0</td><td>0</td><td>0</td><td>0</td><td>1:02:03</td>
</tr>
</table>
</body></html>`

func TestParseSearchResult(t *testing.T) {
	res, found, err := parseSearchResult(strings.NewReader(searchPage))
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, int64(54321), res.TID)
	assert.Equal(t, "Free+2x", res.Promotion)

	want := time.Date(2026, 7, 1, 12, 30, 0, 0, time.Local)
	assert.Equal(t, want, res.PublishTime)
}

func TestParseSearchResultEmptyListing(t *testing.T) {
	_, found, err := parseSearchResult(strings.NewReader(searchPageEmpty))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParseSearchResultNoTable(t *testing.T) {
	_, found, err := parseSearchResult(strings.NewReader("<html><body><p>nothing</p></body></html>"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParsePeerList(t *testing.T) {
	info, found, err := parsePeerList(strings.NewReader(peerPage))
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, int64(12.5*1024*1024*1024), info.Uploaded)
	assert.Equal(t, int64(3723), info.IdleSeconds)
}

func TestParsePeerListWithoutOwnRow(t *testing.T) {
	page := `<html><body><table><tr><td>nobody</td></tr></table></body></html>`
	_, found, err := parsePeerList(strings.NewReader(page))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512 B", 512},
		{"1 KiB", 1024},
		{"12.5 GiB", int64(12.5 * 1024 * 1024 * 1024)},
		{"1,5 MiB", int64(1.5 * 1024 * 1024)},
		{"2 TiB", 2 << 40},
		{"garbage", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSize(tt.in), tt.in)
	}
}

func TestParseIdle(t *testing.T) {
	assert.Equal(t, int64(80), parseIdle("1:20"))
	assert.Equal(t, int64(3723), parseIdle("1:02:03"))
	assert.Equal(t, int64(45), parseIdle("45"))
	assert.Equal(t, int64(0), parseIdle("n/a"))
}
