// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"fmt"
	"html"
	"time"

	"github.com/autobrr/pacer/internal/engine"
	"github.com/autobrr/pacer/internal/services/resolver"
	"github.com/autobrr/pacer/pkg/fmtutil"
)

// linkedName wraps a torrent name in a tracker details link when the id is
// resolved.
func linkedName(name string, tid int64) string {
	escaped := html.EscapeString(name)
	if tid > 0 {
		return fmt.Sprintf("<a href='%s'>%s</a>", resolver.DetailsURL(tid), escaped)
	}
	return escaped
}

func keyPrefix(name string) string {
	if len(name) > 10 {
		return name[:10]
	}
	return name
}

// MonitorStart implements engine.Events.
func (s *Service) MonitorStart(ev engine.MonitorEvent) {
	promo := ""
	if ev.Promotion != "" && ev.Promotion != "none" {
		promo = fmt.Sprintf("\npromotion: %s", html.EscapeString(ev.Promotion))
	}
	s.send(fmt.Sprintf(
		"<b>monitoring</b>\n%s\nsize: <code>%s</code>\ntarget: <code>%s</code>%s",
		linkedName(ev.Name, ev.TID), fmtutil.Size(ev.TotalSize), fmtutil.Speed(float64(ev.Target)), promo,
	), "start_"+ev.Hash, 0)
}

// CycleReport implements engine.Events. Only the first and every fifth cycle
// go out, the rest would be noise.
func (s *Service) CycleReport(ev engine.CycleReport) {
	if ev.CycleIndex%5 != 0 && ev.CycleIndex != 1 {
		return
	}
	s.send(fmt.Sprintf(
		"<b>cycle %d reported</b>\n%s\nspeed: <code>%s</code> (%.1f%%)\nuploaded: <code>%s</code> in <code>%s</code>",
		ev.CycleIndex, linkedName(ev.Name, ev.TID), fmtutil.Speed(ev.Speed), ev.Ratio*100,
		fmtutil.Size(ev.Uploaded), fmtutil.Duration(ev.Duration),
	), "cycle_"+ev.Hash, time.Minute)
}

// ReannounceForced implements engine.Events.
func (s *Service) ReannounceForced(name, reason string, tid int64) {
	s.send(fmt.Sprintf(
		"<b>forced reannounce</b>\n%s\nreason: %s",
		linkedName(name, tid), html.EscapeString(reason),
	), "reannounce_"+keyPrefix(name), time.Minute)
}

// OverspeedWarning implements engine.Events.
func (s *Service) OverspeedWarning(name string, speed float64, target int64, tid int64) {
	s.send(fmt.Sprintf(
		"<b>overspeed warning</b>\n%s\nsession average: <code>%s</code>\ntarget: <code>%s</code>",
		linkedName(name, tid), fmtutil.Speed(speed), fmtutil.Speed(float64(target)),
	), "overspeed_"+keyPrefix(name), 2*time.Minute)
}

// DownloadLimited implements engine.Events.
func (s *Service) DownloadLimited(name string, limitKiB int64, reason string, tid int64) {
	s.send(fmt.Sprintf(
		"<b>download limited</b>\n%s\nlimit: <code>%s</code>\nreason: %s",
		linkedName(name, tid), fmtutil.Speed(float64(limitKiB*1024)), html.EscapeString(reason),
	), "dl_limit_"+keyPrefix(name), time.Minute)
}

// TorrentFinished implements engine.Events.
func (s *Service) TorrentFinished(ev engine.FinishEvent) {
	s.send(fmt.Sprintf(
		"<b>download complete</b>\n%s\nsize: <code>%s</code>",
		html.EscapeString(ev.Name), fmtutil.Size(ev.TotalSize),
	), "finish_"+ev.Hash, 0)
}

// CookieInvalid implements engine.Events.
func (s *Service) CookieInvalid(message string) {
	s.send(fmt.Sprintf(
		"<b>tracker cookie invalid</b>\n%s\nupdate trackerCookie in the config",
		html.EscapeString(message),
	), "cookie_invalid", time.Hour)
}

// AutoremoveExecuted reports a torrent removed by the autoremove rules.
func (s *Service) AutoremoveExecuted(name, reason string, size int64) {
	s.send(fmt.Sprintf(
		"<b>autoremove</b>\n%s\nreason: %s\nfreed: <code>%s</code>",
		html.EscapeString(name), html.EscapeString(reason), fmtutil.Size(size),
	), "autorm_"+keyPrefix(name), 0)
}
