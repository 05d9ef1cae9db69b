// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/pacer/internal/domain"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/pkg/fmtutil"
)

const telegramAPI = "https://api.telegram.org"

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// pollWorker long-polls getUpdates and dispatches commands from the
// configured chat.
func (s *Service) pollWorker(ctx context.Context) {
	for {
		if err := s.pollOnce(ctx); err != nil {
			log.Debug().Err(err).Msg("telegram poll failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) error {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(s.lastUpdateID+1, 10))
	q.Set("timeout", "30")
	q.Set("allowed_updates", `["message"]`)

	reqURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", telegramAPI, s.token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("getUpdates returned %d", resp.StatusCode)
	}

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}

	for _, u := range parsed.Result {
		if u.UpdateID > s.lastUpdateID {
			s.lastUpdateID = u.UpdateID
		}
		if u.Message == nil {
			continue
		}
		text := strings.TrimSpace(u.Message.Text)
		if text == "" || !strings.HasPrefix(text, "/") {
			continue
		}
		if strconv.FormatInt(u.Message.Chat.ID, 10) != s.chatID {
			continue
		}
		s.sendImmediate(s.handleCommand(ctx, text))
	}
	return nil
}

// handleCommand executes one bot command and returns the reply.
func (s *Service) handleCommand(ctx context.Context, text string) string {
	cmd, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)

	switch strings.ToLower(cmd) {
	case "/start", "/help":
		return helpText
	case "/status":
		return s.cmdStatus()
	case "/pause":
		s.controls.Pause()
		return "<b>shaping paused</b>\nall torrents run at full speed"
	case "/resume":
		s.controls.Resume()
		return "<b>shaping resumed</b>"
	case "/limit":
		return s.cmdLimit(args)
	case "/log":
		return s.cmdLog(args)
	case "/cookie":
		return s.cmdCookie(ctx)
	case "/config":
		return s.cmdConfig(ctx, args)
	case "/stats":
		return s.cmdStats()
	default:
		return "unknown command, try /help"
	}
}

const helpText = `<b>pacer commands</b>
/status - torrent overview
/stats - session statistics
/log [n] - recent log lines
/pause - stop shaping
/resume - resume shaping
/limit [speed] - show or override the target, e.g. /limit 100M
/cookie - check the tracker cookie
/config [key] [value] - override qBittorrent credentials`

func (s *Service) cmdStatus() string {
	if s.eng == nil {
		return "engine not running"
	}
	status := s.eng.Status()
	if len(status) == 0 {
		return "no torrents under management"
	}

	sort.Slice(status, func(i, j int) bool { return status[i].UpSpeed > status[j].UpSpeed })

	var b strings.Builder
	b.WriteString("<b>torrents</b>\n")
	shown := status
	if len(shown) > 15 {
		shown = shown[:15]
	}
	for _, row := range shown {
		name := row.Name
		if len(name) > 20 {
			name = name[:20]
		}
		fmt.Fprintf(&b, "%s [%s]\n  up <code>%s</code> | %.0fs left | cycle %d\n",
			linkedName(name, row.TID), row.Phase, fmtutil.Speed(float64(row.UpSpeed)), row.TimeLeft, row.CycleIndex)
	}
	if len(status) > 15 {
		fmt.Fprintf(&b, "... and %d more\n", len(status)-15)
	}

	state := "running"
	if s.controls.Paused() {
		state = "paused"
	}
	target := s.cfg.Get().TargetSpeedKiB
	if kib := s.controls.TempTargetKiB(); kib > 0 {
		target = kib
	}
	fmt.Fprintf(&b, "\n%s | target <code>%s</code>", state, fmtutil.Speed(float64(target*1024)))
	return b.String()
}

func (s *Service) cmdLimit(args string) string {
	if args == "" {
		current := s.controls.TempTargetKiB()
		if current <= 0 {
			current = s.cfg.Get().TargetSpeedKiB
		}
		return fmt.Sprintf("current target: <code>%s</code>", fmtutil.Speed(float64(current*1024)))
	}
	kib := fmtutil.ParseSpeedKiB(args)
	if kib <= 0 {
		return "invalid speed, try /limit 100M or /limit 51200K"
	}
	s.controls.SetTempTarget(kib)
	return fmt.Sprintf("target overridden to <code>%s</code> until restart", fmtutil.Speed(float64(kib*1024)))
}

func (s *Service) cmdLog(args string) string {
	n := 10
	if args != "" {
		if parsed, err := strconv.Atoi(args); err == nil {
			n = parsed
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 30 {
		n = 30
	}

	lines := s.ring.Tail(n)
	if len(lines) == 0 {
		return "no log lines yet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>last %d log lines</b>\n", len(lines))
	for _, line := range lines {
		fmt.Fprintf(&b, "<code>%s</code>\n", html.EscapeString(line))
	}
	return b.String()
}

func (s *Service) cmdCookie(ctx context.Context) string {
	if s.cookie == nil {
		return "tracker resolver not enabled"
	}
	valid, msg := s.cookie.CheckCookie(ctx)
	if valid {
		return fmt.Sprintf("<b>cookie valid</b>\n%s", html.EscapeString(msg))
	}
	return fmt.Sprintf("<b>cookie invalid</b>\n%s", html.EscapeString(msg))
}

func (s *Service) cmdConfig(ctx context.Context, args string) string {
	cfg := s.cfg.Get()
	if args == "" {
		return fmt.Sprintf(
			"usage: /config &lt;host|username|password&gt; &lt;value&gt;\nhost: <code>%s</code>\nusername: <code>%s</code>\npassword: <code>%s</code>",
			html.EscapeString(cfg.Host), html.EscapeString(cfg.Username), domain.RedactString(cfg.Password),
		)
	}

	key, value, ok := strings.Cut(args, " ")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "usage: /config <host|username|password> <value>"
	}

	var storeKey string
	switch key {
	case "host":
		storeKey = models.OverrideHost
	case "username":
		storeKey = models.OverrideUsername
	case "password":
		storeKey = models.OverridePassword
	default:
		return "unknown key, valid: host, username, password"
	}

	// The /config overview masks the password; reject a pasted-back mask
	// so it never replaces the real credential.
	if domain.IsRedactedValue(value) {
		return "that value looks masked, send the real secret"
	}

	if s.runtime == nil {
		return "runtime config store unavailable"
	}
	if err := s.runtime.Set(ctx, storeKey, value); err != nil {
		return fmt.Sprintf("failed to save: %s", html.EscapeString(err.Error()))
	}
	return fmt.Sprintf("saved %s override, restart to apply", key)
}

func (s *Service) cmdStats() string {
	if s.eng == nil {
		return "engine not running"
	}
	v := s.eng.Stats()
	uptime := s.now().Sub(s.startTime).Seconds()

	success := 0.0
	precision := 0.0
	if v.Total > 0 {
		success = float64(v.Success) / float64(v.Total) * 100
		precision = float64(v.Precision) / float64(v.Total) * 100
	}
	return fmt.Sprintf(
		"<b>session stats</b>\nuptime: <code>%s</code>\ncycles: <code>%d</code>\non target: <code>%.1f%%</code>\nwithin 0.1%%: <code>%.1f%%</code>\nuploaded: <code>%s</code>",
		fmtutil.Duration(uptime), v.Total, success, precision, fmtutil.Size(v.Uploaded),
	)
}
