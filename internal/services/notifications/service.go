// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications implements the Telegram side channel: queued event
// notifications sent through shoutrrr and a long-poll command loop for
// runtime control.
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/engine"
	"github.com/autobrr/pacer/internal/logger"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/internal/torrent"
	"github.com/autobrr/pacer/pkg/fmtutil"
)

const (
	queueSize    = 100
	sendSpacing  = 3 * time.Second
	pollInterval = 2 * time.Second

	// minThrottle is the floor for per-key dedup intervals.
	minThrottle = 10 * time.Second
)

// EngineView is the read side of the engine the bot reports on.
type EngineView interface {
	Status() []engine.TorrentStatus
	Stats() torrent.StatsView
}

// CookieChecker validates the tracker cookie on demand.
type CookieChecker interface {
	CheckCookie(ctx context.Context) (valid bool, message string)
}

type outbound struct {
	text     string
	key      string
	interval time.Duration
}

// Service sends Telegram notifications and serves bot commands. It
// implements engine.Events; with no token configured every method is a
// no-op.
type Service struct {
	cfg      *config.AppConfig
	controls *engine.Controls
	ring     *logger.Ring

	eng     EngineView
	cookie  CookieChecker
	runtime *models.RuntimeConfigStore

	enabled bool
	token   string
	chatID  string

	queue     chan outbound
	mu        sync.Mutex
	lastSend  map[string]time.Time
	startOnce sync.Once
	startTime time.Time

	httpClient   *http.Client
	lastUpdateID int64

	now func() time.Time
}

func NewService(cfg *config.AppConfig, controls *engine.Controls, ring *logger.Ring) *Service {
	c := cfg.Get()
	return &Service{
		cfg:        cfg,
		controls:   controls,
		ring:       ring,
		enabled:    c.TelegramEnabled(),
		token:      c.TelegramBotToken,
		chatID:     strings.TrimSpace(c.TelegramChatID),
		queue:      make(chan outbound, queueSize),
		lastSend:   map[string]time.Time{},
		startTime:  time.Now(),
		httpClient: &http.Client{Timeout: 35 * time.Second},
		now:        time.Now,
	}
}

// SetEngine wires the status source for /status and /stats.
func (s *Service) SetEngine(eng EngineView) { s.eng = eng }

// SetCookieChecker wires the /cookie command.
func (s *Service) SetCookieChecker(c CookieChecker) { s.cookie = c }

// SetRuntimeStore wires the /config credential override persistence.
func (s *Service) SetRuntimeStore(store *models.RuntimeConfigStore) { s.runtime = store }

// Enabled reports whether a bot token and chat id are configured.
func (s *Service) Enabled() bool { return s.enabled }

// Start launches the send worker and the command poller.
func (s *Service) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.startOnce.Do(func() {
		go s.sendWorker(ctx)
		go s.pollWorker(ctx)
	})
}

func (s *Service) sendWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.deliver(msg.text); err != nil {
				log.Debug().Err(err).Msg("telegram send failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sendSpacing):
			}
		}
	}
}

func (s *Service) serviceURL() string {
	return fmt.Sprintf("telegram://%s@telegram?chats=%s&parseMode=HTML&preview=false", s.token, s.chatID)
}

func (s *Service) deliver(text string) error {
	sender, err := router.New(nil, s.serviceURL())
	if err != nil {
		return err
	}
	for _, sendErr := range sender.Send(text, &types.Params{}) {
		if sendErr != nil {
			return sendErr
		}
	}
	return nil
}

// send queues a message. A non-empty key dedups repeats within interval,
// never under the floor.
func (s *Service) send(text, key string, interval time.Duration) {
	if !s.enabled {
		return
	}
	if key != "" {
		if interval < minThrottle {
			interval = minThrottle
		}
		s.mu.Lock()
		now := s.now()
		if last, ok := s.lastSend[key]; ok && now.Sub(last) < interval {
			s.mu.Unlock()
			return
		}
		s.lastSend[key] = now
		s.mu.Unlock()
	}
	select {
	case s.queue <- outbound{text: text, key: key, interval: interval}:
	default:
		log.Warn().Msg("telegram queue full, dropping message")
	}
}

// sendImmediate bypasses the queue, used for command replies.
func (s *Service) sendImmediate(text string) {
	if !s.enabled {
		return
	}
	if err := s.deliver(text); err != nil {
		log.Debug().Err(err).Msg("telegram reply failed")
	}
}

// Startup announces the daemon coming up.
func (s *Service) Startup(appVersion, qbVersion string, resolverEnabled bool) {
	resolver := "off"
	if resolverEnabled {
		resolver = "on"
	}
	s.send(fmt.Sprintf(
		"<b>pacer started</b>\nversion: <code>%s</code>\ntarget: <code>%s</code>\nqBittorrent: <code>%s</code>\nresolver: %s",
		appVersion, fmtutil.Speed(float64(s.cfg.Get().TargetBytes())), qbVersion, resolver,
	), "startup", 0)
}

// ShutdownReport announces the daemon going down, synchronously since the
// worker is already stopping.
func (s *Service) ShutdownReport() {
	s.sendImmediate("<b>pacer stopped</b>")
}
