// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package resolver looks up torrents on the tracker's web pages: the
// torrent id and publish time from the search listing, announce freshness
// from the peer list, and cookie validity from the index page. All lookups
// run on a single background worker so the engine loop never blocks on the
// tracker.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pacer/internal/buildinfo"
	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/internal/torrent"
)

const (
	defaultBaseURL = "https://u2.dmhy.org"
	cookieName     = "nexusphp_u2"

	queueSize      = 64
	requestTimeout = 30 * time.Second
)

// DetailsURL returns the tracker details page for a resolved torrent id.
func DetailsURL(tid int64) string {
	return fmt.Sprintf("%s/details.php?id=%d", defaultBaseURL, tid)
}

type jobKind int

const (
	jobSearch jobKind = iota
	jobPeerCheck
)

type job struct {
	kind jobKind
	hash string
	st   *torrent.State
}

// Service scrapes the tracker site. Search and PeerCheck enqueue work and
// return immediately; results land on the torrent state through its
// thread-safe setters.
type Service struct {
	cfg   *config.AppConfig
	store *models.TorrentStateStore

	base       string
	httpClient *http.Client
	queue      chan job
	startOnce  sync.Once
}

func NewService(cfg *config.AppConfig) *Service {
	transport := &http.Transport{}
	if proxy := cfg.Get().Proxy; proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", proxy).Msg("Invalid proxy URL, connecting directly")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Service{
		cfg:  cfg,
		base: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		queue: make(chan job, queueSize),
	}
}

// SetStateStore wires the snapshot store so resolved ids survive restarts.
func (s *Service) SetStateStore(store *models.TorrentStateStore) {
	s.store = store
}

// Enabled reports whether a tracker cookie is configured.
func (s *Service) Enabled() bool {
	return s.cfg.Get().TrackerCookie != ""
}

// Start launches the lookup worker. Safe to call more than once.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.startOnce.Do(func() {
		go s.worker(ctx)
		log.Info().Msg("Tracker resolver started")
	})
}

// Search queues a torrent id lookup for the hash. Drops the request when
// the queue is full; the caller retries on its own schedule.
func (s *Service) Search(hash string, st *torrent.State) {
	s.enqueue(job{kind: jobSearch, hash: hash, st: st})
}

// PeerCheck queues a peer-list refresh for an already resolved torrent.
func (s *Service) PeerCheck(st *torrent.State) {
	if st.TID() == 0 {
		return
	}
	s.enqueue(job{kind: jobPeerCheck, hash: st.Hash, st: st})
}

func (s *Service) enqueue(j job) {
	select {
	case s.queue <- j:
	default:
		log.Debug().Str("hash", j.hash).Msg("Resolver queue full, dropping lookup")
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			var err error
			switch j.kind {
			case jobSearch:
				err = s.search(ctx, j.hash, j.st)
			case jobPeerCheck:
				err = s.peerCheck(ctx, j.st)
			}
			if err != nil {
				log.Warn().Err(err).Str("hash", j.hash).Msg("Tracker lookup failed")
			}
		}
	}
}

func (s *Service) search(ctx context.Context, hash string, st *torrent.State) error {
	body, err := s.get(ctx, fmt.Sprintf("%s/torrents.php?search=%s&search_area=5", s.base, url.QueryEscape(hash)))
	if err != nil {
		return err
	}
	defer body.Close()

	res, found, err := parseSearchResult(body)
	if err != nil {
		return errors.Wrap(err, "parse search page")
	}
	if !found {
		st.MarkNotFound("none")
		log.Debug().Str("hash", hash).Msg("Torrent not found on tracker")
		return nil
	}

	st.MarkResolved(res.TID, res.PublishTime, res.Promotion)
	log.Info().
		Str("hash", hash).
		Int64("tid", res.TID).
		Str("promotion", res.Promotion).
		Msg("Resolved tracker id")

	if s.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Save(saveCtx, st.Snapshot()); err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("Failed to persist resolved state")
		}
	}
	return nil
}

func (s *Service) peerCheck(ctx context.Context, st *torrent.State) error {
	body, err := s.get(ctx, fmt.Sprintf("%s/viewpeerlist.php?id=%d", s.base, st.TID()))
	if err != nil {
		return err
	}
	defer body.Close()

	info, found, err := parsePeerList(body)
	if err != nil {
		return errors.Wrap(err, "parse peer list")
	}
	if !found {
		return nil
	}

	lastAnnounce := time.Now().Add(-time.Duration(info.IdleSeconds) * time.Second)
	st.SetPeerInfo(info.Uploaded, lastAnnounce)
	log.Debug().
		Str("hash", st.Hash).
		Int64("uploaded", info.Uploaded).
		Int64("idleSec", info.IdleSeconds).
		Msg("Peer list refreshed")
	return nil
}

// CheckCookie fetches the index page and reports whether the session is
// still logged in.
func (s *Service) CheckCookie(ctx context.Context) (bool, string) {
	body, err := s.get(ctx, s.base+"/index.php")
	if err != nil {
		return false, err.Error()
	}
	defer body.Close()

	page, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return false, err.Error()
	}
	if strings.Contains(string(page), "logout.php") || strings.Contains(string(page), "userdetails.php") {
		return true, "session active"
	}
	return false, "index page has no session markers, cookie likely expired"
}

func (s *Service) get(ctx context.Context, reqURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", cookieName+"="+s.cfg.Get().TrackerCookie)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("tracker returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}
