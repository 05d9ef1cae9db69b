// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the go-qbittorrent client with login retry, a
// WebUI request budget and the typed helpers the engine drives.
package qbittorrent

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Client struct {
	*qbt.Client
	limiter *rate.Limiter

	mu              sync.RWMutex
	webAPIVersion   string
	appVersion      string
	lastHealthCheck time.Time
	isHealthy       bool
}

// filteredWriter wraps stderr to filter out HTTP "unsolicited response" errors.
//
// qBittorrent occasionally sends extra HTTP responses after the main request
// completes, which causes Go's HTTP client to log "Unsolicited response
// received on idle HTTP channel" errors to stderr. They don't affect
// functionality, so drop them instead of spamming the logs.
type filteredWriter struct {
	writer io.Writer
}

func (fw *filteredWriter) Write(p []byte) (n int, err error) {
	if strings.Contains(string(p), "Unsolicited response received on idle HTTP channel") {
		return len(p), nil
	}
	return fw.writer.Write(p)
}

func init() {
	stdlog.SetOutput(&filteredWriter{writer: os.Stderr})
}

// NewClient connects and logs in to the WebUI, retrying with exponential
// backoff. apiRatePerSec caps all subsequent WebUI calls.
func NewClient(host, username, password string, apiRatePerSec int) (*Client, error) {
	qbtClient := qbt.NewClient(qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
		Timeout:  30,
	})

	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return qbtClient.LoginCtx(ctx)
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(16*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("qBittorrent login failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent at %s: %w", host, err)
	}

	client := &Client{
		Client:          qbtClient,
		limiter:         apiLimiter(apiRatePerSec),
		lastHealthCheck: time.Now(),
		isHealthy:       true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if v, err := qbtClient.GetWebAPIVersionCtx(ctx); err == nil {
		client.webAPIVersion = v
	}
	if v, err := qbtClient.GetAppVersionCtx(ctx); err == nil {
		client.appVersion = v
	}

	log.Info().
		Str("host", host).
		Str("webAPIVersion", client.webAPIVersion).
		Str("appVersion", client.appVersion).
		Msg("connected to qBittorrent")

	return client, nil
}

// apiLimiter builds the WebUI request budget. Zero or less disables the
// budget entirely.
func apiLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

// SetAPIRate adjusts the request budget, applied on config hot reload.
func (c *Client) SetAPIRate(perSec int) {
	if perSec <= 0 {
		c.limiter.SetLimit(rate.Inf)
		c.limiter.SetBurst(1)
		return
	}
	c.limiter.SetLimit(rate.Limit(perSec))
	c.limiter.SetBurst(perSec)
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// ActiveTorrents returns the torrents currently transferring data.
func (c *Client) ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Filter: qbt.TorrentFilterActive})
}

// AllTorrents returns every torrent in the client.
func (c *Client) AllTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
}

// Properties fetches the detail properties for one torrent; the Reannounce
// field carries seconds until the next announce.
func (c *Client) Properties(ctx context.Context, hash string) (qbt.TorrentProperties, error) {
	if err := c.wait(ctx); err != nil {
		return qbt.TorrentProperties{}, err
	}
	return c.GetTorrentPropertiesCtx(ctx, hash)
}

// TryProperties is like Properties but skips instead of waiting when the
// request budget is spent; ok reports whether a request was made.
func (c *Client) TryProperties(ctx context.Context, hash string) (props qbt.TorrentProperties, ok bool, err error) {
	if !c.limiter.Allow() {
		return qbt.TorrentProperties{}, false, nil
	}
	props, err = c.GetTorrentPropertiesCtx(ctx, hash)
	return props, true, err
}

// SetUploadLimit applies an upload limit in bytes/s to the given hashes,
// -1 for unlimited.
func (c *Client) SetUploadLimit(ctx context.Context, hashes []string, limit int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.SetTorrentUploadLimitCtx(ctx, hashes, limit)
}

// SetDownloadLimit applies a download limit in bytes/s to the given hashes,
// -1 for unlimited.
func (c *Client) SetDownloadLimit(ctx context.Context, hashes []string, limit int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.SetTorrentDownloadLimitCtx(ctx, hashes, limit)
}

// Reannounce forces an announce for the given hashes.
func (c *Client) Reannounce(ctx context.Context, hashes []string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.ReAnnounceTorrentsCtx(ctx, hashes)
}

// Delete removes torrents, optionally with their data.
func (c *Client) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.DeleteTorrentsCtx(ctx, hashes, deleteFiles)
}

// HealthCheck probes the API and attempts a re-login when it fails.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetWebAPIVersionCtx(ctx)
	if err != nil {
		if loginErr := c.LoginCtx(ctx); loginErr != nil {
			c.setHealth(false)
			return fmt.Errorf("health check failed: login error: %w", loginErr)
		}
		if _, err = c.GetWebAPIVersionCtx(ctx); err != nil {
			c.setHealth(false)
			return fmt.Errorf("health check failed: api error: %w", err)
		}
	}
	c.setHealth(true)
	return nil
}

func (c *Client) setHealth(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) AppVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appVersion
}
