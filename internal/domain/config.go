// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	Version string

	Host     string `toml:"host" mapstructure:"host"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`

	// TargetSpeedKiB is the reported-average upload target per announce
	// cycle, in KiB/s. SafetyMargin shaves the effective target under it.
	TargetSpeedKiB int64   `toml:"targetSpeedKib" mapstructure:"targetSpeedKib"`
	SafetyMargin   float64 `toml:"safetyMargin" mapstructure:"safetyMargin"`

	// MaxPhysicalSpeedKiB caps every applied limit at the line rate.
	// Zero means uncapped.
	MaxPhysicalSpeedKiB int64 `toml:"maxPhysicalSpeedKib" mapstructure:"maxPhysicalSpeedKib"`

	TargetTrackerKeyword  string `toml:"targetTrackerKeyword" mapstructure:"targetTrackerKeyword"`
	ExcludeTrackerKeyword string `toml:"excludeTrackerKeyword" mapstructure:"excludeTrackerKeyword"`

	APIRateLimit int `toml:"apiRateLimit" mapstructure:"apiRateLimit"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DatabasePath string `toml:"databasePath" mapstructure:"databasePath"`

	TelegramBotToken string `toml:"telegramBotToken" mapstructure:"telegramBotToken"`
	TelegramChatID   string `toml:"telegramChatId" mapstructure:"telegramChatId"`

	// TrackerCookie and Proxy configure the tracker page scraper used to
	// resolve torrent ids and publish times.
	TrackerCookie string `toml:"trackerCookie" mapstructure:"trackerCookie"`
	Proxy         string `toml:"proxy" mapstructure:"proxy"`

	PeerCheckEnabled  bool `toml:"peerCheckEnabled" mapstructure:"peerCheckEnabled"`
	DLLimitEnabled    bool `toml:"dlLimitEnabled" mapstructure:"dlLimitEnabled"`
	ReannounceEnabled bool `toml:"reannounceEnabled" mapstructure:"reannounceEnabled"`

	AutoremoveEnabled     bool   `toml:"autoremoveEnabled" mapstructure:"autoremoveEnabled"`
	AutoremoveIntervalSec int    `toml:"autoremoveIntervalSec" mapstructure:"autoremoveIntervalSec"`
	AutoremoveRulesPath   string `toml:"autoremoveRulesPath" mapstructure:"autoremoveRulesPath"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`
}

// TargetBytes returns the effective per-cycle target in bytes/s, after the
// safety margin, never below one.
func (c *Config) TargetBytes() int64 {
	target := int64(float64(c.TargetSpeedKiB) * 1024 * c.SafetyMargin)
	return max(1, target)
}

// MaxPhysicalBytes returns the physical ceiling in bytes/s, zero when
// uncapped.
func (c *Config) MaxPhysicalBytes() int64 {
	return c.MaxPhysicalSpeedKiB * 1024
}

// TelegramEnabled reports whether notifications are fully configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("username is required")
	}
	if c.TargetSpeedKiB <= 0 {
		return errors.New("targetSpeedKib must be positive")
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return errors.New("safetyMargin must be in (0, 1]")
	}
	// Zero disables the WebUI request budget.
	if c.APIRateLimit < 0 {
		return errors.New("apiRateLimit must not be negative")
	}
	return nil
}
