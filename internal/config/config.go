// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/pacer/internal/domain"
)

// AppConfig wraps viper around the application configuration: defaults, the
// TOML file, PACER__ environment overrides and hot reload. Credential
// overrides set at runtime survive reloads of the file.
type AppConfig struct {
	mu     sync.RWMutex
	config *domain.Config
	viper  *viper.Viper

	configPath string
	overrides  map[string]string
	onChange   []func(*domain.Config)
}

// New loads the configuration from configPath. A directory gets a
// config.toml inside it; an empty path falls back to the default config
// directory. A missing file is created from the commented template.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:     viper.New(),
		overrides: map[string]string{},
	}

	c.defaults()

	if configPath == "" {
		configPath = getDefaultConfigDir()
	}
	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		configPath = filepath.Join(configPath, "config.toml")
	} else if !strings.HasSuffix(configPath, ".toml") {
		configPath = filepath.Join(configPath, "config.toml")
	}
	c.configPath = configPath

	if err := c.writeDefaultIfMissing(); err != nil {
		return nil, err
	}

	c.viper.SetConfigFile(configPath)
	c.bindEnv()

	if err := c.viper.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "could not read config")
	}

	cfg, err := c.unmarshal()
	if err != nil {
		return nil, err
	}
	c.config = cfg

	return c, nil
}

func getDefaultConfigDir() string {
	// Docker images set XDG_CONFIG_HOME=/config and expect everything
	// directly inside it.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "pacer")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "pacer")
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "")
	c.viper.SetDefault("username", "")
	c.viper.SetDefault("password", "")
	c.viper.SetDefault("targetSpeedKib", 0)
	c.viper.SetDefault("safetyMargin", 0.98)
	c.viper.SetDefault("maxPhysicalSpeedKib", 0)
	c.viper.SetDefault("targetTrackerKeyword", "")
	c.viper.SetDefault("excludeTrackerKeyword", "")
	c.viper.SetDefault("apiRateLimit", 20)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("databasePath", "")
	c.viper.SetDefault("telegramBotToken", "")
	c.viper.SetDefault("telegramChatId", "")
	c.viper.SetDefault("trackerCookie", "")
	c.viper.SetDefault("proxy", "")
	c.viper.SetDefault("peerCheckEnabled", true)
	c.viper.SetDefault("dlLimitEnabled", true)
	c.viper.SetDefault("reannounceEnabled", true)
	c.viper.SetDefault("autoremoveEnabled", false)
	c.viper.SetDefault("autoremoveIntervalSec", 1800)
	c.viper.SetDefault("autoremoveRulesPath", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9774)
}

func (c *AppConfig) bindEnv() {
	for key, env := range map[string]string{
		"host":                  "PACER__HOST",
		"username":              "PACER__USERNAME",
		"password":              "PACER__PASSWORD",
		"targetSpeedKib":        "PACER__TARGET_SPEED_KIB",
		"safetyMargin":          "PACER__SAFETY_MARGIN",
		"maxPhysicalSpeedKib":   "PACER__MAX_PHYSICAL_SPEED_KIB",
		"targetTrackerKeyword":  "PACER__TARGET_TRACKER_KEYWORD",
		"excludeTrackerKeyword": "PACER__EXCLUDE_TRACKER_KEYWORD",
		"apiRateLimit":          "PACER__API_RATE_LIMIT",
		"logLevel":              "PACER__LOG_LEVEL",
		"logPath":               "PACER__LOG_PATH",
		"databasePath":          "PACER__DATABASE_PATH",
		"telegramBotToken":      "PACER__TELEGRAM_BOT_TOKEN",
		"telegramChatId":        "PACER__TELEGRAM_CHAT_ID",
		"trackerCookie":         "PACER__TRACKER_COOKIE",
		"proxy":                 "PACER__PROXY",
		"metricsEnabled":        "PACER__METRICS_ENABLED",
		"metricsHost":           "PACER__METRICS_HOST",
		"metricsPort":           "PACER__METRICS_PORT",
	} {
		_ = c.viper.BindEnv(key, env)
	}
}

func (c *AppConfig) unmarshal() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal config")
	}
	for key, value := range c.overrides {
		applyOverride(cfg, key, value)
	}
	return cfg, nil
}

func applyOverride(cfg *domain.Config, key, value string) {
	switch key {
	case "host":
		cfg.Host = value
	case "username":
		cfg.Username = value
	case "password":
		cfg.Password = value
	}
}

// Get returns the current configuration. The pointer is replaced, never
// mutated, on reload.
func (c *AppConfig) Get() *domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Path returns the resolved config file path.
func (c *AppConfig) Path() string {
	return c.configPath
}

// GetDatabasePath returns the configured database path, defaulting to
// pacer.db next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if p := c.Get().DatabasePath; p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.configPath), "pacer.db")
}

// SetCredentialOverride installs a runtime credential override that wins
// over the file until the process restarts. Recognised keys are host,
// username and password.
func (c *AppConfig) SetCredentialOverride(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[key] = value
	next := *c.config
	applyOverride(&next, key, value)
	c.config = &next
}

// OnChange registers a callback invoked with the new config after a
// successful hot reload. Register before Watch.
func (c *AppConfig) OnChange(fn func(*domain.Config)) {
	c.onChange = append(c.onChange, fn)
}

// Watch starts watching the config file for changes. An unparsable edit is
// logged and the previous configuration stays active.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := c.viper.ReadInConfig(); err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config reload failed, keeping previous config")
			return
		}
		cfg, err := c.unmarshal()
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config reload failed, keeping previous config")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config reload rejected, keeping previous config")
			return
		}

		c.mu.Lock()
		c.config = cfg
		callbacks := append([]func(*domain.Config){}, c.onChange...)
		c.mu.Unlock()

		log.Info().Str("file", e.Name).Msg("config reloaded")
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) writeDefaultIfMissing() error {
	if _, err := os.Stat(c.configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "could not stat config file")
	}

	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return errors.Wrap(err, "could not create config directory")
	}
	if err := os.WriteFile(c.configPath, []byte(defaultConfigTemplate), 0644); err != nil {
		return errors.Wrap(err, "could not write default config")
	}
	log.Info().Str("path", c.configPath).Msg("wrote default config file")
	return nil
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# qBittorrent WebUI URL
# Example: http://127.0.0.1:8080
host = ""

# qBittorrent WebUI credentials
username = ""
password = ""

# Reported upload average to aim for per announce cycle, in KiB/s
targetSpeedKib = 0

# Fraction of the target actually planned for, leaving slack for jitter
# Default: 0.98
#safetyMargin = 0.98

# Physical line rate cap in KiB/s, 0 = uncapped
#maxPhysicalSpeedKib = 0

# Only manage torrents whose tracker URL contains this keyword
#targetTrackerKeyword = ""

# Never manage torrents whose tracker URL contains this keyword
#excludeTrackerKeyword = ""

# WebUI API request budget per second, 0 = unlimited
# Default: 20
#apiRateLimit = 20

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/pacer.log"

# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain
# Default: 3
#logMaxBackups = 3

# Database file path
# Default: pacer.db next to this file
#databasePath = ""

# Telegram notifications and remote control
#telegramBotToken = ""
#telegramChatId = ""

# Tracker cookie and proxy for torrent id resolution
#trackerCookie = ""
#proxy = ""

# Feature toggles
#peerCheckEnabled = true
#dlLimitEnabled = true
#reannounceEnabled = true

# Rule based torrent removal
#autoremoveEnabled = false
#autoremoveIntervalSec = 1800
#autoremoveRulesPath = ""

# Prometheus metrics endpoint
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9774
`
