// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

const minimalConfig = `
host = "http://localhost:8080"
username = "admin"
password = "adminadmin"
targetSpeedKib = 30720
logLevel = "INFO"
`

func TestNewLoadsConfigFile(t *testing.T) {
	cfg, err := New(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	c := cfg.Get()
	assert.Equal(t, "http://localhost:8080", c.Host)
	assert.Equal(t, "admin", c.Username)
	assert.Equal(t, int64(30720), c.TargetSpeedKiB)

	// Defaults fill everything the file leaves out.
	assert.Equal(t, 0.98, c.SafetyMargin)
	assert.Equal(t, 20, c.APIRateLimit)
	assert.True(t, c.DLLimitEnabled)
	assert.True(t, c.ReannounceEnabled)
	assert.NoError(t, c.Validate())
}

func TestDatabasePathDefaultsNextToConfig(t *testing.T) {
	configPath := writeConfig(t, minimalConfig)
	cfg, err := New(configPath)
	require.NoError(t, err)

	expected := filepath.Join(filepath.Dir(configPath), "pacer.db")
	assert.Equal(t, expected, cfg.GetDatabasePath())
}

func TestDatabasePathExplicitInConfig(t *testing.T) {
	cfg, err := New(writeConfig(t, minimalConfig+`databasePath = "/var/db/pacer/pacer.db"
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/db/pacer/pacer.db", cfg.GetDatabasePath())
}

func TestDatabasePathEnvOverridesConfig(t *testing.T) {
	t.Setenv("PACER__DATABASE_PATH", "/override/path.db")

	cfg, err := New(writeConfig(t, minimalConfig+`databasePath = "/original/path.db"
`))
	require.NoError(t, err)
	assert.Equal(t, "/override/path.db", cfg.GetDatabasePath())
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("PACER__PASSWORD", "from-env")

	cfg, err := New(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Get().Password)
}

func TestNewWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := New(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.toml"), cfg.Path())
	content, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "targetSpeedKib")

	// The generated template is not runnable yet.
	assert.Error(t, cfg.Get().Validate())
}

func TestDockerXDGConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/config")
	assert.Equal(t, "/config", getDefaultConfigDir())
}

func TestSetCredentialOverride(t *testing.T) {
	cfg, err := New(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	before := cfg.Get()
	cfg.SetCredentialOverride("password", "rotated")

	assert.Equal(t, "rotated", cfg.Get().Password)
	assert.Equal(t, "adminadmin", before.Password, "old snapshot stays untouched")
	assert.Equal(t, "admin", cfg.Get().Username)
}

