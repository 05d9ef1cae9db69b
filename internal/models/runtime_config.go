// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/pacer/internal/dbinterface"
)

// Credential override keys understood by the config layer.
const (
	OverrideHost     = "override_host"
	OverrideUsername = "override_username"
	OverridePassword = "override_password"
)

// RuntimeConfigStore persists small runtime key/value settings, notably
// credential overrides set through the bot.
type RuntimeConfigStore struct {
	db dbinterface.Querier
}

func NewRuntimeConfigStore(db dbinterface.Querier) *RuntimeConfigStore {
	return &RuntimeConfigStore{db: db}
}

// Set upserts a key.
func (s *RuntimeConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// Get returns the value for a key, ErrNotFound when absent.
func (s *RuntimeConfigStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM runtime_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Delete removes a key. Missing rows are not an error.
func (s *RuntimeConfigStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runtime_config WHERE key = ?", key)
	return err
}

// CredentialOverrides returns the stored override_* keys mapped to the bare
// config field names the config layer understands.
func (s *RuntimeConfigStore) CredentialOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM runtime_config WHERE key LIKE 'override_%'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		overrides[strings.TrimPrefix(key, "override_")] = value
	}
	return overrides, rows.Err()
}
