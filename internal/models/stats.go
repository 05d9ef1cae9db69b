// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/autobrr/pacer/internal/dbinterface"
	"github.com/autobrr/pacer/internal/torrent"
)

// StatsStore persists the session-wide cycle statistics singleton.
type StatsStore struct {
	db dbinterface.Querier
}

func NewStatsStore(db dbinterface.Querier) *StatsStore {
	return &StatsStore{db: db}
}

// Save upserts the singleton row.
func (s *StatsStore) Save(ctx context.Context, v torrent.StatsView) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats (id, total_cycles, success_cycles, precision_cycles, total_uploaded, start_time, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			total_cycles = excluded.total_cycles,
			success_cycles = excluded.success_cycles,
			precision_cycles = excluded.precision_cycles,
			total_uploaded = excluded.total_uploaded,
			start_time = excluded.start_time,
			updated_at = CURRENT_TIMESTAMP
	`, v.Total, v.Success, v.Precision, v.Uploaded, unixOrZero(v.Start))
	return err
}

// Load returns the persisted statistics, ErrNotFound before the first save.
func (s *StatsStore) Load(ctx context.Context) (torrent.StatsView, error) {
	var v torrent.StatsView
	var start int64
	err := s.db.QueryRowContext(ctx, `
		SELECT total_cycles, success_cycles, precision_cycles, total_uploaded, start_time
		FROM stats WHERE id = 1
	`).Scan(&v.Total, &v.Success, &v.Precision, &v.Uploaded, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return torrent.StatsView{}, ErrNotFound
	}
	if err != nil {
		return torrent.StatsView{}, err
	}
	v.Start = timeOrZero(start)
	return v, nil
}
