// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package models contains the persistence stores backed by the database
// package: per-torrent cycle snapshots, session statistics and runtime
// key/value configuration.
package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/pacer/internal/dbinterface"
	"github.com/autobrr/pacer/internal/torrent"
)

var ErrNotFound = errors.New("not found")

// TorrentStateStore persists torrent cycle snapshots across restarts.
type TorrentStateStore struct {
	db dbinterface.Querier
}

func NewTorrentStateStore(db dbinterface.Querier) *TorrentStateStore {
	return &TorrentStateStore{db: db}
}

// Save upserts a snapshot keyed by hash.
func (s *TorrentStateStore) Save(ctx context.Context, snap torrent.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrent_states (
			hash, name, tid, promotion, publish_time, cycle_index, cycle_start,
			cycle_start_uploaded, cycle_synced, cycle_interval, total_uploaded_start,
			session_start_time, last_announce_time, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (hash) DO UPDATE SET
			name = excluded.name,
			tid = excluded.tid,
			promotion = excluded.promotion,
			publish_time = excluded.publish_time,
			cycle_index = excluded.cycle_index,
			cycle_start = excluded.cycle_start,
			cycle_start_uploaded = excluded.cycle_start_uploaded,
			cycle_synced = excluded.cycle_synced,
			cycle_interval = excluded.cycle_interval,
			total_uploaded_start = excluded.total_uploaded_start,
			session_start_time = excluded.session_start_time,
			last_announce_time = excluded.last_announce_time,
			updated_at = CURRENT_TIMESTAMP
	`,
		snap.Hash, snap.Name, snap.TID, snap.Promotion, unixOrZero(snap.PublishTime),
		snap.CycleIndex, unixOrZero(snap.CycleStart), snap.CycleStartUploaded,
		boolToInt(snap.CycleSynced), snap.CycleInterval, snap.TotalUploadedStart,
		unixOrZero(snap.SessionStart), unixOrZero(snap.LastAnnounce),
	)
	return err
}

// Get loads the snapshot for a hash, ErrNotFound when absent.
func (s *TorrentStateStore) Get(ctx context.Context, hash string) (torrent.Snapshot, error) {
	var snap torrent.Snapshot
	var publishTime, cycleStart, sessionStart, lastAnnounce, synced int64
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, name, tid, promotion, publish_time, cycle_index, cycle_start,
		       cycle_start_uploaded, cycle_synced, cycle_interval, total_uploaded_start,
		       session_start_time, last_announce_time
		FROM torrent_states
		WHERE hash = ?
	`, hash).Scan(
		&snap.Hash, &snap.Name, &snap.TID, &snap.Promotion, &publishTime,
		&snap.CycleIndex, &cycleStart, &snap.CycleStartUploaded, &synced,
		&snap.CycleInterval, &snap.TotalUploadedStart, &sessionStart, &lastAnnounce,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return torrent.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return torrent.Snapshot{}, err
	}

	snap.PublishTime = timeOrZero(publishTime)
	snap.CycleStart = timeOrZero(cycleStart)
	snap.CycleSynced = synced != 0
	snap.SessionStart = timeOrZero(sessionStart)
	snap.LastAnnounce = timeOrZero(lastAnnounce)
	return snap, nil
}

// Hashes lists every persisted hash.
func (s *TorrentStateStore) Hashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash FROM torrent_states")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// Delete removes the snapshot for a hash. Missing rows are not an error.
func (s *TorrentStateStore) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM torrent_states WHERE hash = ?", hash)
	return err
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
