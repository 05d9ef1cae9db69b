// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the engine's live view on a Prometheus endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/pacer/internal/engine"
	"github.com/autobrr/pacer/internal/torrent"
)

// EngineView is the read side of the engine the collector scrapes.
type EngineView interface {
	Status() []engine.TorrentStatus
	Stats() torrent.StatsView
}

type EngineCollector struct {
	view EngineView

	managedDesc    *prometheus.Desc
	phaseDesc      *prometheus.Desc
	upSpeedDesc    *prometheus.Desc
	upLimitDesc    *prometheus.Desc
	timeLeftDesc   *prometheus.Desc
	cycleIndexDesc *prometheus.Desc
	cyclesDesc     *prometheus.Desc
	onTargetDesc   *prometheus.Desc
	preciseDesc    *prometheus.Desc
	uploadedDesc   *prometheus.Desc
}

func NewEngineCollector(view EngineView) *EngineCollector {
	return &EngineCollector{
		view: view,

		managedDesc: prometheus.NewDesc(
			"pacer_torrents_managed",
			"Number of torrents currently under rate management",
			nil,
			nil,
		),
		phaseDesc: prometheus.NewDesc(
			"pacer_torrents_by_phase",
			"Number of managed torrents per cycle phase",
			[]string{"phase"},
			nil,
		),
		upSpeedDesc: prometheus.NewDesc(
			"pacer_torrent_upload_speed_bytes_per_second",
			"Current upload speed per torrent",
			[]string{"hash", "name"},
			nil,
		),
		upLimitDesc: prometheus.NewDesc(
			"pacer_torrent_upload_limit_bytes_per_second",
			"Applied upload limit per torrent, -1 when unlimited",
			[]string{"hash", "name"},
			nil,
		),
		timeLeftDesc: prometheus.NewDesc(
			"pacer_torrent_announce_time_left_seconds",
			"Seconds until the next expected announce per torrent",
			[]string{"hash", "name"},
			nil,
		),
		cycleIndexDesc: prometheus.NewDesc(
			"pacer_torrent_cycle_index",
			"Announce cycle counter per torrent",
			[]string{"hash", "name"},
			nil,
		),
		cyclesDesc: prometheus.NewDesc(
			"pacer_cycles_reported_total",
			"Announce cycles reported this session",
			nil,
			nil,
		),
		onTargetDesc: prometheus.NewDesc(
			"pacer_cycles_on_target_total",
			"Reported cycles that landed within 5% of the target",
			nil,
			nil,
		),
		preciseDesc: prometheus.NewDesc(
			"pacer_cycles_precise_total",
			"Reported cycles that landed within 0.1% of the target",
			nil,
			nil,
		),
		uploadedDesc: prometheus.NewDesc(
			"pacer_session_uploaded_bytes_total",
			"Bytes uploaded across all reported cycles this session",
			nil,
			nil,
		),
	}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.managedDesc
	ch <- c.phaseDesc
	ch <- c.upSpeedDesc
	ch <- c.upLimitDesc
	ch <- c.timeLeftDesc
	ch <- c.cycleIndexDesc
	ch <- c.cyclesDesc
	ch <- c.onTargetDesc
	ch <- c.preciseDesc
	ch <- c.uploadedDesc
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.view.Status()

	ch <- prometheus.MustNewConstMetric(c.managedDesc, prometheus.GaugeValue, float64(len(status)))

	phases := map[string]int{}
	for _, row := range status {
		phases[row.Phase]++
		ch <- prometheus.MustNewConstMetric(c.upSpeedDesc, prometheus.GaugeValue, float64(row.UpSpeed), row.Hash, row.Name)
		ch <- prometheus.MustNewConstMetric(c.upLimitDesc, prometheus.GaugeValue, float64(row.UpLimit), row.Hash, row.Name)
		ch <- prometheus.MustNewConstMetric(c.timeLeftDesc, prometheus.GaugeValue, row.TimeLeft, row.Hash, row.Name)
		ch <- prometheus.MustNewConstMetric(c.cycleIndexDesc, prometheus.GaugeValue, float64(row.CycleIndex), row.Hash, row.Name)
	}
	for phase, count := range phases {
		ch <- prometheus.MustNewConstMetric(c.phaseDesc, prometheus.GaugeValue, float64(count), phase)
	}

	stats := c.view.Stats()
	ch <- prometheus.MustNewConstMetric(c.cyclesDesc, prometheus.CounterValue, float64(stats.Total))
	ch <- prometheus.MustNewConstMetric(c.onTargetDesc, prometheus.CounterValue, float64(stats.Success))
	ch <- prometheus.MustNewConstMetric(c.preciseDesc, prometheus.CounterValue, float64(stats.Precision))
	ch <- prometheus.MustNewConstMetric(c.uploadedDesc, prometheus.CounterValue, float64(stats.Uploaded))
}
