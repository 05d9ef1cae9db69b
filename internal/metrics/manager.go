// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry *prometheus.Registry
}

func NewManager(view EngineView) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(NewEngineCollector(view))

	log.Info().Msg("Metrics manager initialized with engine collector")

	return &Manager{registry: registry}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
