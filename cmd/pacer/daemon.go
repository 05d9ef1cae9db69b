// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/pacer/internal/buildinfo"
	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/database"
	"github.com/autobrr/pacer/internal/domain"
	"github.com/autobrr/pacer/internal/engine"
	"github.com/autobrr/pacer/internal/logger"
	"github.com/autobrr/pacer/internal/metrics"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/internal/qbittorrent"
	"github.com/autobrr/pacer/internal/services/autoremove"
	"github.com/autobrr/pacer/internal/services/notifications"
	"github.com/autobrr/pacer/internal/services/resolver"
)

func runDaemon(ctx context.Context) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Get())

	if err := cfg.Get().Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()

	stateStore := models.NewTorrentStateStore(db.Conn())
	statsStore := models.NewStatsStore(db.Conn())
	runtimeStore := models.NewRuntimeConfigStore(db.Conn())

	// Credentials overridden through the bot win over the config file.
	if overrides, err := runtimeStore.CredentialOverrides(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load credential overrides")
	} else {
		for key, value := range overrides {
			cfg.SetCredentialOverride(key, value)
		}
	}

	c := cfg.Get()
	client, err := qbittorrent.NewClient(c.Host, c.Username, c.Password, c.APIRateLimit)
	if err != nil {
		return err
	}

	controls := &engine.Controls{}
	eng := engine.New(cfg, client, controls)
	eng.SetStores(stateStore, statsStore)

	notif := notifications.NewService(cfg, controls, logger.Buffer)
	notif.SetEngine(eng)
	notif.SetRuntimeStore(runtimeStore)
	if notif.Enabled() {
		eng.SetEvents(notif)
	}

	res := resolver.NewService(cfg)
	res.SetStateStore(stateStore)
	if res.Enabled() {
		eng.SetResolver(res)
		notif.SetCookieChecker(res)
	}

	autorm := autoremove.NewService(cfg, client)
	autorm.SetStateStore(stateStore)
	if notif.Enabled() {
		autorm.SetNotifier(notif)
	}

	cfg.OnChange(func(next *domain.Config) {
		logger.Init(next)
		client.SetAPIRate(next.APIRateLimit)
	})
	cfg.Watch()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	notif.Start(gctx)
	res.Start(gctx)

	g.Go(func() error {
		autorm.Run(gctx)
		return nil
	})

	if c.MetricsEnabled {
		srv := metrics.NewServer(c.MetricsHost, c.MetricsPort, metrics.NewManager(eng))
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	notif.Startup(buildinfo.Version, client.AppVersion(), res.Enabled())

	err = g.Wait()
	notif.ShutdownReport()
	log.Info().Msg("pacer stopped")
	return err
}
