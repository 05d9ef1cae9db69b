// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/database"
	"github.com/autobrr/pacer/internal/logger"
	"github.com/autobrr/pacer/internal/models"
	"github.com/autobrr/pacer/internal/qbittorrent"
	"github.com/autobrr/pacer/internal/services/autoremove"
	"github.com/autobrr/pacer/pkg/fmtutil"
)

func RunAutoremoveCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "autoremove",
		Short: "Run one rule-based removal sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Get())

			c := cfg.Get()
			client, err := qbittorrent.NewClient(c.Host, c.Username, c.Password, c.APIRateLimit)
			if err != nil {
				return err
			}

			svc := autoremove.NewService(cfg, client)
			if !dryRun {
				db, err := database.New(cfg.GetDatabasePath())
				if err != nil {
					return err
				}
				defer db.Close()
				svc.SetStateStore(models.NewTorrentStateStore(db.Conn()))
			}

			removals, err := svc.Sweep(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if len(removals) == 0 {
				cmd.Println("Nothing matched.")
				return nil
			}

			verb := "Removed"
			if dryRun {
				verb = "Would remove"
			}
			for _, rm := range removals {
				cmd.Printf("%s %s (%s, rule %q)\n", verb, rm.Name, fmtutil.Size(rm.Size), rm.Rule)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list matching torrents without deleting")
	return cmd
}
