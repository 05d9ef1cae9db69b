// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/pacer/internal/config"
	"github.com/autobrr/pacer/internal/logger"
	"github.com/autobrr/pacer/internal/qbittorrent"
	"github.com/autobrr/pacer/internal/ratecontrol"
)

func RunUnlimitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlimit",
		Short: "Clear the upload and download limits on every torrent",
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

			ctx := cmd.Context()
			torrents, err := client.AllTorrents(ctx)
			if err != nil {
				return err
			}
			hashes := make([]string, 0, len(torrents))
			for _, t := range torrents {
				hashes = append(hashes, t.Hash)
			}
			if len(hashes) == 0 {
				cmd.Println("No torrents found.")
				return nil
			}

			if err := client.SetUploadLimit(ctx, hashes, ratecontrol.Unlimited); err != nil {
				return err
			}
			if err := client.SetDownloadLimit(ctx, hashes, ratecontrol.Unlimited); err != nil {
				return err
			}
			cmd.Printf("Cleared limits on %d torrents.\n", len(hashes))
			return nil
		},
	}
}
