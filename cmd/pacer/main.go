// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pacer",
		Short: "Upload rate pacing daemon for qBittorrent",
		Long: `pacer supervises qBittorrent upload limits so each torrent's
reported average lands on the configured target every announce cycle.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file or directory")

	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunUnlimitCommand())
	rootCmd.AddCommand(RunAutoremoveCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
