// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

package autoremove

import "golang.org/x/sys/unix"

// freeSpace returns the bytes available to unprivileged users on the
// filesystem containing path, falling back to the root filesystem and
// finally zero.
func freeSpace(path string) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		if err := unix.Statfs("/", &stat); err != nil {
			return 0
		}
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}
