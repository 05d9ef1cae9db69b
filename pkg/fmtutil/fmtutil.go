// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil renders byte counts, transfer speeds and durations the way
// they appear in logs and notifications.
package fmtutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size formats a byte count with IEC units, e.g. "20 GiB".
func Size(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// Speed formats a bytes-per-second rate with IEC units, e.g. "50 MiB/s".
func Speed(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

// Duration renders seconds compactly: "45s", "3m20s", "2h05m".
func Duration(seconds float64) string {
	s := int64(seconds)
	if s < 0 {
		s = 0
	}
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm%ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh%02dm", s/3600, (s%3600)/60)
	}
}

var speedRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(K|M|G|KB|MB|GB|KIB|MIB|GIB)?$`)

// ParseSpeedKiB parses a human speed spec like "100M" or "51200K" into KiB/s.
// The bare-number unit defaults to KiB/s. Returns 0 when the input is not a
// valid speed.
func ParseSpeedKiB(s string) int64 {
	m := speedRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	mult := 1.0
	switch m[2] {
	case "M", "MB", "MIB":
		mult = 1024
	case "G", "GB", "GIB":
		mult = 1024 * 1024
	}
	return int64(num * mult)
}
