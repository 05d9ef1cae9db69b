// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAPILimiterZeroDisablesBudget(t *testing.T) {
	l := apiLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(), "disabled budget must never deny a call")
	}
}

func TestAPILimiterPositiveBudget(t *testing.T) {
	l := apiLimiter(5)
	assert.Equal(t, rate.Limit(5), l.Limit())
	assert.Equal(t, 5, l.Burst())
}

func TestSetAPIRateZeroDisables(t *testing.T) {
	c := &Client{limiter: apiLimiter(10)}

	c.SetAPIRate(0)
	assert.Equal(t, rate.Inf, c.limiter.Limit())
	assert.True(t, c.limiter.Allow())

	c.SetAPIRate(20)
	assert.Equal(t, rate.Limit(20), c.limiter.Limit())
	assert.Equal(t, 20, c.limiter.Burst())
}
