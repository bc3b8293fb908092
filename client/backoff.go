// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// backoff tracks the delay before the next reconnect attempt. The k-th
// retry waits min(initial * multiplier^k, max) with exponential growth, or
// min(initial, max) without it.
type backoff struct {
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	exponential bool
	current     time.Duration
}

func newBackoff(cfg FailoverConfig) *backoff {
	b := &backoff{
		initial:     cfg.InitialDelay,
		max:         cfg.MaxDelay,
		multiplier:  cfg.BackoffMultiplier,
		exponential: cfg.UseExponentialBackoff,
	}
	b.reset()
	return b
}

func (b *backoff) delay() time.Duration {
	return b.current
}

func (b *backoff) grow() {
	next := float64(b.current)
	if b.exponential {
		next *= b.multiplier
	}
	if next > float64(b.max) {
		b.current = b.max
		return
	}
	b.current = time.Duration(next)
}

func (b *backoff) reset() {
	b.current = b.initial
	if b.current > b.max {
		b.current = b.max
	}
}
