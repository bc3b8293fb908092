// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DestinationLimiter limits outgoing messages per destination.
type DestinationLimiter struct {
	mu       sync.Mutex
	limiters map[string]*destEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type destEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDestinationLimiter creates a new destination rate limiter.
// r is messages per second, burst is the burst allowance. Destinations idle
// for twice cleanupInterval are forgotten; 0 keeps them forever.
func NewDestinationLimiter(r float64, burst int, cleanupInterval time.Duration) *DestinationLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &DestinationLimiter{
		limiters: make(map[string]*destEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

func (l *DestinationLimiter) limiter(dest string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.limiters[dest]
	if !exists {
		entry = &destEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[dest] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Allow reports whether a message to dest may be sent now.
func (l *DestinationLimiter) Allow(dest string) bool {
	return l.limiter(dest).Allow()
}

// Wait blocks until a message to dest may be sent or ctx is done.
func (l *DestinationLimiter) Wait(ctx context.Context, dest string) error {
	return l.limiter(dest).Wait(ctx)
}

// Len returns the number of tracked destinations.
func (l *DestinationLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// cleanupLoop periodically removes stale entries.
func (l *DestinationLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-l.cleanup * 2))
		case <-l.stopCh:
			return
		}
	}
}

func (l *DestinationLimiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for dest, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, dest)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *DestinationLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Config holds publish rate limiting settings.
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`             // messages per second per destination
	Burst           int           `yaml:"burst"`            // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // cleanup interval for idle destinations
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Rate:            1000,
		Burst:           100,
		CleanupInterval: 5 * time.Minute,
	}
}

// New creates a limiter from cfg, or returns nil when limiting is disabled.
func New(cfg Config) *DestinationLimiter {
	if !cfg.Enabled || cfg.Rate <= 0 {
		return nil
	}
	return NewDestinationLimiter(cfg.Rate, cfg.Burst, cfg.CleanupInterval)
}
