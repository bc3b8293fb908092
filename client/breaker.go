// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// hostBreakers keeps one circuit breaker per broker address. A host whose
// breaker is open fails its connection attempt immediately, so the rotation
// moves on without waiting for a dial timeout.
type hostBreakers struct {
	mu        sync.Mutex
	threshold uint32
	timeout   time.Duration
	breakers  map[string]*gobreaker.CircuitBreaker
	logger    *slog.Logger
}

func newHostBreakers(threshold uint32, timeout time.Duration, logger *slog.Logger) *hostBreakers {
	if threshold == 0 {
		return nil
	}
	return &hostBreakers{
		threshold: threshold,
		timeout:   timeout,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		logger:    logger,
	}
}

func (hb *hostBreakers) get(addr string) *gobreaker.CircuitBreaker {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	cb, ok := hb.breakers[addr]
	if !ok {
		threshold := hb.threshold
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        addr,
			MaxRequests: 1,
			Timeout:     hb.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				hb.logger.Warn("host circuit breaker state changed",
					slog.String("host", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
		hb.breakers[addr] = cb
	}
	return cb
}

// do runs fn through the breaker of addr. A nil receiver runs fn directly.
func (hb *hostBreakers) do(addr string, fn func() error) error {
	if hb == nil {
		return fn()
	}
	_, err := hb.get(addr).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (hb *hostBreakers) state(addr string) gobreaker.State {
	if hb == nil {
		return gobreaker.StateClosed
	}
	return hb.get(addr).State()
}
