// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "errors"

// Client errors.
var (
	// Configuration errors.
	ErrNilOptions        = errors.New("options cannot be nil")
	ErrNoHosts           = errors.New("no hosts configured")
	ErrInvalidHost       = errors.New("host cannot be empty")
	ErrInvalidPort       = errors.New("invalid port (must be 0-65535)")
	ErrInvalidDelay      = errors.New("invalid reconnect delay (max must be >= initial)")
	ErrInvalidMultiplier = errors.New("invalid backoff multiplier (must be >= 1)")
	ErrInvalidAttempts   = errors.New("max reconnect attempts cannot be negative")

	// Connection errors.
	ErrMaxReconnectAttempts = errors.New("maximum reconnect attempts reached")
	ErrConnectRejected      = errors.New("connection rejected by broker")
	ErrUnexpectedFrame      = errors.New("unexpected frame")
	ErrClosed               = errors.New("connection closed")

	// Usage errors.
	ErrNoHandler          = errors.New("subscribe requires a message handler")
	ErrInvalidDestination = errors.New("destination cannot be empty")
	ErrNoMessageID        = errors.New("frame has no message-id")
)
