// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the byte streams a STOMP connection runs on:
// plain TCP, TLS and WebSocket. Every variant buffers its input and reports
// through Ready whether a read would return data without blocking.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Default values.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultKeepAlive   = 15 * time.Second

	// readyProbe is how long Ready waits on the socket when nothing is
	// buffered yet.
	readyProbe = time.Millisecond
)

// Transport is a duplex byte stream with a readiness capability.
type Transport interface {
	Read(p []byte) (int, error)
	ReadByte() (byte, error)
	UnreadByte() error
	ReadString(delim byte) (string, error)
	ReadSlice(delim byte) ([]byte, error)
	Buffered() int
	Write(p []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr

	// Ready reports whether data (or an end of stream) can be read without
	// blocking.
	Ready() bool
}

// Config selects and tunes the transport variant.
type Config struct {
	// TLS enables TLS when non-nil.
	TLS *tls.Config
	// WebSocketPath switches to STOMP over WebSocket when non-empty.
	WebSocketPath string
	DialTimeout   time.Duration
	KeepAlive     time.Duration
}

// Dial opens a transport to host:port.
func Dial(ctx context.Context, host string, port int, cfg Config) (Transport, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if cfg.WebSocketPath != "" {
		return dialWebSocket(ctx, addr, cfg)
	}

	dialer := &net.Dialer{
		Timeout: cfg.DialTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     cfg.KeepAlive,
			Interval: cfg.KeepAlive,
		},
	}

	if cfg.TLS != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfigFor(cfg.TLS, host)}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewTLS(conn.(*tls.Conn)), nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCP(conn), nil
}

func tlsConfigFor(base *tls.Config, host string) *tls.Config {
	cfg := base.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// buffered implements the read half of Transport over a bufio.Reader.
type buffered struct {
	br *bufio.Reader
}

func (b *buffered) Read(p []byte) (int, error)             { return b.br.Read(p) }
func (b *buffered) ReadByte() (byte, error)                { return b.br.ReadByte() }
func (b *buffered) UnreadByte() error                      { return b.br.UnreadByte() }
func (b *buffered) ReadString(delim byte) (string, error) { return b.br.ReadString(delim) }
func (b *buffered) ReadSlice(delim byte) ([]byte, error)  { return b.br.ReadSlice(delim) }
func (b *buffered) Buffered() int                          { return b.br.Buffered() }

// probe peeks one byte under a short deadline. Errors other than the
// deadline count as ready so the next read surfaces them.
func (b *buffered) probe(conn net.Conn) bool {
	if b.br.Buffered() > 0 {
		return true
	}
	if err := conn.SetReadDeadline(time.Now().Add(readyProbe)); err != nil {
		return true
	}
	_, err := b.br.Peek(1)
	conn.SetReadDeadline(time.Time{})
	return err == nil || !isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
