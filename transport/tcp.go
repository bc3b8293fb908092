// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"
)

var (
	_ Transport = (*TCP)(nil)
	_ Transport = (*TLS)(nil)
)

// TCP is a plain TCP transport.
type TCP struct {
	buffered
	conn net.Conn
}

// NewTCP wraps an established connection. Any net.Conn works, which is
// what tests rely on with net.Pipe.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{
		buffered: buffered{br: bufio.NewReader(conn)},
		conn:     conn,
	}
}

func (t *TCP) Write(p []byte) (int, error)       { return t.conn.Write(p) }
func (t *TCP) Close() error                      { return t.conn.Close() }
func (t *TCP) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *TCP) RemoteAddr() net.Addr              { return t.conn.RemoteAddr() }

// Ready reports buffered input, or input pending on the socket.
func (t *TCP) Ready() bool {
	return t.probe(t.conn)
}

// TLS is a TLS transport.
type TLS struct {
	buffered
	conn *tls.Conn
}

// NewTLS wraps an established TLS connection.
func NewTLS(conn *tls.Conn) *TLS {
	return &TLS{
		buffered: buffered{br: bufio.NewReader(conn)},
		conn:     conn,
	}
}

func (t *TLS) Write(p []byte) (int, error)       { return t.conn.Write(p) }
func (t *TLS) Close() error                      { return t.conn.Close() }
func (t *TLS) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *TLS) RemoteAddr() net.Addr              { return t.conn.RemoteAddr() }

// Ready reports buffered plaintext, or a record pending on the connection.
// Decrypted records held inside the TLS layer are drained by the probe
// read, so they are seen even when the socket itself is idle.
func (t *TLS) Ready() bool {
	if t.br.Buffered() > 0 {
		return true
	}
	if !t.conn.ConnectionState().HandshakeComplete {
		return false
	}
	return t.probe(t.conn)
}
