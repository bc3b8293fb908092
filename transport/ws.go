// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// Subprotocols offered during the WebSocket handshake.
var Subprotocols = []string{"v10.stomp", "v11.stomp", "v12.stomp"}

const wsQueueSize = 64

var _ Transport = (*WebSocket)(nil)

// WebSocket carries STOMP frames over WebSocket messages, one frame per
// message. Incoming messages are pumped into a queue by a background
// goroutine so that readiness can be answered without touching the socket.
type WebSocket struct {
	buffered
	conn    *websocket.Conn
	stream  *messageStream
	writeMu sync.Mutex
}

func dialWebSocket(ctx context.Context, addr string, cfg Config) (Transport, error) {
	scheme := "ws"
	if cfg.TLS != nil {
		scheme = "wss"
	}
	path := cfg.WebSocketPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := fmt.Sprintf("%s://%s%s", scheme, addr, path)

	host, _, _ := net.SplitHostPort(addr)
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
		Subprotocols:     Subprotocols,
		NetDialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
			KeepAliveConfig: net.KeepAliveConfig{
				Enable:   true,
				Idle:     cfg.KeepAlive,
				Interval: cfg.KeepAlive,
			},
		}).DialContext,
	}
	if cfg.TLS != nil {
		dialer.TLSClientConfig = tlsConfigFor(cfg.TLS, host)
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established WebSocket connection and starts its
// read pump.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	s := &messageStream{
		queue:  make(chan []byte, wsQueueSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.pump(conn)
	return &WebSocket{
		buffered: buffered{br: bufio.NewReader(s)},
		conn:     conn,
		stream:   s,
	}
}

// Write sends p as one message: text when p is valid UTF-8, binary
// otherwise.
func (w *WebSocket) Write(p []byte) (int, error) {
	kind := websocket.BinaryMessage
	if utf8.Valid(p) {
		kind = websocket.TextMessage
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(kind, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the socket; the pump exits on its next read.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	w.stream.closeOnce.Do(func() { close(w.stream.closed) })
	return w.conn.Close()
}

func (w *WebSocket) SetReadDeadline(t time.Time) error {
	w.stream.setDeadline(t)
	return nil
}

func (w *WebSocket) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

// Ready reports buffered bytes or queued messages. It never blocks.
func (w *WebSocket) Ready() bool {
	return w.br.Buffered() > 0 || w.stream.pending()
}

// messageStream turns the pumped messages into a byte stream with read
// deadlines.
type messageStream struct {
	queue     chan []byte
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	err       error

	mu       sync.Mutex
	cur      []byte
	deadline time.Time
}

func (s *messageStream) pump(conn *websocket.Conn) {
	defer close(s.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			s.err = err
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case s.queue <- data:
		case <-s.closed:
			s.err = net.ErrClosed
			return
		}
	}
}

func (s *messageStream) setDeadline(t time.Time) {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
}

func (s *messageStream) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cur) > 0 || len(s.queue) > 0 {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *messageStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.cur) > 0 {
		n := copy(p, s.cur)
		s.cur = s.cur[n:]
		s.mu.Unlock()
		return n, nil
	}
	deadline := s.deadline
	s.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var data []byte
	select {
	case data = <-s.queue:
	case <-s.done:
		select {
		case data = <-s.queue:
		default:
			return 0, s.err
		}
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}

	n := copy(p, data)
	s.mu.Lock()
	s.cur = data[n:]
	s.mu.Unlock()
	return n, nil
}
