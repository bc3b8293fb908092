// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/absmach/stomp/frame"
	"github.com/absmach/stomp/transport"
)

// link is one established broker connection.
type link struct {
	tr transport.Transport
	r  *frame.Reader
	w  *frame.Writer
}

func newLink(tr transport.Transport, opts *Options) *link {
	return &link{
		tr: tr,
		r:  frame.NewReader(tr, frame.WithParseTimeout(opts.ParseTimeout), frame.WithMaxBodySize(opts.MaxBodySize)),
		w:  frame.NewWriter(tr),
	}
}

// Connection is a STOMP session with one broker, or with a rotating list of
// brokers when failover is enabled. With failover, any failed transmit or
// receive re-establishes the session on the next host, replays the active
// subscriptions and retries the operation.
//
// Writes, reads and link replacement are serialized independently, so one
// goroutine may block in Receive while others transmit.
type Connection struct {
	opts    *Options
	logger  *slog.Logger
	metrics *metrics
	state   *stateManager
	dial    DialFunc

	transmitMu sync.Mutex
	readMu     sync.Mutex
	socketMu   sync.Mutex

	// Guarded by socketMu.
	link     *link
	failure  error
	attempts int
	hosts    []HostSpec
	current  HostSpec
	backoff  *backoff
	breakers *hostBreakers

	framesMu          sync.RWMutex
	connFrame         *frame.Frame
	disconnectReceipt *frame.Frame

	subs *subscriptionRegistry

	closeCh   chan struct{}
	closeOnce sync.Once

	// sleep waits between attempts and reports false when interrupted.
	sleep func(time.Duration) bool
}

// Dial validates opts and connects eagerly. With failover it keeps trying
// until a host accepts or MaxReconnectAttempts is exhausted.
func Dial(opts *Options) (*Connection, error) {
	c, err := newConnection(opts)
	if err != nil {
		return nil, err
	}
	if _, err := c.acquire(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newConnection(opts *Options) (*Connection, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		opts:     opts,
		logger:   logger,
		metrics:  m,
		state:    newStateManager(),
		hosts:    append([]HostSpec(nil), opts.Hosts...),
		backoff:  newBackoff(opts.FailoverConfig),
		breakers: newHostBreakers(opts.BreakerThreshold, opts.BreakerTimeout, logger),
		subs:     newSubscriptionRegistry(),
		closeCh:  make(chan struct{}),
	}
	c.sleep = c.wait

	c.dial = opts.Dialer
	if c.dial == nil {
		c.dial = func(ctx context.Context, h HostSpec) (transport.Transport, error) {
			return transport.Dial(ctx, h.Host, h.EffectivePort(), opts.transportConfig(h))
		}
	}

	c.current = c.hosts[0]
	if opts.Failover {
		c.rotate()
	}
	return c, nil
}

// rotate picks the next host and moves it to the tail of the list.
func (c *Connection) rotate() {
	if c.opts.RandomizeHosts {
		rand.Shuffle(len(c.hosts), func(i, j int) {
			c.hosts[i], c.hosts[j] = c.hosts[j], c.hosts[i]
		})
	}
	c.current = c.hosts[0]
	next := make([]HostSpec, 0, len(c.hosts))
	next = append(next, c.hosts[1:]...)
	c.hosts = append(next, c.current)
}

func (c *Connection) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.closeCh:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.closeCh:
		return false
	}
}

// acquire returns the current link, reconnecting first when there is none
// or the last one failed.
func (c *Connection) acquire() (*link, error) {
	c.socketMu.Lock()
	defer c.socketMu.Unlock()

	for c.link == nil || c.failure != nil {
		if c.state.isClosed() {
			return nil, ErrClosed
		}
		c.state.move(StateConnecting, StateDisconnected, StateConnected)

		l, err := c.open(c.current)
		c.metrics.connectAttempt(c.current.Addr(), err)
		if err == nil {
			// Close may have run while the handshake was in flight.
			if !c.state.move(StateConnected, StateConnecting, StateReconnecting) {
				l.tr.Close()
				return nil, ErrClosed
			}
			c.install(l)
			c.failure = nil
			c.attempts = 0
			c.backoff.reset()
			c.logger.Debug("connected", slog.String("host", c.current.Addr()))
			break
		}

		c.discard()
		c.failure = err
		if c.state.isClosed() {
			return nil, ErrClosed
		}
		if !c.opts.Failover {
			c.state.move(StateDisconnected, StateConnecting, StateReconnecting)
			return nil, fmt.Errorf("connect to %s: %w", c.current.Addr(), err)
		}

		c.attempts++
		if max := c.opts.MaxReconnectAttempts; max > 0 && c.attempts >= max {
			c.state.close()
			c.logger.Error("giving up reconnecting",
				slog.Int("attempts", c.attempts),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxReconnectAttempts, c.attempts, err)
		}

		delay := c.backoff.delay()
		c.logger.Warn("connect failed, retrying",
			slog.String("host", c.current.Addr()),
			slog.Int("attempt", c.attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		c.state.move(StateReconnecting, StateConnecting)
		if !c.sleep(delay) {
			return nil, ErrClosed
		}
		c.rotate()
		c.backoff.grow()
	}
	return c.link, nil
}

// open dials host, performs the handshake and replays the subscriptions.
func (c *Connection) open(host HostSpec) (*link, error) {
	var l *link
	err := c.breakers.do(host.Addr(), func() error {
		ctx, cancel := c.dialContext()
		defer cancel()

		tr, err := c.dial(ctx, host)
		if err != nil {
			return err
		}
		nl := newLink(tr, c.opts)
		if err := c.handshake(nl, host); err != nil {
			tr.Close()
			return err
		}
		if err := c.resubscribe(nl); err != nil {
			tr.Close()
			return err
		}
		l = nl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// dialContext is bounded by DialTimeout and cancelled by Close.
func (c *Connection) dialContext() (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.closeCh:
			stop()
		case <-ctx.Done():
		}
	}()
	if c.opts.DialTimeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func (c *Connection) handshake(l *link, host HostSpec) error {
	h := c.opts.ConnectHeaders.Clone()
	h.Set(frame.Login, host.Login)
	h.Set(frame.Passcode, host.Passcode)
	if err := l.w.Write(&frame.Frame{Command: frame.CONNECT, Header: h}); err != nil {
		return err
	}
	c.metrics.frameSent(frame.CONNECT, 0)

	// The reader only bounds a frame once its command line arrived.
	if c.opts.DialTimeout > 0 {
		if err := l.tr.SetReadDeadline(time.Now().Add(c.opts.DialTimeout)); err != nil {
			return err
		}
	}
	f, err := l.r.Read()
	l.tr.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}
	c.metrics.frameReceived(f.Command, len(f.Body))

	c.framesMu.Lock()
	c.connFrame = f
	c.disconnectReceipt = nil
	c.framesMu.Unlock()

	switch f.Command {
	case frame.CONNECTED:
		return nil
	case frame.ERROR:
		return fmt.Errorf("%w: %s", ErrConnectRejected, f.Get(frame.Message))
	default:
		return fmt.Errorf("%w: %s during handshake", ErrUnexpectedFrame, f.Command)
	}
}

func (c *Connection) resubscribe(l *link) error {
	for _, rec := range c.subs.snapshot() {
		f := &frame.Frame{Command: frame.SUBSCRIBE, Header: rec.header}
		if err := l.w.Write(f); err != nil {
			return fmt.Errorf("resubscribe %s: %w", rec.id, err)
		}
		c.metrics.frameSent(frame.SUBSCRIBE, 0)
	}
	return nil
}

// install replaces the current link. Callers hold socketMu.
func (c *Connection) install(l *link) {
	if c.link != nil && c.link != l {
		c.link.tr.Close()
	}
	c.link = l
}

// discard closes and drops the current link. Callers hold socketMu.
func (c *Connection) discard() {
	if c.link != nil {
		c.link.tr.Close()
		c.link = nil
	}
}

// fail marks l as broken so the next acquire reconnects. A link that was
// already replaced is left alone.
func (c *Connection) fail(l *link, err error) {
	c.socketMu.Lock()
	defer c.socketMu.Unlock()
	if c.link == l && c.failure == nil {
		c.failure = err
	}
}

// Transmit sends one frame, reconnecting and retrying on failure when
// failover is enabled. The content-length header is always derived from
// body unless h carries the suppress-content-length directive.
func (c *Connection) Transmit(command string, h *frame.Header, body []byte) error {
	return c.send(&frame.Frame{Command: command, Header: h, Body: body})
}

func (c *Connection) send(f *frame.Frame) error {
	for {
		l, err := c.acquire()
		if err != nil {
			return err
		}

		c.transmitMu.Lock()
		err = l.w.Write(f)
		c.transmitMu.Unlock()
		if err == nil {
			c.metrics.frameSent(f.Command, len(f.Body))
			return nil
		}
		if errors.Is(err, frame.ErrInvalidFormat) {
			return err
		}
		if c.state.isClosed() {
			return ErrClosed
		}

		c.fail(l, err)
		if !c.opts.Failover {
			return err
		}
		c.logger.Warn("transmit failed, reconnecting",
			slog.String("command", f.Command),
			slog.String("error", err.Error()))
	}
}

// Receive blocks until the next frame arrives. With failover, transport
// failures and a broker closing the stream are retried on the next host.
// Decoding errors are returned as is and the link is replaced on the next
// call. Without failover a closed stream yields io.EOF.
func (c *Connection) Receive() (*frame.Frame, error) {
	for {
		l, err := c.acquire()
		if err != nil {
			return nil, err
		}

		c.readMu.Lock()
		f, err := l.r.Read()
		c.readMu.Unlock()
		if err == nil {
			c.metrics.frameReceived(f.Command, len(f.Body))
			return f, nil
		}
		if err := c.readFailed(l, err); err != nil {
			return nil, err
		}
	}
}

// Poll returns the next frame if one is already available and nil
// otherwise. It never waits for the broker, except to finish a frame that
// has started arriving.
func (c *Connection) Poll() (*frame.Frame, error) {
	l, err := c.acquire()
	if err != nil {
		return nil, err
	}

	c.readMu.Lock()
	if !l.tr.Ready() {
		c.readMu.Unlock()
		return nil, nil
	}
	f, err := l.r.Read()
	c.readMu.Unlock()
	if err == nil {
		c.metrics.frameReceived(f.Command, len(f.Body))
		return f, nil
	}
	if err := c.readFailed(l, err); err != nil {
		return nil, err
	}
	return nil, nil
}

// readFailed marks l as failed and returns the error to report, or nil when
// the read should be retried.
func (c *Connection) readFailed(l *link, err error) error {
	if c.state.isClosed() {
		return ErrClosed
	}
	c.fail(l, err)

	switch {
	case frame.IsProtocolError(err):
		return err
	case !c.opts.Failover:
		return err
	case errors.Is(err, io.EOF):
		c.logger.Warn("broker closed the connection, reconnecting")
	default:
		c.logger.Warn("receive failed, reconnecting", slog.String("error", err.Error()))
	}
	return nil
}

// with returns a copy of h with key set to value.
func with(h *frame.Header, key, value string) *frame.Header {
	h = h.Clone()
	h.Set(key, value)
	return h
}

// Begin starts transaction tx.
func (c *Connection) Begin(tx string, h *frame.Header) error {
	return c.Transmit(frame.BEGIN, with(h, frame.Transaction, tx), nil)
}

// Commit commits transaction tx.
func (c *Connection) Commit(tx string, h *frame.Header) error {
	return c.Transmit(frame.COMMIT, with(h, frame.Transaction, tx), nil)
}

// Abort rolls back transaction tx.
func (c *Connection) Abort(tx string, h *frame.Header) error {
	return c.Transmit(frame.ABORT, with(h, frame.Transaction, tx), nil)
}

// Ack acknowledges the message with messageID.
func (c *Connection) Ack(messageID string, h *frame.Header) error {
	return c.Transmit(frame.ACK, with(h, frame.MessageID, messageID), nil)
}

// Subscribe subscribes to dest. The subscription is keyed by the id header,
// or by dest when h has none, and replayed after every reconnect.
func (c *Connection) Subscribe(dest string, h *frame.Header) error {
	if dest == "" {
		return ErrInvalidDestination
	}
	h = with(h, frame.Destination, dest)
	if err := c.Transmit(frame.SUBSCRIBE, h, nil); err != nil {
		return err
	}
	id := subscriptionID(h)
	if _, ok := c.subs.get(id); !ok {
		c.metrics.subscriptions(1)
	}
	c.subs.set(id, h)
	return nil
}

// Unsubscribe cancels the subscription to dest.
func (c *Connection) Unsubscribe(dest string, h *frame.Header) error {
	if dest == "" {
		return ErrInvalidDestination
	}
	h = with(h, frame.Destination, dest)
	if err := c.Transmit(frame.UNSUBSCRIBE, h, nil); err != nil {
		return err
	}
	id := subscriptionID(h)
	if _, ok := c.subs.get(id); ok {
		c.metrics.subscriptions(-1)
	}
	c.subs.remove(id)
	return nil
}

func subscriptionID(h *frame.Header) string {
	if id := h.Get(frame.ID); id != "" {
		return id
	}
	return h.Get(frame.Destination)
}

// Publish sends body to dest.
func (c *Connection) Publish(dest string, body []byte, h *frame.Header) error {
	if dest == "" {
		return ErrInvalidDestination
	}
	return c.Transmit(frame.SEND, with(h, frame.Destination, dest), body)
}

// Disconnect ends the session. When h requests a receipt, the next frame is
// read and kept as the disconnect receipt. The connection is closed whatever
// the outcome.
func (c *Connection) Disconnect(h *frame.Header) error {
	if c.state.isClosed() {
		return ErrClosed
	}
	l, err := c.acquire()
	if err != nil {
		c.Close()
		return err
	}
	defer c.Close()
	if !c.state.beginDisconnect() {
		return ErrClosed
	}

	c.transmitMu.Lock()
	err = l.w.Write(&frame.Frame{Command: frame.DISCONNECT, Header: h})
	c.transmitMu.Unlock()
	if err != nil {
		return err
	}
	c.metrics.frameSent(frame.DISCONNECT, 0)

	if !h.Contains(frame.Receipt) {
		return nil
	}
	c.readMu.Lock()
	f, err := l.r.Read()
	c.readMu.Unlock()
	if err != nil {
		return fmt.Errorf("read disconnect receipt: %w", err)
	}
	c.setDisconnectReceipt(f)
	return nil
}

// beginDisconnect sends DISCONNECT on the live link and stops any further
// reconnects. The link stays open so a receipt can still be read.
func (c *Connection) beginDisconnect(h *frame.Header) error {
	if c.state.isClosed() {
		return ErrClosed
	}
	l, err := c.acquire()
	if err != nil {
		return err
	}
	if !c.state.beginDisconnect() {
		return ErrClosed
	}

	c.transmitMu.Lock()
	err = l.w.Write(&frame.Frame{Command: frame.DISCONNECT, Header: h})
	c.transmitMu.Unlock()
	if err == nil {
		c.metrics.frameSent(frame.DISCONNECT, 0)
	}
	return err
}

// Close closes the transport without a DISCONNECT frame. It interrupts a
// pending reconnect delay and unblocks a pending Receive.
func (c *Connection) Close() error {
	c.state.close()
	c.closeOnce.Do(func() { close(c.closeCh) })

	c.socketMu.Lock()
	defer c.socketMu.Unlock()
	c.discard()
	return nil
}

func (c *Connection) setDisconnectReceipt(f *frame.Frame) {
	c.framesMu.Lock()
	defer c.framesMu.Unlock()
	c.disconnectReceipt = f
}

// ConnectionFrame returns the broker's reply to the latest CONNECT, which
// is either CONNECTED or ERROR.
func (c *Connection) ConnectionFrame() *frame.Frame {
	c.framesMu.RLock()
	defer c.framesMu.RUnlock()
	return c.connFrame
}

// DisconnectReceipt returns the receipt read by Disconnect, if any.
func (c *Connection) DisconnectReceipt() *frame.Frame {
	c.framesMu.RLock()
	defer c.framesMu.RUnlock()
	return c.disconnectReceipt
}

// State returns the current connection state.
func (c *Connection) State() State {
	return c.state.get()
}

// IsConnected reports whether a session is currently established.
func (c *Connection) IsConnected() bool {
	return c.state.isConnected()
}

// IsOpen reports whether the connection has not been closed.
func (c *Connection) IsOpen() bool {
	return !c.state.isClosed()
}

// IsClosed reports whether the connection was closed, either explicitly
// or after exhausting its reconnect attempts.
func (c *Connection) IsClosed() bool {
	return c.state.isClosed()
}

// Host returns the host the connection currently targets.
func (c *Connection) Host() HostSpec {
	c.socketMu.Lock()
	defer c.socketMu.Unlock()
	return c.current
}
