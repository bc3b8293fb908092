// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/stomp/frame"
	"github.com/absmach/stomp/ratelimit"
	"github.com/google/uuid"
)

// DefaultReceiptTimeout bounds how long Close waits for a requested
// disconnect receipt.
const DefaultReceiptTimeout = 5 * time.Second

// limiterCleanup is how often idle destinations are dropped from the
// publish limiter.
const limiterCleanup = 5 * time.Minute

// MessageHandler is called with every MESSAGE delivered to a subscribed
// destination.
type MessageHandler func(f *frame.Frame)

// Client is a thread-safe STOMP client. A background goroutine receives
// frames and dispatches them: messages to the handler of their destination,
// receipts to the callback registered with the request.
type Client struct {
	conn   *Connection
	logger *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]MessageHandler

	receipts *receiptStore
	replay   *replayBuffer
	limiter  *ratelimit.DestinationLimiter

	// Lifecycle
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// Set while the receive goroutine runs a handler.
	dispatching atomic.Bool

	errMu sync.Mutex
	err   error
}

// New connects with opts and starts dispatching.
func New(opts *Options) (*Client, error) {
	conn, err := Dial(opts)
	if err != nil {
		return nil, err
	}
	return NewWithConnection(conn), nil
}

// NewWithConnection starts dispatching on an established connection. The
// client takes ownership of conn.
func NewWithConnection(conn *Connection) *Client {
	c := &Client{
		conn:     conn,
		logger:   conn.logger,
		handlers: make(map[string]MessageHandler),
		receipts: newReceiptStore(),
		replay:   newReplayBuffer(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if opts := conn.opts; opts.PublishRate > 0 {
		c.limiter = ratelimit.NewDestinationLimiter(opts.PublishRate, opts.PublishBurst, limiterCleanup)
	}

	go c.listen()
	return c
}

// NewTransactionID returns a random transaction name.
func NewTransactionID() string {
	return "tx-" + uuid.NewString()
}

func (c *Client) listen() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		f, err := c.conn.Receive()
		if err != nil {
			if c.stopping() || errors.Is(err, ErrClosed) {
				return
			}
			if frame.IsProtocolError(err) {
				c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
				continue
			}
			// Without failover, and once the reconnect budget is spent,
			// transport errors are final.
			c.setErr(err)
			c.logger.Error("receive loop stopped", slog.String("error", err.Error()))
			return
		}
		c.dispatching.Store(true)
		c.dispatch(f)
		c.dispatching.Store(false)
	}
}

func (c *Client) dispatch(f *frame.Frame) {
	switch f.Command {
	case frame.MESSAGE:
		dest := f.Destination()
		c.handlersMu.RLock()
		handler, ok := c.handlers[dest]
		c.handlersMu.RUnlock()
		if !ok {
			c.logger.Debug("no handler for message", slog.String("destination", dest))
			return
		}
		handler(f)
	case frame.RECEIPT:
		id := f.Get(frame.ReceiptID)
		if handler, ok := c.receipts.take(id); ok {
			handler(f)
		}
	case frame.ERROR:
		c.logger.Warn("broker error",
			slog.String("message", f.Get(frame.Message)),
			slog.String("body", string(f.Body)))
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = err
}

// Err returns the error that stopped the receive loop, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// withReceipt registers onReceipt and returns h carrying its receipt id.
func (c *Client) withReceipt(h *frame.Header, onReceipt ReceiptHandler) (*frame.Header, string) {
	h = h.Clone()
	if onReceipt == nil {
		return h, ""
	}
	id := c.receipts.register(onReceipt)
	h.Set(frame.Receipt, id)
	return h, id
}

// Publish sends body to dest. onReceipt, when not nil, is called once the
// broker confirms the message.
func (c *Client) Publish(dest string, body []byte, h *frame.Header, onReceipt ReceiptHandler) error {
	if dest == "" {
		return ErrInvalidDestination
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background(), dest); err != nil {
			return err
		}
	}

	h, id := c.withReceipt(h, onReceipt)
	if err := c.conn.Publish(dest, body, h); err != nil {
		if id != "" {
			c.receipts.remove(id)
		}
		return err
	}
	return nil
}

// Subscribe routes messages for dest to handler. Subscribing again to the
// same destination replaces the handler.
func (c *Client) Subscribe(dest string, h *frame.Header, handler MessageHandler) error {
	if handler == nil {
		return ErrNoHandler
	}
	if dest == "" {
		return ErrInvalidDestination
	}

	c.handlersMu.Lock()
	prev, had := c.handlers[dest]
	c.handlers[dest] = handler
	c.handlersMu.Unlock()

	if err := c.conn.Subscribe(dest, h); err != nil {
		c.handlersMu.Lock()
		if had {
			c.handlers[dest] = prev
		} else {
			delete(c.handlers, dest)
		}
		c.handlersMu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe cancels the subscription to dest and drops its handler.
func (c *Client) Unsubscribe(dest string, h *frame.Header) error {
	if err := c.conn.Unsubscribe(dest, h); err != nil {
		return err
	}
	c.handlersMu.Lock()
	delete(c.handlers, dest)
	c.handlersMu.Unlock()
	return nil
}

// Acknowledge acks f. When h names a transaction, f is kept so that
// aborting the transaction delivers it again.
func (c *Client) Acknowledge(f *frame.Frame, h *frame.Header, onReceipt ReceiptHandler) error {
	if tx := h.Get(frame.Transaction); tx != "" {
		c.replay.add(tx, f)
	}
	h, id := c.withReceipt(h, onReceipt)
	if err := c.conn.Ack(f.MessageID(), h); err != nil {
		if id != "" {
			c.receipts.remove(id)
		}
		return err
	}
	return nil
}

// Begin starts transaction tx.
func (c *Client) Begin(tx string, h *frame.Header) error {
	return c.conn.Begin(tx, h)
}

// Commit commits transaction tx and forgets its acknowledged messages.
func (c *Client) Commit(tx string, h *frame.Header) error {
	c.replay.discard(tx)
	return c.conn.Commit(tx, h)
}

// Abort rolls back transaction tx, then hands every message acknowledged
// in it to the current handler of its destination, once, on the calling
// goroutine.
func (c *Client) Abort(tx string, h *frame.Header) error {
	if err := c.conn.Abort(tx, h); err != nil {
		return err
	}
	for _, f := range c.replay.pop(tx) {
		c.dispatch(f)
	}
	return nil
}

// Unreceive returns f to the broker. See Connection.Unreceive.
func (c *Client) Unreceive(f *frame.Frame, opts *UnreceiveOptions) error {
	return c.conn.Unreceive(f, opts)
}

// Close sends DISCONNECT and stops the receive loop. When h requests a
// receipt, Close waits up to DefaultReceiptTimeout for it. A client whose
// receive loop already stopped is closed without DISCONNECT.
//
// While a handler runs, including when Close is called from the handler
// itself, Close waits neither for the receipt nor for the receive loop,
// which stops once the handler returns. Use Wait to join it.
func (c *Client) Close(h *frame.Header) error {
	inHandler := c.dispatching.Load()
	if !c.Running() {
		c.shutdown(!inHandler)
		return nil
	}

	h = h.Clone()
	var receiptCh chan *frame.Frame
	if id := h.Get(frame.Receipt); id != "" && !inHandler {
		receiptCh = make(chan *frame.Frame, 1)
		c.receipts.put(id, func(f *frame.Frame) { receiptCh <- f })
	}

	err := c.conn.beginDisconnect(h)
	if err == nil && receiptCh != nil {
		timer := time.NewTimer(DefaultReceiptTimeout)
		select {
		case f := <-receiptCh:
			c.conn.setDisconnectReceipt(f)
		case <-timer.C:
			c.logger.Warn("no disconnect receipt", slog.String("receipt", h.Get(frame.Receipt)))
		case <-c.doneCh:
		}
		timer.Stop()
	}

	c.shutdown(!inHandler)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) shutdown(wait bool) {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.conn.Close()
	if wait {
		<-c.doneCh
	}
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

// Wait blocks until the receive loop exits.
func (c *Client) Wait() {
	<-c.doneCh
}

// Running reports whether the receive loop is still active.
func (c *Client) Running() bool {
	select {
	case <-c.doneCh:
		return false
	default:
		return true
	}
}

// Connection returns the underlying connection.
func (c *Client) Connection() *Connection {
	return c.conn
}

// ConnectionFrame returns the broker's reply to the latest CONNECT.
func (c *Client) ConnectionFrame() *frame.Frame {
	return c.conn.ConnectionFrame()
}

// DisconnectReceipt returns the receipt captured by Close, if any.
func (c *Client) DisconnectReceipt() *frame.Frame {
	return c.conn.DisconnectReceipt()
}
