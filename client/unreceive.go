// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/absmach/stomp/frame"
)

// Unreceive defaults.
const (
	DefaultDeadLetterQueue = "/queue/DLQ"
	DefaultMaxRedeliveries = 6
)

// UnreceiveOptions controls how Unreceive returns a message.
type UnreceiveOptions struct {
	// DeadLetterQueue receives messages that ran out of redeliveries.
	DeadLetterQueue string
	// MaxRedeliveries is the number of times a message goes back to its
	// destination before it is dead-lettered. 0 dead-letters right away.
	MaxRedeliveries int
	// ForceClientAck acknowledges the message even when its subscription
	// does not use client acknowledgement.
	ForceClientAck bool
}

// NewUnreceiveOptions returns the default options.
func NewUnreceiveOptions() *UnreceiveOptions {
	return &UnreceiveOptions{
		DeadLetterQueue: DefaultDeadLetterQueue,
		MaxRedeliveries: DefaultMaxRedeliveries,
	}
}

// Unreceive hands a consumed message back to the broker. Inside one
// transaction it acknowledges the message if needed and republishes it,
// either to its own destination with retry-count incremented or, once the
// retry budget is spent, to the dead letter queue. f's retry-count header is
// updated in place. On any failure the transaction is aborted and the
// original error returned.
func (c *Connection) Unreceive(f *frame.Frame, opts *UnreceiveOptions) error {
	if opts == nil {
		opts = NewUnreceiveOptions()
	}
	dlq := opts.DeadLetterQueue
	if dlq == "" {
		dlq = DefaultDeadLetterQueue
	}
	if f.Header == nil {
		f.Header = frame.NewHeader()
	}

	messageID := f.MessageID()
	retry := retryCount(f.Header)
	f.Header.Set(frame.RetryCount, strconv.Itoa(retry+1))
	tx := fmt.Sprintf("transaction-%s-%d", messageID, retry)
	dest := f.Destination()

	err := c.unreceive(f, tx, messageID, dest, dlq, retry, opts)
	if err == nil {
		return nil
	}
	if aerr := c.Abort(tx, nil); aerr != nil {
		c.logger.Warn("abort after failed unreceive",
			slog.String("transaction", tx),
			slog.String("error", aerr.Error()))
	}
	return err
}

func (c *Connection) unreceive(f *frame.Frame, tx, messageID, dest, dlq string, retry int, opts *UnreceiveOptions) error {
	if err := c.Begin(tx, nil); err != nil {
		return err
	}

	if opts.ForceClientAck || c.clientAck(f) {
		if messageID == "" {
			return ErrNoMessageID
		}
		if err := c.Ack(messageID, frame.NewHeader(frame.Transaction, tx)); err != nil {
			return err
		}
	}

	h := republishHeader(f)
	h.Set(frame.Transaction, tx)
	if retry < opts.MaxRedeliveries {
		if err := c.Publish(dest, f.Body, h); err != nil {
			return err
		}
		c.metrics.redelivered(dest)
	} else {
		h.Set(frame.OriginalDestination, dest)
		h.Set(frame.Persistent, "true")
		if err := c.Publish(dlq, f.Body, h); err != nil {
			return err
		}
		c.metrics.deadLetter(dest)
		c.logger.Info("message dead-lettered",
			slog.String("destination", dest),
			slog.String("message_id", messageID),
			slog.Int("retries", retry))
	}

	return c.Commit(tx, nil)
}

// clientAck reports whether the subscription that delivered f uses client
// acknowledgement. The subscription is found by the subscription header
// first and by destination otherwise.
func (c *Connection) clientAck(f *frame.Frame) bool {
	rec, ok := c.subs.get(f.Get(frame.Subscription))
	if !ok {
		rec, ok = c.subs.get(f.Destination())
	}
	return ok && rec.header.Get(frame.Ack) == frame.AckClient
}

// republishHeader copies the headers of a received message minus the ones
// the broker assigned to the delivery.
func republishHeader(f *frame.Frame) *frame.Header {
	h := f.Header.Clone()
	h.Del(frame.MessageID)
	h.Del(frame.Subscription)
	h.Del(frame.Destination)
	if !f.Header.Contains(frame.ContentLength) && bytes.IndexByte(f.Body, 0) < 0 {
		h.Set(frame.SuppressContentLength, "true")
	}
	h.Del(frame.ContentLength)
	return h
}

func retryCount(h *frame.Header) int {
	n, err := strconv.Atoi(h.Get(frame.RetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
