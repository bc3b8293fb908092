// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync"

	"github.com/absmach/stomp/frame"
)

// replayBuffer holds messages acknowledged inside a transaction. Aborting
// the transaction hands them back for redelivery, committing drops them.
type replayBuffer struct {
	mu  sync.Mutex
	txs map[string][]*frame.Frame
}

func newReplayBuffer() *replayBuffer {
	return &replayBuffer{
		txs: make(map[string][]*frame.Frame),
	}
}

func (rb *replayBuffer) add(tx string, f *frame.Frame) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.txs[tx] = append(rb.txs[tx], f)
}

// pop removes and returns the buffered messages of tx in ack order.
func (rb *replayBuffer) pop(tx string) []*frame.Frame {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	frames := rb.txs[tx]
	delete(rb.txs, tx)
	return frames
}

func (rb *replayBuffer) discard(tx string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	delete(rb.txs, tx)
}

func (rb *replayBuffer) len(tx string) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.txs[tx])
}
