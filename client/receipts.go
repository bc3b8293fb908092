// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"strconv"
	"sync"

	"github.com/absmach/stomp/frame"
)

// ReceiptHandler is called once with the RECEIPT frame answering a request.
type ReceiptHandler func(f *frame.Frame)

// receiptStore hands out receipt ids and holds the one-shot handlers waiting
// for them. Ids increase monotonically for the lifetime of the store.
type receiptStore struct {
	idMu   sync.Mutex
	nextID uint64

	mu       sync.Mutex
	handlers map[string]ReceiptHandler
}

func newReceiptStore() *receiptStore {
	return &receiptStore{
		handlers: make(map[string]ReceiptHandler),
	}
}

func (rs *receiptStore) newID() string {
	rs.idMu.Lock()
	defer rs.idMu.Unlock()

	rs.nextID++
	return strconv.FormatUint(rs.nextID, 10)
}

// register stores handler under a fresh id and returns it. The handler must
// be registered before the request is transmitted.
func (rs *receiptStore) register(handler ReceiptHandler) string {
	id := rs.newID()
	rs.put(id, handler)
	return id
}

func (rs *receiptStore) put(id string, handler ReceiptHandler) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.handlers[id] = handler
}

// take removes and returns the handler for id.
func (rs *receiptStore) take(id string) (ReceiptHandler, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	h, ok := rs.handlers[id]
	if ok {
		delete(rs.handlers, id)
	}
	return h, ok
}

func (rs *receiptStore) remove(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.handlers, id)
}

func (rs *receiptStore) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.handlers)
}
