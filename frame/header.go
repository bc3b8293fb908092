// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

// Header names with special handling.
const (
	Destination   = "destination"
	Transaction   = "transaction"
	MessageID     = "message-id"
	Receipt       = "receipt"
	ReceiptID     = "receipt-id"
	ContentLength = "content-length"
	Ack           = "ack"
	Persistent    = "persistent"
	Login         = "login"
	Passcode      = "passcode"
	ID            = "id"
	Subscription  = "subscription"
	Message       = "message"

	// RetryCount counts redeliveries performed by the client.
	RetryCount = "retry-count"
	// OriginalDestination is set on messages routed to a dead letter queue.
	OriginalDestination = "original-destination"

	// SuppressContentLength is a local directive. When present on a frame
	// handed to a Writer, no content-length header is injected and the
	// directive itself is never written.
	SuppressContentLength = "suppress-content-length"
)

// AckClient is the ack header value for client acknowledgement mode.
const AckClient = "client"

type entry struct {
	key   string
	value string
}

// Header is an ordered string-keyed header mapping. Setting an existing key
// replaces its value in place, so the last write wins while the position of
// the first write is kept.
type Header struct {
	entries []entry
}

// NewHeader creates a header from alternating keys and values.
func NewHeader(pairs ...string) *Header {
	h := &Header{entries: make([]entry, 0, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (h *Header) index(key string) int {
	for i, e := range h.entries {
		if e.key == key {
			return i
		}
	}
	return -1
}

// Get returns the value for key, or "" if absent.
func (h *Header) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup returns the value for key and whether it was present.
func (h *Header) Lookup(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	if i := h.index(key); i >= 0 {
		return h.entries[i].value, true
	}
	return "", false
}

// Contains reports whether key is present.
func (h *Header) Contains(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

// Set sets key to value.
func (h *Header) Set(key, value string) {
	if i := h.index(key); i >= 0 {
		h.entries[i].value = value
		return
	}
	h.entries = append(h.entries, entry{key: key, value: value})
}

// Del removes key.
func (h *Header) Del(key string) {
	if i := h.index(key); i >= 0 {
		h.entries = append(h.entries[:i], h.entries[i+1:]...)
	}
}

// Len returns the number of entries.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Keys returns the keys in insertion order.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	keys := make([]string, len(h.entries))
	for i, e := range h.entries {
		keys[i] = e.key
	}
	return keys
}

// Range calls fn for each entry in order until fn returns false.
func (h *Header) Range(fn func(key, value string) bool) {
	if h == nil {
		return
	}
	for _, e := range h.entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Merge sets every entry of other on h, in other's order.
func (h *Header) Merge(other *Header) {
	other.Range(func(k, v string) bool {
		h.Set(k, v)
		return true
	})
}

// Clone returns a deep copy. Cloning a nil header yields an empty one.
func (h *Header) Clone() *Header {
	c := &Header{}
	if h != nil {
		c.entries = make([]entry, len(h.entries))
		copy(c.entries, h.entries)
	}
	return c
}
