// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools the scratch buffers used to encode frames.
package bufpool

import (
	"bytes"
	"sync"
)

// Buffers that grew past this capacity while encoding a large body are
// dropped instead of pinning the memory in the pool.
const maxPooledCap = 64 * 1024

var pool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Get returns an empty buffer.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// GetSized returns an empty buffer able to hold n bytes without growing.
func GetSized(n int) *bytes.Buffer {
	b := Get()
	b.Grow(n)
	return b
}

// Put returns b to the pool.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledCap {
		return
	}
	pool.Put(b)
}
