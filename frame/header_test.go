// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderSetKeepsFirstPosition(t *testing.T) {
	h := NewHeader("b", "1", "a", "2")
	h.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, h.Keys())
	assert.Equal(t, "3", h.Get("b"))
	assert.Equal(t, 2, h.Len())
}

func TestHeaderDel(t *testing.T) {
	h := NewHeader("a", "1", "b", "2", "c", "3")
	h.Del("b")
	h.Del("missing")

	assert.Equal(t, []string{"a", "c"}, h.Keys())
	assert.False(t, h.Contains("b"))
}

func TestHeaderLookup(t *testing.T) {
	h := NewHeader("empty", "")

	v, ok := h.Lookup("empty")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = h.Lookup("absent")
	assert.False(t, ok)

	var nilHeader *Header
	_, ok = nilHeader.Lookup("x")
	assert.False(t, ok)
	assert.Equal(t, 0, nilHeader.Len())
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := NewHeader("a", "1")
	c := h.Clone()
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "1", h.Get("a"))
	assert.False(t, h.Contains("b"))

	var nilHeader *Header
	assert.Equal(t, 0, nilHeader.Clone().Len())
}

func TestHeaderMerge(t *testing.T) {
	h := NewHeader("destination", "/queue/a", "x", "1")
	h.Merge(NewHeader("x", "2", "transaction", "tx1"))

	assert.Equal(t, []string{"destination", "x", "transaction"}, h.Keys())
	assert.Equal(t, "2", h.Get("x"))
}

func TestNewHeaderIgnoresDanglingKey(t *testing.T) {
	h := NewHeader("a", "1", "dangling")
	assert.Equal(t, 1, h.Len())
}

func TestFrameAccessors(t *testing.T) {
	f := New(MESSAGE, Destination, "/queue/a", MessageID, "id-1")
	assert.Equal(t, "/queue/a", f.Destination())
	assert.Equal(t, "id-1", f.MessageID())
	assert.Equal(t, MESSAGE, f.String())

	c := f.Clone()
	c.Header.Set(Destination, "/queue/b")
	assert.Equal(t, "/queue/a", f.Destination())

	var nilFrame *Frame
	assert.Equal(t, "", nilFrame.Get(Destination))
}

func TestCommandSets(t *testing.T) {
	for _, cmd := range []string{CONNECTED, MESSAGE, RECEIPT, ERROR} {
		assert.True(t, IsServerCommand(cmd), cmd)
		assert.False(t, IsClientCommand(cmd), cmd)
	}
	for _, cmd := range []string{CONNECT, SEND, SUBSCRIBE, UNSUBSCRIBE, BEGIN, COMMIT, ABORT, ACK, DISCONNECT} {
		assert.True(t, IsClientCommand(cmd), cmd)
		assert.False(t, IsServerCommand(cmd), cmd)
	}
	assert.False(t, IsServerCommand("junk"))
}
