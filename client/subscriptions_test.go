// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"testing"

	"github.com/absmach/stomp/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistryOrder(t *testing.T) {
	r := newSubscriptionRegistry()
	r.set("/queue/a", frame.NewHeader(frame.Destination, "/queue/a"))
	r.set("sub-b", frame.NewHeader(frame.Destination, "/queue/b", frame.ID, "sub-b"))
	r.set("/queue/c", frame.NewHeader(frame.Destination, "/queue/c"))

	// Replacing keeps the original position.
	r.set("/queue/a", frame.NewHeader(frame.Destination, "/queue/a", frame.Ack, "client"))

	snap := r.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "/queue/a", snap[0].id)
	assert.Equal(t, "client", snap[0].header.Get(frame.Ack))
	assert.Equal(t, "sub-b", snap[1].id)
	assert.Equal(t, "/queue/c", snap[2].id)

	r.remove("sub-b")
	r.remove("missing")
	snap = r.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "/queue/a", snap[0].id)
	assert.Equal(t, "/queue/c", snap[1].id)
	assert.Equal(t, 2, r.len())
}

func TestSubscriptionRegistryCopies(t *testing.T) {
	r := newSubscriptionRegistry()
	h := frame.NewHeader(frame.Destination, "/queue/a")
	r.set("/queue/a", h)

	h.Set(frame.Ack, "client")
	rec, ok := r.get("/queue/a")
	require.True(t, ok)
	assert.False(t, rec.header.Contains(frame.Ack))

	rec.header.Set(frame.Ack, "client")
	rec, _ = r.get("/queue/a")
	assert.False(t, rec.header.Contains(frame.Ack))

	_, ok = r.get("/queue/b")
	assert.False(t, ok)
}
