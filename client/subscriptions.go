// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync"

	"github.com/absmach/stomp/frame"
)

// subscriptionRecord is an active subscription and the SUBSCRIBE headers
// that created it.
type subscriptionRecord struct {
	id     string
	header *frame.Header
}

// subscriptionRegistry keeps subscriptions in creation order. Resubscribing
// an existing id replaces its headers in place.
type subscriptionRegistry struct {
	mu    sync.RWMutex
	order []string
	subs  map[string]subscriptionRecord
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs: make(map[string]subscriptionRecord),
	}
}

func (r *subscriptionRegistry) set(id string, h *frame.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		r.order = append(r.order, id)
	}
	r.subs[id] = subscriptionRecord{id: id, header: h.Clone()}
}

func (r *subscriptionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return
	}
	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *subscriptionRegistry) get(id string) (subscriptionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.subs[id]
	if !ok {
		return subscriptionRecord{}, false
	}
	return subscriptionRecord{id: rec.id, header: rec.header.Clone()}, true
}

func (r *subscriptionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// snapshot returns copies of all records in creation order.
func (r *subscriptionRegistry) snapshot() []subscriptionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]subscriptionRecord, 0, len(r.order))
	for _, id := range r.order {
		rec := r.subs[id]
		records = append(records, subscriptionRecord{id: rec.id, header: rec.header.Clone()})
	}
	return records
}
