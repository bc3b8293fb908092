// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync/atomic"

// State is the lifecycle state of a Connection.
type State uint32

// Connection states. Disconnecting and Closed are terminal: once entered,
// only Close may move the connection on (from Disconnecting to Closed).
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateReconnecting:  "reconnecting",
	StateDisconnecting: "disconnecting",
	StateClosed:        "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s == StateDisconnecting || s == StateClosed
}

// stateManager holds the state of a Connection. Terminal states are sticky
// against every transition except close.
type stateManager struct {
	v atomic.Uint32
}

func newStateManager() *stateManager {
	return &stateManager{}
}

func (sm *stateManager) get() State {
	return State(sm.v.Load())
}

// move enters to from any of the given states and reports whether it did.
func (sm *stateManager) move(to State, from ...State) bool {
	for _, f := range from {
		if sm.v.CompareAndSwap(uint32(f), uint32(to)) {
			return true
		}
	}
	return false
}

// beginDisconnect enters Disconnecting unless the connection is already
// shutting down.
func (sm *stateManager) beginDisconnect() bool {
	for {
		cur := sm.get()
		if cur.terminal() {
			return false
		}
		if sm.v.CompareAndSwap(uint32(cur), uint32(StateDisconnecting)) {
			return true
		}
	}
}

// close enters Closed unconditionally.
func (sm *stateManager) close() {
	sm.v.Store(uint32(StateClosed))
}

func (sm *stateManager) isConnected() bool {
	return sm.get() == StateConnected
}

// isClosed reports whether the connection is closed or shutting down. No
// reconnect is attempted in either state.
func (sm *stateManager) isClosed() bool {
	return sm.get().terminal()
}
