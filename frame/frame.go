// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

// Client commands.
const (
	CONNECT     = "CONNECT"
	SEND        = "SEND"
	SUBSCRIBE   = "SUBSCRIBE"
	UNSUBSCRIBE = "UNSUBSCRIBE"
	BEGIN       = "BEGIN"
	COMMIT      = "COMMIT"
	ABORT       = "ABORT"
	ACK         = "ACK"
	DISCONNECT  = "DISCONNECT"
)

// Server commands.
const (
	CONNECTED = "CONNECTED"
	MESSAGE   = "MESSAGE"
	RECEIPT   = "RECEIPT"
	ERROR     = "ERROR"
)

// IsServerCommand reports whether cmd may be sent by a broker.
func IsServerCommand(cmd string) bool {
	switch cmd {
	case CONNECTED, MESSAGE, RECEIPT, ERROR:
		return true
	}
	return false
}

// IsClientCommand reports whether cmd may be sent by a client.
func IsClientCommand(cmd string) bool {
	switch cmd {
	case CONNECT, SEND, SUBSCRIBE, UNSUBSCRIBE, BEGIN, COMMIT, ABORT, ACK, DISCONNECT:
		return true
	}
	return false
}

// Frame is a single STOMP frame: a command, an ordered header and a body.
//
// Frames are built once per encode or decode. The only mutation performed
// after construction is the retry counter written by the redelivery policy.
type Frame struct {
	Command string
	Header  *Header
	Body    []byte
}

// New creates a frame with the given command and header pairs. Pairs are
// given as alternating keys and values; a trailing key without value is
// ignored.
func New(command string, headers ...string) *Frame {
	return &Frame{
		Command: command,
		Header:  NewHeader(headers...),
	}
}

// Clone returns a copy of the frame with its own header. The body is
// shared.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Command: f.Command,
		Header:  f.Header.Clone(),
		Body:    f.Body,
	}
}

// Get returns the value of the header key, or "" when absent.
func (f *Frame) Get(key string) string {
	if f == nil || f.Header == nil {
		return ""
	}
	return f.Header.Get(key)
}

// Destination returns the destination header.
func (f *Frame) Destination() string {
	return f.Get(Destination)
}

// MessageID returns the message-id header.
func (f *Frame) MessageID() string {
	return f.Get(MessageID)
}

// String returns the command, used in logs.
func (f *Frame) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Command
}
