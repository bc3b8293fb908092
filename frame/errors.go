// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import "errors"

// Codec errors.
var (
	ErrInvalidFormat        = errors.New("invalid frame format")
	ErrInvalidServerCommand = errors.New("invalid server command")
	ErrInvalidMessageLength = errors.New("invalid message length")
	ErrParseTimeout         = errors.New("frame parse timeout")
)

// IsProtocolError reports whether err is a decoding failure, as opposed to
// a transport failure or a clean end of stream.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrInvalidServerCommand) ||
		errors.Is(err, ErrInvalidMessageLength) ||
		errors.Is(err, ErrParseTimeout)
}
