// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultParseTimeout bounds the decoding of a frame once its command line
// has arrived.
const DefaultParseTimeout = 5 * time.Second

// DefaultMaxBodySize is the largest body a Reader accepts by default.
const DefaultMaxBodySize = 8 << 20

// ByteReader is the buffered stream a Reader decodes from. Transports
// implement it directly so that their readiness probe and the decoder share
// one buffer; any other io.Reader is wrapped in a bufio.Reader.
type ByteReader interface {
	io.Reader
	io.ByteScanner
	ReadString(delim byte) (string, error)
	ReadSlice(delim byte) ([]byte, error)
	Buffered() int
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r        ByteReader
	deadline readDeadliner
	timeout  time.Duration
	maxBody  int
	accept   func(string) bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithParseTimeout bounds the decoding of a single frame. The wait for the
// first line of a frame is not bounded. Zero disables the limit. The limit
// is only enforced when the source supports read deadlines.
func WithParseTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) {
		r.timeout = d
	}
}

// WithMaxBodySize limits the body of a single frame to n bytes. Zero or a
// negative n removes the limit.
func WithMaxBodySize(n int) ReaderOption {
	return func(r *Reader) {
		r.maxBody = n
	}
}

// WithClientCommands makes the Reader accept client commands instead of
// server commands, for the broker side of a connection.
func WithClientCommands() ReaderOption {
	return func(r *Reader) {
		r.accept = IsClientCommand
	}
}

// NewReader creates a Reader over r. By default only server commands are
// accepted, the parse timeout is DefaultParseTimeout and bodies are limited
// to DefaultMaxBodySize.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	br, ok := r.(ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	rd := &Reader{
		r:       br,
		timeout: DefaultParseTimeout,
		maxBody: DefaultMaxBodySize,
		accept:  IsServerCommand,
	}
	if d, ok := r.(readDeadliner); ok {
		rd.deadline = d
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Read blocks until a full frame is decoded. A stream that ends cleanly
// between frames yields io.EOF. Decoding failures wrap ErrInvalidFormat,
// ErrInvalidServerCommand, ErrInvalidMessageLength or ErrParseTimeout; any
// other error comes from the underlying stream.
func (r *Reader) Read() (*Frame, error) {
	cmd, err := r.readCommand()
	if err != nil {
		return nil, err
	}

	if r.deadline != nil && r.timeout > 0 {
		if err := r.deadline.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return nil, err
		}
		defer r.deadline.SetReadDeadline(time.Time{})
	}

	f, err := r.readFrame(cmd)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w after %s: %v", ErrParseTimeout, r.timeout, err)
		}
		return nil, err
	}
	return f, nil
}

// readCommand returns the first non-empty line. Empty lines are heart-beat
// or trailing newlines left over from the previous frame.
func (r *Reader) readCommand() (string, error) {
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if strings.TrimSpace(line) == "" {
					return "", io.EOF
				}
				return "", fmt.Errorf("%w: unterminated command line", ErrInvalidFormat)
			}
			return "", err
		}
		if line = trimEOL(line); line != "" {
			return line, nil
		}
	}
}

func (r *Reader) readFrame(cmd string) (*Frame, error) {
	var lines []string
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: header block not terminated", ErrInvalidFormat)
			}
			return nil, err
		}
		line = trimEOL(line)
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	length, err := contentLength(lines)
	if err != nil {
		return nil, err
	}
	if r.maxBody > 0 && length > r.maxBody {
		return nil, fmt.Errorf("%w: content-length %d exceeds limit %d", ErrInvalidMessageLength, length, r.maxBody)
	}

	var body []byte
	if length >= 0 {
		body, err = r.readSized(length)
	} else {
		body, err = r.readUntilNul()
	}
	if err != nil {
		return nil, err
	}

	r.drain()

	if !r.accept(cmd) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServerCommand, cmd)
	}

	h := &Header{entries: make([]entry, 0, len(lines))}
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: malformed header %q", ErrInvalidFormat, line)
		}
		h.Set(key, value)
	}

	return &Frame{Command: cmd, Header: h, Body: body}, nil
}

func (r *Reader) readSized(n int) ([]byte, error) {
	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: body shorter than content-length %d", ErrInvalidFormat, n)
		}
		return nil, err
	}
	b, err := r.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing frame terminator", ErrInvalidMessageLength)
		}
		return nil, err
	}
	if b != 0 {
		return nil, fmt.Errorf("%w: expected NUL after %d body bytes", ErrInvalidMessageLength, n)
	}
	return body, nil
}

func (r *Reader) readUntilNul() ([]byte, error) {
	var body []byte
	for {
		chunk, err := r.r.ReadSlice(0)
		body = append(body, chunk...)
		if r.maxBody > 0 && len(body) > r.maxBody+1 {
			return nil, fmt.Errorf("%w: body exceeds limit %d", ErrInvalidMessageLength, r.maxBody)
		}
		switch {
		case err == nil:
			return body[:len(body)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: missing frame terminator", ErrInvalidFormat)
		default:
			return nil, err
		}
	}
}

// drain consumes newlines that are already buffered after a frame.
func (r *Reader) drain() {
	for r.r.Buffered() > 0 {
		b, err := r.r.ReadByte()
		if err != nil {
			return
		}
		if b != '\n' {
			r.r.UnreadByte()
			return
		}
	}
}

func contentLength(lines []string) (int, error) {
	length := -1
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != ContentLength {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: bad content-length %q", ErrInvalidFormat, value)
		}
		length = n
	}
	return length, nil
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
