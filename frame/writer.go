// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/absmach/stomp/internal/bufpool"
)

// Writer encodes frames onto a byte stream. Each frame is handed to the
// underlying writer in a single Write call.
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes f and writes it.
func (w *Writer) Write(f *Frame) error {
	buf := bufpool.GetSized(len(f.Body) + 256)
	defer bufpool.Put(buf)

	if err := Encode(buf, f); err != nil {
		return err
	}
	_, err := w.w.Write(buf.Bytes())
	return err
}

// Encode appends the wire form of f to buf. A content-length header equal
// to the body length is injected unless the frame carries the
// SuppressContentLength directive.
func Encode(buf *bytes.Buffer, f *Frame) error {
	if f.Command == "" || strings.ContainsAny(f.Command, "\n\x00") {
		return fmt.Errorf("%w: bad command %q", ErrInvalidFormat, f.Command)
	}

	h := f.Header.Clone()
	if h.Contains(SuppressContentLength) {
		h.Del(SuppressContentLength)
		h.Del(ContentLength)
		if bytes.IndexByte(f.Body, 0) >= 0 {
			return fmt.Errorf("%w: body contains NUL and content-length is suppressed", ErrInvalidFormat)
		}
	} else {
		h.Set(ContentLength, strconv.Itoa(len(f.Body)))
	}

	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for _, e := range h.entries {
		if e.key == "" || strings.ContainsAny(e.key, ":\n") || strings.ContainsRune(e.value, '\n') {
			return fmt.Errorf("%w: bad header %q", ErrInvalidFormat, e.key)
		}
		buf.WriteString(e.key)
		buf.WriteByte(':')
		buf.WriteString(e.value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return nil
}
