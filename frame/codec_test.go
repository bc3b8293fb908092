// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, f *Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(f))
	return buf.Bytes()
}

func TestEncode(t *testing.T) {
	f := New(SEND, Destination, "/queue/a", "b", "2")
	f.Body = []byte("hello")

	got := encode(t, f)
	assert.Equal(t, "SEND\ndestination:/queue/a\nb:2\ncontent-length:5\n\nhello\x00", string(got))
	assert.False(t, f.Header.Contains(ContentLength), "encoding must not mutate the frame")
}

func TestEncodeOverwritesStaleContentLength(t *testing.T) {
	f := New(SEND, ContentLength, "99", Destination, "/queue/a")
	f.Body = []byte("abc")

	got := encode(t, f)
	assert.Equal(t, "SEND\ncontent-length:3\ndestination:/queue/a\n\nabc\x00", string(got))
}

func TestEncodeSuppressContentLength(t *testing.T) {
	f := New(SEND, Destination, "/queue/a", SuppressContentLength, "true", ContentLength, "5")
	f.Body = []byte("hello")

	got := encode(t, f)
	assert.Equal(t, "SEND\ndestination:/queue/a\n\nhello\x00", string(got))
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"empty command", &Frame{}},
		{"newline in value", New(SEND, Destination, "a\nb")},
		{"colon in key", New(SEND, "a:b", "c")},
		{"NUL body without content-length", &Frame{Command: SEND, Header: NewHeader(SuppressContentLength, "true"), Body: []byte{'a', 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewWriter(&buf).Write(tt.frame)
			assert.ErrorIs(t, err, ErrInvalidFormat)
			assert.Equal(t, 0, buf.Len())
		})
	}
}

func TestRoundTripBinaryBody(t *testing.T) {
	body := make([]byte, 0, 512)
	for i := 0; i < 256; i++ {
		body = append(body, byte(i))
	}
	body = append(body, "\n\n\x00\x00\n"...)

	f := New(MESSAGE, Destination, "/queue/bin", MessageID, "m-1")
	f.Body = body

	got, err := NewReader(bytes.NewReader(encode(t, f))).Read()
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
	assert.Equal(t, "/queue/bin", got.Destination())
	assert.Equal(t, fmt.Sprint(len(body)), got.Get(ContentLength))
	assert.Equal(t, []string{Destination, MessageID, ContentLength}, got.Header.Keys())
}

func TestRoundTripSingleBytes(t *testing.T) {
	var stream bytes.Buffer
	w := NewWriter(&stream)
	for i := 0; i < 256; i++ {
		require.NoError(t, w.Write(&Frame{Command: MESSAGE, Header: NewHeader(), Body: []byte{byte(i)}}))
	}

	r := NewReader(&stream)
	for i := 0; i < 256; i++ {
		f, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, f.Body)
	}
	_, err := r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEmbeddedNulBodiesInSequence(t *testing.T) {
	var stream bytes.Buffer
	w := NewWriter(&stream)
	require.NoError(t, w.Write(&Frame{Command: MESSAGE, Header: NewHeader(), Body: []byte("a\x00")}))
	require.NoError(t, w.Write(&Frame{Command: MESSAGE, Header: NewHeader(), Body: []byte("b\x00")}))

	r := NewReader(&stream)
	first, err := r.Read()
	require.NoError(t, err)
	second, err := r.Read()
	require.NoError(t, err)

	assert.Equal(t, []byte("a\x00"), first.Body)
	assert.Equal(t, []byte("b\x00"), second.Body)
}

func TestReadWithoutContentLengthStopsAtFirstNul(t *testing.T) {
	r := NewReader(strings.NewReader("MESSAGE\nh:v\n\nab\x00cd\x00"))
	f, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), f.Body)
	assert.False(t, f.Header.Contains(ContentLength))
}

func TestReadHeaders(t *testing.T) {
	in := "MESSAGE\nk:1\nurl:tcp://host:61613\nk:2\nempty:\n\n\x00"
	f, err := NewReader(strings.NewReader(in)).Read()
	require.NoError(t, err)

	assert.Equal(t, "2", f.Get("k"), "last write wins")
	assert.Equal(t, "tcp://host:61613", f.Get("url"), "colons belong to the value")
	assert.True(t, f.Header.Contains("empty"))
	assert.Equal(t, []string{"k", "url", "empty"}, f.Header.Keys())
	assert.Empty(t, f.Body)
}

func TestReadToleratesCRLF(t *testing.T) {
	in := "RECEIPT\r\nreceipt-id:7\r\n\r\n\x00"
	f, err := NewReader(strings.NewReader(in)).Read()
	require.NoError(t, err)
	assert.Equal(t, RECEIPT, f.Command)
	assert.Equal(t, "7", f.Get(ReceiptID))
}

func TestReadSkipsNewlinesBetweenFrames(t *testing.T) {
	in := "\nMESSAGE\n\nx\x00\n\n\nRECEIPT\nreceipt-id:1\n\n\x00\n"
	r := NewReader(strings.NewReader(in))

	f, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, MESSAGE, f.Command)
	assert.Equal(t, []byte("x"), f.Body)

	f, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, RECEIPT, f.Command)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"no newline", "junk", ErrInvalidFormat},
		{"unterminated headers", "command\njunk", ErrInvalidFormat},
		{"missing terminator", "MESSAGE\nh:v\n\njunk", ErrInvalidFormat},
		{"unknown command", "junkcommand\nheaders\n\njunk\x00\n\n", ErrInvalidServerCommand},
		{"client command", "SEND\ndestination:/queue/a\n\n\x00", ErrInvalidServerCommand},
		{"header without colon", "ERROR\nbadheaders\n\njunk\x00\n\n", ErrInvalidFormat},
		{"length mismatch", "MESSAGE\ncontent-length:2\n\nabc\x00", ErrInvalidMessageLength},
		{"short body", "MESSAGE\ncontent-length:10\n\nabc", ErrInvalidFormat},
		{"bad length", "MESSAGE\ncontent-length:x\n\nabc\x00", ErrInvalidFormat},
		{"huge length", "MESSAGE\ncontent-length:9223372036854775807\n\nx\x00", ErrInvalidMessageLength},
		{"length overflows int", "MESSAGE\ncontent-length:99999999999999999999\n\nx\x00", ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.in)).Read()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsProtocolError(err))
		})
	}
}

func TestReadMaxBodySize(t *testing.T) {
	sized := "MESSAGE\ncontent-length:5\n\nhello\x00"
	unsized := "MESSAGE\n\nhello\x00"

	for _, in := range []string{sized, unsized} {
		_, err := NewReader(strings.NewReader(in), WithMaxBodySize(4)).Read()
		assert.ErrorIs(t, err, ErrInvalidMessageLength)

		f, err := NewReader(strings.NewReader(in), WithMaxBodySize(5)).Read()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(f.Body))

		f, err = NewReader(strings.NewReader(in), WithMaxBodySize(0)).Read()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(f.Body))
	}

	// Longer than the bufio buffer, so the terminator search spans chunks.
	big := strings.Repeat("x", 10000)
	f, err := NewReader(strings.NewReader("MESSAGE\n\n"+big+"\x00")).Read()
	require.NoError(t, err)
	assert.Equal(t, big, string(f.Body))

	_, err = NewReader(strings.NewReader("MESSAGE\n\n"+big+"\x00"), WithMaxBodySize(6000)).Read()
	assert.ErrorIs(t, err, ErrInvalidMessageLength)
}

func TestReadAcceptsServerFrames(t *testing.T) {
	for _, in := range []string{
		"CONNECTED\nh1:val1\n\njunk\x00\n",
		"MESSAGE\nh1:val1\n\njunk\x00\n",
		"MESSAGE\nh2:val2\n\n\x00",
		"RECEIPT\nh1:val1\n\njunk\x00\n",
		"ERROR\nh1:val1\n\njunk\x00\n",
	} {
		_, err := NewReader(strings.NewReader(in)).Read()
		assert.NoError(t, err, in)
	}
}

func TestReadClientCommands(t *testing.T) {
	in := "SEND\ndestination:/queue/a\n\nhi\x00"
	f, err := NewReader(strings.NewReader(in), WithClientCommands()).Read()
	require.NoError(t, err)
	assert.Equal(t, SEND, f.Command)

	_, err = NewReader(strings.NewReader("MESSAGE\n\n\x00"), WithClientCommands()).Read()
	assert.ErrorIs(t, err, ErrInvalidServerCommand)
}

func TestReadCleanEOF(t *testing.T) {
	_, err := NewReader(strings.NewReader("")).Read()
	assert.True(t, errors.Is(err, io.EOF))
	assert.False(t, IsProtocolError(err))
}

func TestReadParseTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("MESSAGE\ndestination:/queue/a\n"))
	}()

	r := NewReader(client, WithParseTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := r.Read()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseTimeout)
	assert.True(t, IsProtocolError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReadFirstLineIsNotBounded(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		server.Write([]byte("RECEIPT\nreceipt-id:1\n\n\x00"))
	}()

	f, err := NewReader(client, WithParseTimeout(20*time.Millisecond)).Read()
	require.NoError(t, err)
	assert.Equal(t, "1", f.Get(ReceiptID))
}
