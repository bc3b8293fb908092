// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/absmach/stomp/frame"
	"github.com/stretchr/testify/require"
)

// received is a frame the test broker decoded, with the index of the
// connection it arrived on.
type received struct {
	conn int
	f    *frame.Frame
}

// testBroker is a minimal in-process STOMP broker. It answers CONNECT,
// routes SEND to subscribers (or queues it), holds transactional sends
// until COMMIT, and answers every receipt request.
type testBroker struct {
	t  *testing.T
	ln net.Listener

	mu      sync.Mutex
	conns   []*brokerConn
	subs    map[string]*brokerConn
	queued  map[string][]*frame.Frame
	txs     map[string][]*frame.Frame
	nextID  int
	reject  bool
	frames  chan received
	stopped bool
}

type brokerConn struct {
	idx int
	nc  net.Conn
	mu  sync.Mutex
	w   *frame.Writer
}

func (bc *brokerConn) send(f *frame.Frame) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.w.Write(f)
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &testBroker{
		t:      t,
		ln:     ln,
		subs:   make(map[string]*brokerConn),
		queued: make(map[string][]*frame.Frame),
		txs:    make(map[string][]*frame.Frame),
		frames: make(chan received, 1024),
	}
	go b.accept()
	t.Cleanup(b.stop)
	return b
}

func (b *testBroker) host(login, passcode string) HostSpec {
	addr := b.ln.Addr().(*net.TCPAddr)
	return HostSpec{Login: login, Passcode: passcode, Host: "127.0.0.1", Port: addr.Port}
}

func (b *testBroker) options() *Options {
	h := b.host("guest", "secret")
	return NewOptions(h.Login, h.Passcode, h.Host, h.Port).SetParseTimeout(time.Second)
}

func (b *testBroker) failoverOptions() *Options {
	return NewFailoverOptions(b.host("guest", "secret")).
		SetParseTimeout(time.Second).
		SetReconnectDelay(5*time.Millisecond, 50*time.Millisecond)
}

func (b *testBroker) accept() {
	for {
		nc, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		bc := &brokerConn{idx: len(b.conns), nc: nc, w: frame.NewWriter(nc)}
		b.conns = append(b.conns, bc)
		b.mu.Unlock()
		go b.serve(bc)
	}
}

func (b *testBroker) serve(bc *brokerConn) {
	defer bc.nc.Close()
	r := frame.NewReader(bc.nc, frame.WithClientCommands(), frame.WithParseTimeout(time.Second))
	for {
		f, err := r.Read()
		if err != nil {
			b.dropSubs(bc)
			return
		}
		select {
		case b.frames <- received{conn: bc.idx, f: f}:
		default:
		}

		switch f.Command {
		case frame.CONNECT:
			b.mu.Lock()
			reject := b.reject
			b.mu.Unlock()
			if reject {
				bc.send(frame.New(frame.ERROR, frame.Message, "access denied"))
				return
			}
			bc.send(frame.New(frame.CONNECTED, "session", strconv.Itoa(bc.idx)))
		case frame.SUBSCRIBE:
			b.subscribe(bc, f.Destination())
		case frame.UNSUBSCRIBE:
			b.mu.Lock()
			delete(b.subs, f.Destination())
			b.mu.Unlock()
		case frame.SEND:
			if tx := f.Get(frame.Transaction); tx != "" {
				b.mu.Lock()
				b.txs[tx] = append(b.txs[tx], f)
				b.mu.Unlock()
			} else {
				b.route(f)
			}
		case frame.COMMIT:
			b.mu.Lock()
			sends := b.txs[f.Get(frame.Transaction)]
			delete(b.txs, f.Get(frame.Transaction))
			b.mu.Unlock()
			for _, s := range sends {
				b.route(s)
			}
		case frame.ABORT:
			b.mu.Lock()
			delete(b.txs, f.Get(frame.Transaction))
			b.mu.Unlock()
		}

		if id := f.Get(frame.Receipt); id != "" {
			bc.send(frame.New(frame.RECEIPT, frame.ReceiptID, id))
		}
		if f.Command == frame.DISCONNECT {
			b.dropSubs(bc)
			return
		}
	}
}

func (b *testBroker) subscribe(bc *brokerConn, dest string) {
	b.mu.Lock()
	b.subs[dest] = bc
	pending := b.queued[dest]
	delete(b.queued, dest)
	b.mu.Unlock()

	for _, m := range pending {
		bc.send(m)
	}
}

func (b *testBroker) route(send *frame.Frame) {
	dest := send.Destination()
	msg := &frame.Frame{Command: frame.MESSAGE, Header: send.Header.Clone(), Body: send.Body}
	msg.Header.Del(frame.Transaction)
	msg.Header.Del(frame.Receipt)

	b.mu.Lock()
	b.nextID++
	msg.Header.Set(frame.MessageID, "msg-"+strconv.Itoa(b.nextID))
	bc, ok := b.subs[dest]
	if !ok {
		b.queued[dest] = append(b.queued[dest], msg)
	}
	b.mu.Unlock()

	if ok {
		bc.send(msg)
	}
}

func (b *testBroker) dropSubs(bc *brokerConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for dest, sub := range b.subs {
		if sub == bc {
			delete(b.subs, dest)
		}
	}
}

func (b *testBroker) setReject(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = reject
}

// kill drops every open client connection.
func (b *testBroker) kill() {
	b.mu.Lock()
	conns := append([]*brokerConn(nil), b.conns...)
	b.mu.Unlock()
	for _, bc := range conns {
		bc.nc.Close()
	}
}

func (b *testBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *testBroker) stop() {
	b.mu.Lock()
	stopped := b.stopped
	b.stopped = true
	b.mu.Unlock()
	if stopped {
		return
	}
	b.ln.Close()
	b.kill()
}

// expect returns the next received frame with the given command, skipping
// other commands.
func (b *testBroker) expect(command string) received {
	b.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case r := <-b.frames:
			if r.f.Command == command {
				return r
			}
		case <-timeout:
			b.t.Fatalf("broker did not receive %s", command)
			return received{}
		}
	}
}

// next returns the next received frame, whatever its command.
func (b *testBroker) next() received {
	b.t.Helper()
	select {
	case r := <-b.frames:
		return r
	case <-time.After(2 * time.Second):
		b.t.Fatal("broker received no frame")
		return received{}
	}
}
