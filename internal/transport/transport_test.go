package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/swarmling/swarmling/internal/message"
)

// fakeSocket feeds canned inbound frames and captures outbound ones.
type fakeSocket struct {
	mu       sync.Mutex
	dialErr  error
	dialed   string
	sent     []zmq4.Msg
	inbound  chan zmq4.Msg
	closed   chan struct{}
	closeOne sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan zmq4.Msg, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeSocket) Dial(ep string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = ep
	return f.dialErr
}

func (f *fakeSocket) Send(msg zmq4.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSocket) Recv() (zmq4.Msg, error) {
	select {
	case m := <-f.inbound:
		return m, nil
	case <-f.closed:
		return zmq4.Msg{}, errors.New("socket closed")
	}
}

func (f *fakeSocket) Close() error {
	f.closeOne.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) sentTypes(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.sent))
	for _, raw := range f.sent {
		m, err := message.Unmarshal(raw.Frames[0])
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		types = append(types, m.Type)
	}
	return types
}

func newTestLink(t *testing.T, sock *fakeSocket, cfg Config) *Link {
	t.Helper()
	cfg.MasterHost = "127.0.0.1"
	cfg.MasterPort = 5557
	cfg.NodeID = "node-test"
	cfg.newSocket = func(ctx context.Context, identity string) socket { return sock }
	l := New(cfg)
	t.Cleanup(func() { l.Dispose() })
	return l
}

func TestInitializeInvokesOnConnected(t *testing.T) {
	sock := newFakeSocket()
	connected := make(chan struct{}, 1)
	l := newTestLink(t, sock, Config{OnConnected: func() { connected <- struct{}{} }})

	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	select {
	case <-connected:
	default:
		t.Error("OnConnected not invoked")
	}
	if sock.dialed != "tcp://127.0.0.1:5557" {
		t.Errorf("dialed %q", sock.dialed)
	}
}

func TestInitializeDialFailure(t *testing.T) {
	sock := newFakeSocket()
	sock.dialErr = errors.New("connection refused")
	l := newTestLink(t, sock, Config{})

	if err := l.Initialize(); err == nil {
		t.Error("expected dial error")
	}
}

func TestSendDeliversInOrder(t *testing.T) {
	sock := newFakeSocket()
	l := newTestLink(t, sock, Config{})
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for _, typ := range []string{message.TypeClientReady, message.TypeHatching, message.TypeStats} {
		if err := l.Send(message.New(typ, nil, "node-test")); err != nil {
			t.Fatalf("Send(%s) failed: %v", typ, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sock.sentTypes(t)) == 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	got := sock.sentTypes(t)
	want := []string{message.TypeClientReady, message.TypeHatching, message.TypeStats}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendBufferFull(t *testing.T) {
	sock := newFakeSocket()
	l := newTestLink(t, sock, Config{SendBufferSize: 2})
	// Not initialized: no send loop drains the queue.

	if err := l.Send(message.New(message.TypeStats, nil, "n")); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := l.Send(message.New(message.TypeStats, nil, "n")); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if err := l.Send(message.New(message.TypeStats, nil, "n")); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("third Send = %v, want ErrSendBufferFull", err)
	}
}

func TestInboundFramesDispatchSequentially(t *testing.T) {
	sock := newFakeSocket()

	var mu sync.Mutex
	var got []string
	inCallback := false
	l := newTestLink(t, sock, Config{OnMessage: func(m *message.Message) {
		mu.Lock()
		if inCallback {
			t.Error("concurrent OnMessage invocation")
		}
		inCallback = true
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		got = append(got, m.Type)
		inCallback = false
		mu.Unlock()
	}})
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for _, typ := range []string{message.TypeHatch, message.TypeStop, message.TypeQuit} {
		b, err := message.Marshal(message.New(typ, nil, ""))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		sock.inbound <- zmq4.NewMsg(b)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{message.TypeHatch, message.TypeStop, message.TypeQuit}
	if len(got) != 3 {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUndecodableInboundFrameIsSkipped(t *testing.T) {
	sock := newFakeSocket()

	received := make(chan string, 1)
	l := newTestLink(t, sock, Config{OnMessage: func(m *message.Message) { received <- m.Type }})
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	sock.inbound <- zmq4.NewMsg([]byte{0xc1}) // invalid msgpack
	b, _ := message.Marshal(message.New(message.TypeStop, nil, ""))
	sock.inbound <- zmq4.NewMsg(b)

	select {
	case typ := <-received:
		if typ != message.TypeStop {
			t.Errorf("got %q, want stop", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after garbage never dispatched")
	}
}

func TestDisposeIdempotentAndSendAfterDispose(t *testing.T) {
	sock := newFakeSocket()
	l := newTestLink(t, sock, Config{})
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := l.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if err := l.Dispose(); err != nil {
		t.Fatalf("second Dispose failed: %v", err)
	}

	if err := l.Send(message.New(message.TypeStats, nil, "n")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Dispose = %v, want ErrClosed", err)
	}
}
