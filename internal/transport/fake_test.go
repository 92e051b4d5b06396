package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/require"
)

// fakeSocket answers CONNECT by itself and records every frame written.
type fakeSocket struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	// reject, when set, is sent back as an ERROR frame instead of CONNECTED.
	reject string

	mu     sync.Mutex
	frames []*frame.Frame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(ctx context.Context, data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	frames, err := decodeFrames(data)
	if err != nil {
		return err
	}
	for _, f := range frames {
		s.mu.Lock()
		s.frames = append(s.frames, f)
		s.mu.Unlock()
		if f.Command == frame.CONNECT {
			if s.reject != "" {
				s.push(frame.New(frame.ERROR, frame.Message, s.reject))
			} else {
				s.push(frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, "0,0"))
			}
		}
	}
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) push(f *frame.Frame) {
	data, err := encodeFrame(f)
	if err != nil {
		panic(err)
	}
	s.in <- data
}

func (s *fakeSocket) pushRaw(data string) { s.in <- []byte(data) }

func (s *fakeSocket) written(command string) []*frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*frame.Frame
	for _, f := range s.frames {
		if f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	endpoints []string
	socks     []*fakeSocket

	gate   chan struct{}
	reject string
	fail   error
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	d.mu.Lock()
	d.dials++
	d.endpoints = append(d.endpoints, endpoint)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fail != nil {
		return nil, d.fail
	}

	s := newFakeSocket()
	s.reject = d.reject
	d.mu.Lock()
	d.socks = append(d.socks, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.socks) {
		return nil
	}
	return d.socks[i]
}

func (d *fakeDialer) lastEndpoint() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.endpoints) == 0 {
		return ""
	}
	return d.endpoints[len(d.endpoints)-1]
}

func waitHandshake(t *testing.T, hs *Handshake, within time.Duration) error {
	t.Helper()
	select {
	case <-hs.Done():
		return hs.Err()
	case <-time.After(within):
		t.Fatalf("handshake did not settle within %v", within)
		return errors.New("unreachable")
	}
}

func recvValue[T any](t *testing.T, ch <-chan T, within time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		var zero T
		t.Fatalf("expected a value within %v", within)
		return zero
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, within time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(within):
	}
}

func requireEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
