package transport

import (
	"context"
	"sync"
)

// Handshake is the shared outcome of one connection attempt. Every caller
// waiting on it sees the same result.
type Handshake struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandshake() *Handshake {
	return &Handshake{done: make(chan struct{})}
}

// SettledHandshake returns a handshake that has already finished with err.
func SettledHandshake(err error) *Handshake {
	h := newHandshake()
	h.settle(err)
	return h
}

func (h *Handshake) settle(err error) bool {
	settled := false
	h.once.Do(func() {
		h.err = err
		close(h.done)
		settled = true
	})
	return settled
}

func (h *Handshake) Done() <-chan struct{} { return h.done }

// Err is nil until the handshake settles.
func (h *Handshake) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handshake) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
