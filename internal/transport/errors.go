package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNoIdentity       = errors.New("transport: no identity")
	ErrTimeout          = errors.New("transport: timed out waiting for connection")
	ErrCanceled         = errors.New("transport: connection canceled")
	ErrClosed           = errors.New("transport: connection closed")
	ErrProtocol         = errors.New("transport: protocol error")
	ErrNotConnected     = errors.New("transport: not connected")
	ErrMalformedMessage = errors.New("transport: malformed message")
)

// ConnectionError reports a failed handshake or a broken socket.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
