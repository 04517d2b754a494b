package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by sends while the channel is not connected.
	ErrNotConnected = errors.New("control channel not connected")
	// ErrBackpressure is returned when the transport cannot take a write right now.
	ErrBackpressure = errors.New("transport busy, command dropped")
	// ErrConnectTimeout marks a connection attempt that did not complete in time.
	ErrConnectTimeout = errors.New("connection attempt timed out")
	// ErrExhaustedRetries marks a channel that gave up reconnecting.
	ErrExhaustedRetries = errors.New("connection retries exhausted")
	// ErrAlreadyOpen is returned by Open on a channel that is not idle.
	ErrAlreadyOpen = errors.New("channel already open")
	// ErrStaleFrame marks a frame whose sequence is not newer than the last committed one.
	ErrStaleFrame = errors.New("stale frame")
	// ErrEmptyFrame marks a frame without payload.
	ErrEmptyFrame = errors.New("empty frame payload")
	// ErrInvalidEndpoint marks an endpoint that cannot be dialed.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrClosed is returned by operations on a closed transport or source.
	ErrClosed = errors.New("closed")
)

// EndpointError describes why an endpoint was rejected.
type EndpointError struct {
	Endpoint Endpoint
	Reason   string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("invalid endpoint %q: %s", e.Endpoint.Address(), e.Reason)
}

func (e *EndpointError) Unwrap() error { return ErrInvalidEndpoint }
func (e *EndpointError) Cause() error  { return ErrInvalidEndpoint }

// ConnectError is a failed connection attempt: handshake failure,
// unreachable host or timeout.
type ConnectError struct {
	Endpoint Endpoint
	Attempt  int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (attempt %d): %v", e.Endpoint.Address(), e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
func (e *ConnectError) Cause() error  { return e.Err }

// SendError is a transient failure to emit a command. It is never retried;
// the next pacing tick carries a fresher value.
type SendError struct {
	Kind Kind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
func (e *SendError) Cause() error  { return e.Err }

// DecodeError is a single malformed frame. The stream continues.
type DecodeError struct {
	Sequence uint64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %d: %v", e.Sequence, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
func (e *DecodeError) Cause() error  { return e.Err }
