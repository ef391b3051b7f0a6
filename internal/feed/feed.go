// Package feed defines the contract between the lifecycle controller and
// provider-specific feed clients.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Receive after Close has been called.
var ErrClosed = errors.New("feed: client closed")

// ConnectionError is a transient connect or receive failure. The controller
// retries it with backoff; it is never fatal.
type ConnectionError struct {
	Op  string // "connect" or "receive"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Message is one raw frame from a feed, before normalization.
type Message struct {
	Data       []byte
	ReceivedAt time.Time
}

// Source is one logical connection to an external feed. Implementations
// own the socket; the caller owns reconnect policy.
//
// Connect establishes the connection with a bounded timeout and returns a
// *ConnectionError on refusal or timeout. Receive blocks until the next
// frame, returning *ConnectionError when the connection is lost and
// ErrClosed after Close. Close releases the socket even while a Receive is
// in flight, and is safe to call more than once.
type Source interface {
	Connect(ctx context.Context) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}
