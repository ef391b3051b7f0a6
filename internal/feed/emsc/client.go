// Package emsc implements the feed.Source and quake.Normalizer for the
// EMSC SeismicPortal real-time WebSocket feed.
package emsc

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/unibosoft/quakefeed/internal/feed"
	"github.com/unibosoft/quakefeed/internal/quake"
)

const (
	// DefaultConnectTimeout bounds the WebSocket handshake.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultStalenessWindow is how long the client tolerates silence
	// before treating the connection as dead. The feed emits periodic
	// keep-alives, so a quiet socket is a fault, not an idle feed.
	DefaultStalenessWindow = 120 * time.Second
)

// Client is a WebSocket client for the SeismicPortal feed. It owns exactly
// one socket at a time; reconnect policy belongs to the caller.
type Client struct {
	endpoint        string
	connectTimeout  time.Duration
	stalenessWindow time.Duration
	logger          zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	closed bool
}

// Option configures the Client.
type Option func(*Client)

// WithConnectTimeout sets the WebSocket handshake timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithStalenessWindow sets how long Receive waits for a frame before the
// connection is considered stale.
func WithStalenessWindow(d time.Duration) Option {
	return func(c *Client) { c.stalenessWindow = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the given wss:// endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:        endpoint,
		connectTimeout:  DefaultConnectTimeout,
		stalenessWindow: DefaultStalenessWindow,
		logger:          zerolog.Nop(),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ feed.Source = (*Client)(nil)

// Connect dials the endpoint with the configured handshake timeout. Any
// existing connection is released first. A malformed endpoint is a
// *quake.ConfigError, not a retryable connection failure.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return &quake.ConfigError{Reason: fmt.Sprintf("invalid feed endpoint %q: %v", c.endpoint, err)}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return &quake.ConfigError{Reason: fmt.Sprintf("feed endpoint %q: scheme must be ws or wss", c.endpoint)}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return feed.ErrClosed
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, c.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &feed.ConnectionError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	if c.closed {
		// Close raced with the dial; release the fresh socket.
		c.mu.Unlock()
		_ = conn.Close()
		return feed.ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info().Str("endpoint", c.endpoint).Msg("feed connected")
	return nil
}

// Receive blocks until the next text frame arrives. A read that exceeds
// the staleness window fails with a *feed.ConnectionError so the caller
// reconnects instead of waiting on a dead socket. Context cancellation and
// Close both unblock a pending read promptly by closing the socket.
func (c *Client) Receive(ctx context.Context) (feed.Message, error) {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return feed.Message{}, feed.ErrClosed
	}
	if conn == nil {
		return feed.Message{}, &feed.ConnectionError{Op: "receive", Err: net.ErrClosed}
	}

	// Unblock the read if the context is cancelled mid-receive. The watch
	// goroutine is released via stop() on every return path.
	readDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-c.done:
			_ = conn.Close()
		case <-readDone:
		}
	}()
	stop := func() { close(readDone) }

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.stalenessWindow)); err != nil {
			stop()
			return feed.Message{}, c.receiveErr(ctx, conn, err)
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			stop()
			return feed.Message{}, c.receiveErr(ctx, conn, err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		stop()
		return feed.Message{Data: data, ReceivedAt: time.Now()}, nil
	}
}

// receiveErr maps a failed read to the right error, dropping the dead
// connection so the next Connect starts clean.
func (c *Client) receiveErr(ctx context.Context, conn *websocket.Conn, err error) error {
	c.mu.Lock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return feed.ErrClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.logger.Warn().Dur("window", c.stalenessWindow).Msg("feed silent past staleness window, tearing down")
	}
	return &feed.ConnectionError{Op: "receive", Err: err}
}

// Close releases the socket. A pending Receive returns promptly with
// feed.ErrClosed. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
