package emsc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unibosoft/quakefeed/internal/feed"
	"github.com/unibosoft/quakefeed/internal/quake"
)

func newMockWSServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_ConnectAndReceive(t *testing.T) {
	payload := frame(nil)
	server := newMockWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(wsURL(server))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	msg, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(msg.Data) != string(payload) {
		t.Errorf("Receive() data = %q, want %q", msg.Data, payload)
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be set")
	}
}

// Binary frames are not part of the feed protocol and must be skipped, not
// surfaced to the pipeline.
func TestClient_Receive_SkipsBinaryFrames(t *testing.T) {
	payload := frame(nil)
	server := newMockWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(wsURL(server))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	msg, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(msg.Data) != string(payload) {
		t.Errorf("Receive() data = %q, want the text frame", msg.Data)
	}
}

func TestClient_Connect_InvalidEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "http scheme", endpoint: "http://example.com/ws"},
		{name: "no scheme", endpoint: "example.com/ws"},
		{name: "garbage", endpoint: "://nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.endpoint)
			err := client.Connect(context.Background())

			var cfgErr *quake.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Connect() error = %v, want *quake.ConfigError", err)
			}
		})
	}
}

func TestClient_Connect_Unreachable(t *testing.T) {
	// Grab a port nothing is listening on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := wsURL(server)
	server.Close()

	client := NewClient(endpoint, WithConnectTimeout(500*time.Millisecond))
	err := client.Connect(context.Background())

	var connErr *feed.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *feed.ConnectionError", err)
	}
}

func TestClient_Receive_ServerClosed(t *testing.T) {
	server := newMockWSServer(t, func(conn *websocket.Conn) {
		// Close immediately.
	})
	defer server.Close()

	client := NewClient(wsURL(server))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, err := client.Receive(ctx)
	var connErr *feed.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Receive() error = %v, want *feed.ConnectionError", err)
	}
}

// A silent connection must fail once the staleness window elapses, so the
// caller reconnects instead of trusting a dead socket.
func TestClient_Receive_StaleConnection(t *testing.T) {
	server := newMockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	client := NewClient(wsURL(server), WithStalenessWindow(200*time.Millisecond))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	start := time.Now()
	_, err := client.Receive(ctx)
	elapsed := time.Since(start)

	var connErr *feed.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Receive() error = %v, want *feed.ConnectionError", err)
	}
	if elapsed > time.Second {
		t.Errorf("Receive() took %v, should fail around the 200ms staleness window", elapsed)
	}
}

func TestClient_Receive_ContextCancelled(t *testing.T) {
	server := newMockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	client := NewClient(wsURL(server))
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := client.Receive(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Receive() error = %v, want context.Canceled", err)
	}
}

func TestClient_Close(t *testing.T) {
	server := newMockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	client := NewClient(wsURL(server))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Close while a Receive is pending; it must return promptly.
	received := make(chan error, 1)
	go func() {
		_, err := client.Receive(context.Background())
		received <- err
	}()
	time.Sleep(100 * time.Millisecond)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	select {
	case err := <-received:
		if !errors.Is(err, feed.ErrClosed) {
			t.Errorf("pending Receive() error = %v, want feed.ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending Receive() did not return after Close()")
	}

	// Close is idempotent.
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	// Everything after Close fails fast.
	if err := client.Connect(context.Background()); !errors.Is(err, feed.ErrClosed) {
		t.Errorf("Connect() after Close = %v, want feed.ErrClosed", err)
	}
	if _, err := client.Receive(context.Background()); !errors.Is(err, feed.ErrClosed) {
		t.Errorf("Receive() after Close = %v, want feed.ErrClosed", err)
	}
}
