package quake

import "time"

// ConnStatus is the inner connection status of a feed pipeline. It is
// distinct from the controller's outer lifecycle state: a reconnecting
// feed is still Running from the controller's point of view.
type ConnStatus string

const (
	ConnStopped      ConnStatus = "stopped"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnReconnecting ConnStatus = "reconnecting"
	ConnFailed       ConnStatus = "failed"
)

// ConnectionState is a snapshot of a feed connection, published to the
// fan-out group on every transition so dashboards can show reconnects.
type ConnectionState struct {
	Provider         string     `json:"provider"`
	Status           ConnStatus `json:"status"`
	LastError        string     `json:"last_error,omitempty"`
	ReconnectAttempt int        `json:"reconnect_attempt"`
	LastMessageAt    time.Time  `json:"last_message_at,omitempty"`
}
