// Package store is the persistence gateway for normalized events.
package store

import (
	"context"
	"time"

	"github.com/unibosoft/quakefeed/internal/quake"
)

// EventStore is the durable side of the pipeline. Implementations own the
// atomicity of UpsertIfNew: concurrent calls for the same key must yield
// exactly one stored record.
type EventStore interface {
	// UpsertIfNew inserts the event unless its (provider, source_id) key
	// already exists. It returns (false, existing, nil) when the key was
	// already present.
	UpsertIfNew(ctx context.Context, e *quake.Event) (stored bool, record *quake.Event, err error)

	// QueryRecent returns events with occurred_at inside the window,
	// newest first. Used to seed the dedup cache on startup so dedup
	// state survives process restarts.
	QueryRecent(ctx context.Context, window time.Duration) ([]quake.Event, error)

	// Close releases any resources held by the store.
	Close() error
}
