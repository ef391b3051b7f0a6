package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unibosoft/quakefeed/internal/quake"
)

func TestNewFirestoreStore_EmptyProjectID(t *testing.T) {
	_, err := NewFirestoreStore(context.Background(), FirestoreConfig{}, zerolog.Nop())
	if err == nil {
		t.Fatal("NewFirestoreStore() should fail for empty project ID")
	}
	var cfgErr *quake.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("error = %T, want *quake.ConfigError", err)
	}
}

func TestFirestoreStore_Close_NilClient(t *testing.T) {
	s := &FirestoreStore{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() with nil client = %v, want nil", err)
	}
}

// newEmulatorStore connects to the Firestore emulator, skipping when
// FIRESTORE_EMULATOR_HOST is not set. Each call uses a fresh collection so
// tests do not see each other's documents.
func newEmulatorStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping emulator test")
	}

	s, err := NewFirestoreStore(context.Background(), FirestoreConfig{
		ProjectID:  "quakefeed-test",
		Collection: fmt.Sprintf("earthquakes-%d", time.Now().UnixNano()),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFirestoreStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFirestoreStore_UpsertIfNew(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()

	e := storedEvent("e1", time.Now().UTC().Truncate(time.Millisecond))
	stored, record, err := s.UpsertIfNew(ctx, e)
	if err != nil {
		t.Fatalf("UpsertIfNew() error = %v", err)
	}
	if !stored {
		t.Fatal("first insert should report stored")
	}
	if record.SourceID != "e1" {
		t.Errorf("record.SourceID = %q, want e1", record.SourceID)
	}

	// Redelivery: Create fails with AlreadyExists, the original comes back.
	again := storedEvent("e1", time.Now())
	again.Magnitude = 9.9
	stored, record, err = s.UpsertIfNew(ctx, again)
	if err != nil {
		t.Fatalf("UpsertIfNew() redelivery error = %v", err)
	}
	if stored {
		t.Error("redelivery should not store")
	}
	if record.Magnitude != 4.2 {
		t.Errorf("record.Magnitude = %v, want the original 4.2", record.Magnitude)
	}
}

func TestFirestoreStore_QueryRecent(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, e := range []*quake.Event{
		storedEvent("recent", now.Add(-time.Hour)),
		storedEvent("older", now.Add(-12*time.Hour)),
		storedEvent("ancient", now.Add(-48*time.Hour)),
	} {
		if _, _, err := s.UpsertIfNew(ctx, e); err != nil {
			t.Fatalf("UpsertIfNew() error = %v", err)
		}
	}

	events, err := s.QueryRecent(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("QueryRecent() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("QueryRecent() returned %d events, want 2", len(events))
	}
	if events[0].SourceID != "recent" || events[1].SourceID != "older" {
		t.Errorf("order = [%s, %s], want [recent, older]", events[0].SourceID, events[1].SourceID)
	}
}
