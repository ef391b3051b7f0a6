package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/unibosoft/quakefeed/internal/quake"
)

const defaultCollection = "earthquakes"

// FirestoreConfig holds connection settings for the Firestore-backed store.
type FirestoreConfig struct {
	ProjectID   string // GCP project ID (required)
	Database    string // database name, defaults to "(default)"
	Credentials string // path to a service account JSON file (optional)
	Collection  string // collection name, defaults to "earthquakes"
}

// FirestoreStore persists events in a Firestore collection, one document
// per (provider, source_id) key. Document create is the atomic
// insert-if-absent primitive: Firestore rejects a second create of the
// same document with AlreadyExists.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

var _ EventStore = (*FirestoreStore)(nil)

// NewFirestoreStore creates the store. With FIRESTORE_EMULATOR_HOST set,
// the client talks to the emulator and credentials are ignored.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig, logger zerolog.Logger) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, &quake.ConfigError{Reason: "store: projectID is required"}
	}

	var opts []option.ClientOption
	if cfg.Credentials != "" && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}

	database := cfg.Database
	if database == "" {
		database = "(default)"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// UpsertIfNew creates the event document keyed by quake.Event.Key. When a
// concurrent or earlier write already created it, the existing record is
// fetched and returned unchanged.
func (s *FirestoreStore) UpsertIfNew(ctx context.Context, e *quake.Event) (bool, *quake.Event, error) {
	doc := s.client.Collection(s.collection).Doc(e.Key())

	if _, err := doc.Create(ctx, e); err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return false, nil, &quake.PersistenceError{Key: e.Key(), Err: err}
		}
		snap, err := doc.Get(ctx)
		if err != nil {
			return false, nil, &quake.PersistenceError{Key: e.Key(), Err: err}
		}
		var existing quake.Event
		if err := snap.DataTo(&existing); err != nil {
			return false, nil, &quake.PersistenceError{Key: e.Key(), Err: err}
		}
		return false, &existing, nil
	}

	return true, e, nil
}

// QueryRecent returns events whose occurred_at falls inside the window,
// newest first.
func (s *FirestoreStore) QueryRecent(ctx context.Context, window time.Duration) ([]quake.Event, error) {
	cutoff := time.Now().Add(-window)
	iter := s.client.Collection(s.collection).
		Where("occurredAt", ">=", cutoff).
		OrderBy("occurredAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var events []quake.Event
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &quake.PersistenceError{Key: "query_recent", Err: err}
		}
		var e quake.Event
		if err := snap.DataTo(&e); err != nil {
			s.logger.Warn().Err(err).Str("doc", snap.Ref.ID).Msg("skipping undecodable event document")
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
