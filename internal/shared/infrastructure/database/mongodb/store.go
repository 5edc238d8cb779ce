// Package mongodb connects to the MongoDB document store and owns its indexes.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	Users          = "users"
	BusyBlocks     = "busy_blocks"
	CalendarEvents = "calendar_events"
	OAuthStates    = "oauth_states"
	Outbox         = "outbox_messages"
	Locks          = "locks"
)

// DefaultDatabase is used when the URI and config name no database.
const DefaultDatabase = "blade"

// Store wraps a connected client and the database the app uses.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if dbName == "" {
		dbName = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Database returns the application database.
func (s *Store) Database() *mongo.Database { return s.db }

// Collection returns the named collection.
func (s *Store) Collection(name string) *mongo.Collection { return s.db.Collection(name) }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// EnsureIndexes creates the unique and TTL indexes the repositories rely on.
// It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("users_email_key")},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true).SetName("users_name_key")},
		},
		BusyBlocks: {
			{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "source", Value: 1}}, Options: options.Index().SetName("busy_blocks_owner_source_idx")},
			{Keys: bson.D{{Key: "date", Value: 1}}, Options: options.Index().SetName("busy_blocks_date_idx")},
		},
		CalendarEvents: {
			{Keys: bson.D{{Key: "providerId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("calendar_events_provider_key")},
			{Keys: bson.D{{Key: "calendarId", Value: 1}, {Key: "start", Value: 1}}, Options: options.Index().SetName("calendar_events_calendar_idx")},
		},
		OAuthStates: {
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("oauth_states_ttl")},
		},
		Outbox: {
			{Keys: bson.D{{Key: "publishedAt", Value: 1}, {Key: "deadLetteredAt", Value: 1}, {Key: "createdAt", Value: 1}}, Options: options.Index().SetName("outbox_pending_idx")},
		},
	}
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// IsNotFound reports whether err means no document matched.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// DatabaseFromURI returns the database named in the URI path, if any.
func DatabaseFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "mongodb://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "mongodb+srv://")
	}
	if !ok {
		return ""
	}
	_, path, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	name, _, _ := strings.Cut(path, "?")
	return name
}
