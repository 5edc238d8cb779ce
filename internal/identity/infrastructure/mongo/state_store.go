package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var _ oauth.StateStore = (*StateStore)(nil)

type stateDocument struct {
	State     string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// StateStore keeps authorization states in oauth_states. A TTL index removes
// expired documents; Consume also checks expiry because the TTL monitor is lazy.
type StateStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewStateStore creates a state store on store.
func NewStateStore(store *mongodb.Store) *StateStore {
	return &StateStore{coll: store.Collection(mongodb.OAuthStates), now: time.Now}
}

// Put stores state for ttl.
func (s *StateStore) Put(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	doc := stateDocument{State: state, UserID: userID.String(), ExpiresAt: s.now().Add(ttl).UTC()}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// Consume deletes state with FindOneAndDelete and returns its user.
func (s *StateStore) Consume(ctx context.Context, state string) (uuid.UUID, error) {
	var doc stateDocument
	if err := s.coll.FindOneAndDelete(ctx, bson.M{"_id": state}).Decode(&doc); err != nil {
		if mongodb.IsNotFound(err) {
			return uuid.Nil, oauth.ErrStateNotFound
		}
		return uuid.Nil, fmt.Errorf("consume state: %w", err)
	}
	if !s.now().Before(doc.ExpiresAt) {
		return uuid.Nil, oauth.ErrStateNotFound
	}
	return uuid.Parse(doc.UserID)
}
