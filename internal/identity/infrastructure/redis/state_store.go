// Package redis keeps OAuth authorization states in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "blade:oauth_state:"

var _ oauth.StateStore = (*StateStore)(nil)

// StateStore stores each state as a key that expires with its TTL.
type StateStore struct {
	client goredis.UniversalClient
}

// NewStateStore creates a state store on client.
func NewStateStore(client goredis.UniversalClient) *StateStore {
	return &StateStore{client: client}
}

// Put stores state for ttl. An existing key is never overwritten.
func (s *StateStore) Put(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, keyPrefix+state, userID.String(), ttl).Result()
	if err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	if !ok {
		return errors.New("state already exists")
	}
	return nil
}

// Consume reads and deletes state in one GETDEL.
func (s *StateStore) Consume(ctx context.Context, state string) (uuid.UUID, error) {
	value, err := s.client.GetDel(ctx, keyPrefix+state).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return uuid.Nil, oauth.ErrStateNotFound
		}
		return uuid.Nil, fmt.Errorf("consume state: %w", err)
	}
	return uuid.Parse(value)
}
