package oauth_test

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

type memoryCredentials struct {
	mu    sync.Mutex
	items map[uuid.UUID]oauth.StoredCredential
	saves int
}

func newMemoryCredentials() *memoryCredentials {
	return &memoryCredentials{items: make(map[uuid.UUID]oauth.StoredCredential)}
}

func (m *memoryCredentials) Get(_ context.Context, userID uuid.UUID) (*oauth.StoredCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.items[userID]
	if !ok {
		return nil, oauth.ErrCredentialNotFound
	}
	return &cred, nil
}

func (m *memoryCredentials) Save(_ context.Context, cred oauth.StoredCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[cred.UserID] = cred
	m.saves++
	return nil
}

func (m *memoryCredentials) UpdateRefreshed(_ context.Context, cred oauth.StoredCredential, expectedRefresh []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[cred.UserID]
	if !ok || !bytes.Equal(current.RefreshToken, expectedRefresh) {
		return false, nil
	}
	m.items[cred.UserID] = cred
	m.saves++
	return true, nil
}

func (m *memoryCredentials) Delete(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[userID]; !ok {
		return oauth.ErrCredentialNotFound
	}
	delete(m.items, userID)
	return nil
}

func (m *memoryCredentials) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memoryStates struct {
	mu    sync.Mutex
	items map[string]uuid.UUID
}

func newMemoryStates() *memoryStates {
	return &memoryStates{items: make(map[string]uuid.UUID)}
}

func (m *memoryStates) Put(_ context.Context, state string, userID uuid.UUID, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[state] = userID
	return nil
}

func (m *memoryStates) Consume(_ context.Context, state string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.items[state]
	if !ok {
		return uuid.Nil, oauth.ErrStateNotFound
	}
	delete(m.items, state)
	return userID, nil
}

type memoryOutbox struct {
	mu   sync.Mutex
	msgs []*outbox.Message
}

func (m *memoryOutbox) SaveBatch(_ context.Context, msgs []*outbox.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memoryOutbox) FetchPending(context.Context, int, time.Time) ([]*outbox.Message, error) {
	return nil, nil
}

func (m *memoryOutbox) MarkPublished(context.Context, uuid.UUID, time.Time) error { return nil }

func (m *memoryOutbox) MarkFailed(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (m *memoryOutbox) MarkDead(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (m *memoryOutbox) PurgePublished(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memoryOutbox) routingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.msgs))
	for _, msg := range m.msgs {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}
