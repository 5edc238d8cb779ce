package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCredentialNotFound means the user never connected a calendar or disconnected it.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrStateNotFound means the state is unknown, expired, or already used.
	ErrStateNotFound = errors.New("authorization state not found")
	// ErrRevocationDisabled means no revoke endpoint is configured.
	ErrRevocationDisabled = errors.New("token revocation is not configured")
)

// StoredCredential is the encrypted form of a user's calendar grant. Token
// fields are sealed with the user ID as associated data.
type StoredCredential struct {
	UserID       uuid.UUID
	RefreshToken []byte
	AccessToken  []byte
	TokenType    string
	Expiry       time.Time
	Scopes       []string
	UpdatedAt    time.Time
}

// CredentialStore persists encrypted credentials. Implementations join the
// transaction carried by ctx when there is one.
type CredentialStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*StoredCredential, error)
	Save(ctx context.Context, cred StoredCredential) error
	// UpdateRefreshed writes cred only while the stored refresh token still
	// equals expectedRefresh. It reports false when the credential was
	// deleted or replaced in the meantime.
	UpdateRefreshed(ctx context.Context, cred StoredCredential, expectedRefresh []byte) (bool, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// StateStore keeps authorization states for one OAuth round trip. Consume
// must remove the state atomically so a second call fails.
type StateStore interface {
	Put(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error
	Consume(ctx context.Context, state string) (uuid.UUID, error)
}

// Subject identifies whose calendar a token source acts for.
type Subject struct {
	UserID uuid.UUID
	Email  string
}
