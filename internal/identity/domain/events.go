package domain

import (
	sharedDomain "github.com/felixgeelhaar/blade/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	AggregateType = "User"

	RoutingKeyUserRegistered         = "identity.user.registered"
	RoutingKeyCredentialConnected    = "calendar.credential.connected"
	RoutingKeyCredentialDisconnected = "calendar.credential.disconnected"
)

// UserRegistered is emitted when a new user signs up.
type UserRegistered struct {
	sharedDomain.BaseEvent
	Email string `json:"email"`
	Name  string `json:"name"`
	Squad string `json:"squad,omitempty"`
}

// NewUserRegistered creates a UserRegistered event.
func NewUserRegistered(userID uuid.UUID, email, name, squad string) UserRegistered {
	return UserRegistered{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyUserRegistered),
		Email:     email,
		Name:      name,
		Squad:     squad,
	}
}

// CredentialConnected is emitted after an authorization code is exchanged and stored.
type CredentialConnected struct {
	sharedDomain.BaseEvent
	Scopes []string `json:"scopes"`
}

// NewCredentialConnected creates a CredentialConnected event.
func NewCredentialConnected(userID uuid.UUID, scopes []string) CredentialConnected {
	return CredentialConnected{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyCredentialConnected),
		Scopes:    scopes,
	}
}

// CredentialDisconnected is emitted when a user removes the calendar grant.
type CredentialDisconnected struct {
	sharedDomain.BaseEvent
	Revoked      bool `json:"revoked"`
	PurgedBlocks int  `json:"purged_blocks"`
}

// NewCredentialDisconnected creates a CredentialDisconnected event.
func NewCredentialDisconnected(userID uuid.UUID, revoked bool, purged int) CredentialDisconnected {
	return CredentialDisconnected{
		BaseEvent:    sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyCredentialDisconnected),
		Revoked:      revoked,
		PurgedBlocks: purged,
	}
}
