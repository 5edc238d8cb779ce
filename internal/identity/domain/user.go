package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/blade/internal/shared/domain"
	"github.com/google/uuid"
)

// User is an athlete account. Busy blocks and the calendar credential hang off it.
type User struct {
	sharedDomain.BaseAggregate
	email   Email
	name    Name
	profile Profile
}

// NewUser registers a new user.
func NewUser(email Email, name Name, profile Profile) (*User, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	u := &User{
		BaseAggregate: sharedDomain.NewBaseAggregate(),
		email:         email,
		name:          name,
		profile:       profile,
	}
	u.Record(NewUserRegistered(u.ID(), email.String(), name.String(), profile.Squad))
	return u, nil
}

// RehydrateUser rebuilds a user from storage.
func RehydrateUser(id uuid.UUID, email Email, name Name, profile Profile, createdAt, updatedAt time.Time) *User {
	return &User{
		BaseAggregate: sharedDomain.RehydrateBaseAggregate(id, createdAt, updatedAt),
		email:         email,
		name:          name,
		profile:       profile,
	}
}

func (u *User) Email() Email     { return u.email }
func (u *User) Name() Name       { return u.name }
func (u *User) Profile() Profile { return u.profile }
func (u *User) Squad() string    { return u.profile.Squad }
