package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEmail(t *testing.T, v string) domain.Email {
	t.Helper()
	e, err := domain.NewEmail(v)
	require.NoError(t, err)
	return e
}

func mustName(t *testing.T, v string) domain.Name {
	t.Helper()
	n, err := domain.NewName(v)
	require.NoError(t, err)
	return n
}

func TestNewUser(t *testing.T) {
	age := 27
	user, err := domain.NewUser(
		mustEmail(t, "Ana@Example.com"),
		mustName(t, "Ana"),
		domain.Profile{Username: "ana", Squad: "sprinters", Age: &age},
	)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, user.ID())
	assert.Equal(t, "ana@example.com", user.Email().String())
	assert.Equal(t, "sprinters", user.Squad())
	assert.False(t, user.CreatedAt().IsZero())

	events := user.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.RoutingKeyUserRegistered, events[0].RoutingKey())
	assert.Equal(t, user.ID(), events[0].AggregateID())
}

func TestNewUser_InvalidProfile(t *testing.T) {
	weight := -3.0
	_, err := domain.NewUser(mustEmail(t, "a@b.io"), mustName(t, "A"), domain.Profile{Weight: &weight})
	require.ErrorIs(t, err, domain.ErrInvalidProfile)
}

func TestRehydrateUser(t *testing.T) {
	original, err := domain.NewUser(mustEmail(t, "a@b.io"), mustName(t, "A"), domain.Profile{})
	require.NoError(t, err)

	user := domain.RehydrateUser(original.ID(), original.Email(), original.Name(), original.Profile(), original.CreatedAt(), original.UpdatedAt())
	assert.Equal(t, original.ID(), user.ID())
	assert.Empty(t, user.DomainEvents())
}

func TestNewUserCredential(t *testing.T) {
	_, err := domain.NewUserCredential("", "access", "Bearer", time.Now(), nil)
	require.ErrorIs(t, err, domain.ErrEmptyRefreshToken)

	now := time.Now()
	cred, err := domain.NewUserCredential("refresh", "access", "Bearer", now.Add(time.Hour), []string{"calendar.readonly"})
	require.NoError(t, err)
	assert.True(t, cred.AccessTokenValid(now, time.Minute))
	assert.False(t, cred.AccessTokenValid(now.Add(59*time.Minute+30*time.Second), time.Minute))

	cred.AccessToken = ""
	assert.False(t, cred.AccessTokenValid(now, 0))
}
