package application_test

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	identityPersistence "github.com/felixgeelhaar/blade/internal/identity/infrastructure/persistence"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/stretchr/testify/require"
)

type seededUser struct {
	*identityDomain.User
}

func (u seededUser) owner() domain.Owner {
	return domain.Owner{ID: u.ID(), Email: u.Email().String(), Group: u.Squad()}
}

func seedUser(t *testing.T, conn database.Connection, email string) seededUser {
	t.Helper()
	e, err := identityDomain.NewEmail(email)
	require.NoError(t, err)
	n, err := identityDomain.NewName(email)
	require.NoError(t, err)
	user, err := identityDomain.NewUser(e, n, identityDomain.Profile{Squad: "relay"})
	require.NoError(t, err)
	require.NoError(t, identityPersistence.NewSQLUserRepository(conn).Create(context.Background(), user))
	return seededUser{user}
}
