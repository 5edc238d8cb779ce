// Package mongotest opens throwaway MongoDB databases for repository tests.
package mongotest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
)

// NewStore connects to MONGO_URI with a fresh database, or skips the test
// when MONGO_URI is unset. The database is dropped on cleanup.
func NewStore(t testing.TB) *mongodb.Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	store, err := mongodb.Connect(ctx, uri, "blade_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = store.Database().Drop(context.Background())
		_ = store.Close(context.Background())
	})
	return store
}
