package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb/mongotest"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMongoRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := outbox.NewMongoRepository(mongotest.NewStore(t))

	first := newSyncedEvent()
	time.Sleep(2 * time.Millisecond)
	second := newSyncedEvent()
	require.NoError(t, outbox.Record(ctx, repo, first, second))

	now := time.Now().Add(time.Second)
	pending, err := repo.FetchPending(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID(), pending[0].EventID)

	require.NoError(t, repo.MarkPublished(ctx, first.EventID(), now))
	require.NoError(t, repo.MarkFailed(ctx, second.EventID(), "broker down", now.Add(time.Minute)))

	pending, err = repo.FetchPending(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = repo.FetchPending(ctx, 10, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "broker down", pending[0].LastError)

	purged, err := repo.PurgePublished(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
