package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/application"
	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	calendarMongo "github.com/felixgeelhaar/blade/internal/calendar/infrastructure/mongo"
	"github.com/felixgeelhaar/blade/internal/calendar/infrastructure/persistence"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb/mongotest"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	conn       database.Connection
	blocks     *persistence.SQLBusyBlockRepository
	outbox     *outbox.SQLRepository
	reconciler *application.Reconciler
	owner      domain.Owner
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	conn := dbtest.NewSQLite(t)
	f := &reconcileFixture{
		conn:   conn,
		blocks: persistence.NewSQLBusyBlockRepository(conn),
		outbox: outbox.NewSQLRepository(conn),
	}
	f.reconciler = application.NewReconciler(f.blocks, f.outbox, database.NewUnitOfWork(conn), nil)
	f.owner = seedUser(t, conn, "ana@club.org").owner()
	return f
}

func synced(t *testing.T, owner domain.Owner, periods ...domain.Period) []*domain.BusyBlock {
	t.Helper()
	blocks, err := domain.BusyBlocksFromPeriods(owner, periods, time.Now())
	require.NoError(t, err)
	return blocks
}

var (
	monday  = domain.Period{Start: "2024-01-01T09:00:00Z", End: "2024-01-01T10:00:00Z"}
	tuesday = domain.Period{Start: "2024-01-02T13:00:00Z", End: "2024-01-02T14:00:00Z"}
)

func TestReconciler_ReplaceIsIdempotent(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	for range 2 {
		_, err := f.reconciler.Replace(ctx, f.owner, domain.SourceExternalSync, synced(t, f.owner, monday, tuesday))
		require.NoError(t, err)
	}

	blocks, err := f.blocks.ListByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "2024-01-01", blocks[0].Date())
	assert.Equal(t, "2024-01-02", blocks[1].Date())
}

func TestReconciler_LeavesOtherSourcesAlone(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	start := time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)
	manual, err := domain.NewManualBusyBlock(f.owner, start, start.Add(time.Hour), "Physio", "")
	require.NoError(t, err)
	require.NoError(t, f.blocks.Save(ctx, manual))

	_, err = f.reconciler.Replace(ctx, f.owner, domain.SourceExternalSync, synced(t, f.owner, monday))
	require.NoError(t, err)

	result, err := f.reconciler.Replace(ctx, f.owner, domain.SourceExternalSync, nil)
	require.NoError(t, err)
	assert.Equal(t, application.ReplaceResult{Deleted: 1, Inserted: 0}, result)

	blocks, err := f.blocks.ListByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, manual.ID(), blocks[0].ID())
}

func TestReconciler_RecordsReplacement(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Replace(ctx, f.owner, domain.SourceExternalSync, synced(t, f.owner, monday, tuesday))
	require.NoError(t, err)

	pending, err := f.outbox.FetchPending(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.RoutingKeyBusyReplaced, pending[0].RoutingKey)
	assert.Equal(t, f.owner.ID, pending[0].AggregateID)
	assert.Contains(t, string(pending[0].Payload), `"inserted":2`)
}

type failingInsert struct {
	*persistence.SQLBusyBlockRepository
}

func (failingInsert) SaveBatch(context.Context, []*domain.BusyBlock) error {
	return errors.New("disk full")
}

func TestReconciler_RollsBackOnFailure(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Replace(ctx, f.owner, domain.SourceExternalSync, synced(t, f.owner, monday))
	require.NoError(t, err)

	broken := application.NewReconciler(failingInsert{f.blocks}, f.outbox, database.NewUnitOfWork(f.conn), nil)
	_, err = broken.Replace(ctx, f.owner, domain.SourceExternalSync, synced(t, f.owner, tuesday))
	require.ErrorIs(t, err, domain.ErrReconciliation)
	assert.Contains(t, err.Error(), "disk full")

	blocks, err := f.blocks.ListByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "2024-01-01", blocks[0].Date())
}

func TestReconciler_RejectsForeignBlocks(t *testing.T) {
	f := newReconcileFixture(t)
	other := seedUser(t, f.conn, "ben@club.org").owner()

	_, err := f.reconciler.Replace(context.Background(), f.owner, domain.SourceExternalSync, synced(t, other, monday))
	require.ErrorIs(t, err, domain.ErrReconciliation)

	_, err = f.reconciler.Replace(context.Background(), f.owner, domain.BusySource("calendar"), nil)
	require.ErrorIs(t, err, domain.ErrInvalidSource)
}

// leasedBlocks stands in for a store without transactions: the owner lock is a
// process mutex held until release, and deletes pause before returning so
// overlapping replacements would interleave.
type leasedBlocks struct {
	*persistence.SQLBusyBlockRepository

	lock  sync.Mutex
	mu    sync.Mutex
	calls []string
}

func (b *leasedBlocks) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *leasedBlocks) LockOwner(context.Context, uuid.UUID) (func(), error) {
	b.lock.Lock()
	b.record("lock")
	return func() {
		b.record("release")
		b.lock.Unlock()
	}, nil
}

func (b *leasedBlocks) DeleteByOwnerAndSource(ctx context.Context, ownerID uuid.UUID, source domain.BusySource) (int, error) {
	n, err := b.SQLBusyBlockRepository.DeleteByOwnerAndSource(ctx, ownerID, source)
	b.record("delete")
	time.Sleep(20 * time.Millisecond)
	return n, err
}

func (b *leasedBlocks) SaveBatch(ctx context.Context, blocks []*domain.BusyBlock) error {
	b.record("insert")
	return b.SQLBusyBlockRepository.SaveBatch(ctx, blocks)
}

func TestReconciler_HoldsOwnerLockAcrossReplace(t *testing.T) {
	f := newReconcileFixture(t)
	blocks := &leasedBlocks{SQLBusyBlockRepository: f.blocks}
	reconciler := application.NewReconciler(blocks, f.outbox, nil, nil)

	_, err := reconciler.Replace(context.Background(), f.owner, domain.SourceExternalSync, synced(t, f.owner, monday))
	require.NoError(t, err)
	assert.Equal(t, []string{"lock", "delete", "insert", "release"}, blocks.calls)
}

func TestReconciler_ConcurrentReplacesWithoutTransaction(t *testing.T) {
	f := newReconcileFixture(t)
	reconciler := application.NewReconciler(&leasedBlocks{SQLBusyBlockRepository: f.blocks}, f.outbox, nil, nil)
	assertSingleGeneration(t, reconciler, f.owner, func() ([]*domain.BusyBlock, error) {
		return f.blocks.ListByOwner(context.Background(), f.owner.ID)
	})
}

func TestReconciler_ConcurrentReplacesOnDocumentStore(t *testing.T) {
	store := mongotest.NewStore(t)
	repo := calendarMongo.NewBusyBlockRepository(store)
	reconciler := application.NewReconciler(repo, outbox.NewMongoRepository(store), nil, nil)
	owner := domain.Owner{ID: uuid.New(), Email: "ana@club.org", Group: "relay"}

	assertSingleGeneration(t, reconciler, owner, func() ([]*domain.BusyBlock, error) {
		return repo.ListByOwner(context.Background(), owner.ID)
	})
}

// assertSingleGeneration races replacements of a one-block set and expects
// exactly one block to survive.
func assertSingleGeneration(t *testing.T, reconciler *application.Reconciler, owner domain.Owner, list func() ([]*domain.BusyBlock, error)) {
	t.Helper()
	ctx := context.Background()

	sets := make([][]*domain.BusyBlock, 8)
	for i := range sets {
		sets[i] = synced(t, owner, monday)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(sets))
	for _, set := range sets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reconciler.Replace(ctx, owner, domain.SourceExternalSync, set)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	blocks, err := list()
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}
