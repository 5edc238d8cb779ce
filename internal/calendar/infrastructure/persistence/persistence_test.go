package persistence_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/calendar/infrastructure/persistence"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	identityPersistence "github.com/felixgeelhaar/blade/internal/identity/infrastructure/persistence"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/dbtest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedOwner inserts a user so busy_blocks' foreign key is satisfied.
func seedOwner(t *testing.T, conn database.Connection, email string) domain.Owner {
	t.Helper()
	e, err := identityDomain.NewEmail(email)
	require.NoError(t, err)
	n, err := identityDomain.NewName(email)
	require.NoError(t, err)
	user, err := identityDomain.NewUser(e, n, identityDomain.Profile{Squad: "relay"})
	require.NoError(t, err)
	require.NoError(t, identityPersistence.NewSQLUserRepository(conn).Create(context.Background(), user))
	return domain.Owner{ID: user.ID(), Email: email, Group: "relay"}
}

func TestSQLBusyBlockRepository(t *testing.T) {
	conn := dbtest.NewSQLite(t)
	repo := persistence.NewSQLBusyBlockRepository(conn)
	ctx := context.Background()
	owner := seedOwner(t, conn, "ana@club.org")

	synced, err := domain.BusyBlocksFromPeriods(owner, []domain.Period{
		{Start: "2024-01-02T09:00:00Z", End: "2024-01-02T10:00:00Z"},
		{Start: "2024-01-01T09:00:00Z", End: "2024-01-01T10:00:00Z"},
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.SaveBatch(ctx, synced))

	start := time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)
	manual, err := domain.NewManualBusyBlock(owner, start, start.Add(time.Hour), "Physio", "")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, manual))

	blocks, err := repo.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, "2024-01-01", blocks[0].Date())
	assert.Equal(t, "2024-01-02", blocks[1].Date())
	assert.Equal(t, domain.SourceManual, blocks[2].Source())
	assert.Equal(t, "relay", blocks[0].Owner().Group)
	require.NotNil(t, blocks[0].SyncedAt())
	assert.Nil(t, blocks[2].SyncedAt())

	found, err := repo.FindByID(ctx, manual.ID())
	require.NoError(t, err)
	assert.Equal(t, "Physio", found.Label())
	assert.True(t, found.Start().Equal(start))

	n, err := repo.DeleteByOwnerAndSource(ctx, owner.ID, domain.SourceExternalSync)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	blocks, err = repo.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	require.NoError(t, repo.Delete(ctx, manual.ID()))
	require.ErrorIs(t, repo.Delete(ctx, manual.ID()), domain.ErrBusyBlockNotFound)
	_, err = repo.FindByID(ctx, manual.ID())
	require.ErrorIs(t, err, domain.ErrBusyBlockNotFound)
}

func TestSQLBusyBlockRepository_LockOwnerIsNoopOnSQLite(t *testing.T) {
	repo := persistence.NewSQLBusyBlockRepository(dbtest.NewSQLite(t))
	release, err := repo.LockOwner(context.Background(), uuid.New())
	require.NoError(t, err)
	release()
}

func strPtr(s string) *string { return &s }

func testEvent(id, etag string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		ProviderID: id,
		CalendarID: "primary",
		Status:     "confirmed",
		Summary:    strPtr("Track session"),
		Created:    time.Date(2023, 12, 1, 8, 0, 0, 0, time.UTC),
		Updated:    time.Date(2023, 12, 2, 8, 0, 0, 0, time.UTC),
		Start:      "2024-01-01T09:00:00Z",
		End:        "2024-01-01T10:00:00Z",
		Attendees:  []domain.Attendee{{Email: "coach@club.org", ResponseStatus: "accepted"}},
		Organizer:  &domain.Organizer{Email: "coach@club.org"},
		Raw:        json.RawMessage(`{"id":"` + id + `","etag":"` + etag + `"}`),
		SyncedAt:   time.Now().UTC(),
	}
}

func TestSQLEventRepository_Upsert(t *testing.T) {
	repo := persistence.NewSQLEventRepository(dbtest.NewSQLite(t))
	ctx := context.Background()

	result, err := repo.Upsert(ctx, testEvent("evt-1", "1"))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertInserted, result)

	result, err = repo.Upsert(ctx, testEvent("evt-1", "1"))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUnchanged, result)

	changed := testEvent("evt-1", "2")
	changed.Summary = strPtr("Moved session")
	result, err = repo.Upsert(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, result)

	stored, err := repo.FindByProviderID(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "Moved session", *stored.Summary)
	assert.Nil(t, stored.Description)
	assert.Nil(t, stored.Recurrence)
	assert.Equal(t, []domain.Attendee{{Email: "coach@club.org", ResponseStatus: "accepted"}}, stored.Attendees)
	require.NotNil(t, stored.Organizer)
	assert.JSONEq(t, `{"id":"evt-1","etag":"2"}`, string(stored.Raw))
	assert.True(t, stored.Created.Equal(changed.Created))

	_, err = repo.FindByProviderID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestSQLEventRepository_ListByCalendar(t *testing.T) {
	repo := persistence.NewSQLEventRepository(dbtest.NewSQLite(t))
	ctx := context.Background()

	late := testEvent("evt-late", "1")
	late.Start, late.End = "2024-01-05T09:00:00Z", "2024-01-05T10:00:00Z"
	allDay := testEvent("evt-day", "1")
	allDay.Start, allDay.End, allDay.AllDay = "2024-01-03", "2024-01-04", true
	other := testEvent("evt-other", "1")
	other.CalendarID = "team@group.calendar.google.com"

	for _, e := range []domain.NormalizedEvent{late, allDay, testEvent("evt-early", "1"), other} {
		_, err := repo.Upsert(ctx, e)
		require.NoError(t, err)
	}

	events, err := repo.ListByCalendar(ctx, "primary")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-early", events[0].ProviderID)
	assert.Equal(t, "evt-day", events[1].ProviderID)
	assert.True(t, events[1].AllDay)
	assert.Equal(t, "evt-late", events[2].ProviderID)
}
