package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOwner() domain.Owner {
	return domain.Owner{ID: uuid.New(), Email: "ana@example.com", Group: "sprinters"}
}

func TestBusyBlocksFromPeriods(t *testing.T) {
	owner := testOwner()
	syncedAt := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)

	blocks, err := domain.BusyBlocksFromPeriods(owner, []domain.Period{
		{Start: "2024-01-01T09:00:00Z", End: "2024-01-01T10:00:00Z"},
		{Start: "2024-01-03T23:30:00-05:00", End: "2024-01-04T00:30:00-05:00"},
	}, syncedAt)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	first := blocks[0]
	assert.Equal(t, "2024-01-01", first.Date())
	assert.Equal(t, domain.SourceExternalSync, first.Source())
	assert.Equal(t, owner, first.Owner())
	assert.Equal(t, time.Hour, first.Duration())
	require.NotNil(t, first.SyncedAt())
	assert.True(t, first.SyncedAt().Equal(syncedAt))
	assert.NotEqual(t, uuid.Nil, first.ID())

	// Date follows the provider's local offset, not UTC.
	assert.Equal(t, "2024-01-03", blocks[1].Date())
	assert.Equal(t, 4, blocks[1].Start().Day())
}

func TestBusyBlocksFromPeriods_Empty(t *testing.T) {
	blocks, err := domain.BusyBlocksFromPeriods(testOwner(), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestBusyBlocksFromPeriods_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		period  domain.Period
		wantErr error
	}{
		{
			name:    "end before start",
			period:  domain.Period{Start: "2024-01-01T10:00:00Z", End: "2024-01-01T09:00:00Z"},
			wantErr: domain.ErrInvalidPeriod,
		},
		{
			name:    "short start",
			period:  domain.Period{Start: "2024-01", End: "2024-01-01T09:00:00Z"},
			wantErr: domain.ErrInvalidStart,
		},
		{
			name:    "unparseable start",
			period:  domain.Period{Start: "not-a-timestamp", End: "2024-01-01T09:00:00Z"},
			wantErr: domain.ErrInvalidStart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.BusyBlocksFromPeriods(testOwner(), []domain.Period{tt.period}, time.Now())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBusyBlocksFromPeriods_RequiresOwner(t *testing.T) {
	_, err := domain.BusyBlocksFromPeriods(domain.Owner{}, nil, time.Now())
	require.ErrorIs(t, err, domain.ErrMissingOwner)
}

func TestNewManualBusyBlock(t *testing.T) {
	owner := testOwner()
	start := time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)

	block, err := domain.NewManualBusyBlock(owner, start, start.Add(90*time.Minute), "Physio", "knee")
	require.NoError(t, err)

	assert.Equal(t, domain.SourceManual, block.Source())
	assert.Equal(t, "2024-03-05", block.Date())
	assert.Equal(t, "Physio", block.Label())
	assert.Equal(t, "knee", block.Description())
	assert.Nil(t, block.SyncedAt())

	_, err = domain.NewManualBusyBlock(owner, start, start.Add(-time.Minute), "", "")
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestBusySource_IsValid(t *testing.T) {
	assert.True(t, domain.SourceManual.IsValid())
	assert.True(t, domain.SourceExternalSync.IsValid())
	assert.False(t, domain.BusySource("import").IsValid())
}
