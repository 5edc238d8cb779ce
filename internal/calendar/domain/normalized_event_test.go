package domain_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/stretchr/testify/assert"
)

func TestNormalizedEvent_ContentHash(t *testing.T) {
	a := domain.NormalizedEvent{ProviderID: "evt-1", Raw: json.RawMessage(`{"id":"evt-1","etag":"1"}`)}
	b := domain.NormalizedEvent{ProviderID: "evt-1", Raw: json.RawMessage(`{"id":"evt-1","etag":"1"}`)}
	c := domain.NormalizedEvent{ProviderID: "evt-1", Raw: json.RawMessage(`{"id":"evt-1","etag":"2"}`)}

	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
	assert.Len(t, a.ContentHash(), 64)
}

func TestEventsSyncReport_Count(t *testing.T) {
	var report domain.EventsSyncReport
	report.Count(domain.UpsertInserted)
	report.Count(domain.UpsertInserted)
	report.Count(domain.UpsertUpdated)
	report.Count(domain.UpsertUnchanged)

	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
}

func TestUpsertResult_String(t *testing.T) {
	assert.Equal(t, "inserted", domain.UpsertInserted.String())
	assert.Equal(t, "updated", domain.UpsertUpdated.String())
	assert.Equal(t, "unchanged", domain.UpsertUnchanged.String())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, domain.ErrTokenExchange, domain.ErrAuthorization)

	wrapped := fmt.Errorf("%w: %w", domain.ErrSyncFailed, domain.ErrTokenRefresh)
	assert.ErrorIs(t, wrapped, domain.ErrSyncFailed)
	assert.ErrorIs(t, wrapped, domain.ErrTokenRefresh)
	assert.False(t, errors.Is(wrapped, domain.ErrProviderFetch))
}
