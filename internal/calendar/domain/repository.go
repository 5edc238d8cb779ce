package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrBusyBlockNotFound = errors.New("busy block not found")
	ErrEventNotFound     = errors.New("calendar event not found")
)

// BusyBlockRepository persists busy blocks.
type BusyBlockRepository interface {
	// LockOwner serialises concurrent replacements for one owner. The lock is
	// held until release is called or the surrounding transaction ends,
	// whichever the store uses.
	LockOwner(ctx context.Context, ownerID uuid.UUID) (release func(), err error)
	Save(ctx context.Context, block *BusyBlock) error
	SaveBatch(ctx context.Context, blocks []*BusyBlock) error
	FindByID(ctx context.Context, id uuid.UUID) (*BusyBlock, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*BusyBlock, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByOwnerAndSource(ctx context.Context, ownerID uuid.UUID, source BusySource) (int, error)
}

// EventRepository persists normalized calendar events keyed by provider ID.
type EventRepository interface {
	Upsert(ctx context.Context, event NormalizedEvent) (UpsertResult, error)
	FindByProviderID(ctx context.Context, providerID string) (*NormalizedEvent, error)
	ListByCalendar(ctx context.Context, calendarID string) ([]NormalizedEvent, error)
}
