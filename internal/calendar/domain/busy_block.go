package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BusySource tells manual entries apart from blocks written by calendar sync.
type BusySource string

const (
	SourceManual       BusySource = "manual"
	SourceExternalSync BusySource = "external_sync"
)

// IsValid reports whether the source is known.
func (s BusySource) IsValid() bool {
	return s == SourceManual || s == SourceExternalSync
}

func (s BusySource) String() string { return string(s) }

var (
	ErrInvalidPeriod = errors.New("busy period end is before start")
	ErrInvalidStart  = errors.New("busy period start is not an ISO timestamp")
	ErrInvalidSource = errors.New("invalid busy source")
	ErrMissingOwner  = errors.New("busy block owner is required")
)

// Owner identifies whose availability a block describes.
type Owner struct {
	ID    uuid.UUID
	Email string
	Group string
}

// Period is a raw provider busy interval. Start and End are RFC 3339 strings.
type Period struct {
	Start string
	End   string
}

// BusyBlock is one interval during which an owner is unavailable.
type BusyBlock struct {
	id          uuid.UUID
	owner       Owner
	start       time.Time
	end         time.Time
	date        string
	source      BusySource
	label       string
	description string
	syncedAt    *time.Time
	createdAt   time.Time
}

// NewManualBusyBlock creates a block entered by the user.
func NewManualBusyBlock(owner Owner, start, end time.Time, label, description string) (*BusyBlock, error) {
	if owner.ID == uuid.Nil {
		return nil, ErrMissingOwner
	}
	if end.Before(start) {
		return nil, ErrInvalidPeriod
	}
	return &BusyBlock{
		id:          uuid.New(),
		owner:       owner,
		start:       start.UTC(),
		end:         end.UTC(),
		date:        start.UTC().Format(time.DateOnly),
		source:      SourceManual,
		label:       label,
		description: description,
		createdAt:   time.Now().UTC(),
	}, nil
}

// BusyBlocksFromPeriods converts provider free/busy periods into external_sync
// blocks. The date is the first ten characters of the start as the provider sent it.
func BusyBlocksFromPeriods(owner Owner, periods []Period, syncedAt time.Time) ([]*BusyBlock, error) {
	if owner.ID == uuid.Nil {
		return nil, ErrMissingOwner
	}
	syncedAt = syncedAt.UTC()
	blocks := make([]*BusyBlock, 0, len(periods))
	for i, p := range periods {
		if len(p.Start) < len(time.DateOnly) {
			return nil, fmt.Errorf("period %d: %w: %q", i, ErrInvalidStart, p.Start)
		}
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("period %d: %w: %w", i, ErrInvalidStart, err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("period %d: parse end: %w", i, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("period %d: %w", i, ErrInvalidPeriod)
		}
		synced := syncedAt
		blocks = append(blocks, &BusyBlock{
			id:        uuid.New(),
			owner:     owner,
			start:     start.UTC(),
			end:       end.UTC(),
			date:      p.Start[:len(time.DateOnly)],
			source:    SourceExternalSync,
			syncedAt:  &synced,
			createdAt: syncedAt,
		})
	}
	return blocks, nil
}

// RehydrateBusyBlock rebuilds a block from storage.
func RehydrateBusyBlock(
	id uuid.UUID,
	owner Owner,
	start, end time.Time,
	date string,
	source BusySource,
	label, description string,
	syncedAt *time.Time,
	createdAt time.Time,
) *BusyBlock {
	return &BusyBlock{
		id:          id,
		owner:       owner,
		start:       start,
		end:         end,
		date:        date,
		source:      source,
		label:       label,
		description: description,
		syncedAt:    syncedAt,
		createdAt:   createdAt,
	}
}

func (b *BusyBlock) ID() uuid.UUID           { return b.id }
func (b *BusyBlock) Owner() Owner            { return b.owner }
func (b *BusyBlock) OwnerID() uuid.UUID      { return b.owner.ID }
func (b *BusyBlock) Start() time.Time        { return b.start }
func (b *BusyBlock) End() time.Time          { return b.end }
func (b *BusyBlock) Date() string            { return b.date }
func (b *BusyBlock) Source() BusySource      { return b.source }
func (b *BusyBlock) Label() string           { return b.label }
func (b *BusyBlock) Description() string     { return b.description }
func (b *BusyBlock) SyncedAt() *time.Time    { return b.syncedAt }
func (b *BusyBlock) CreatedAt() time.Time    { return b.createdAt }
func (b *BusyBlock) Duration() time.Duration { return b.end.Sub(b.start) }
