package domain

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregate holds identity, timestamps and pending events for an aggregate root.
type BaseAggregate struct {
	id        uuid.UUID
	createdAt time.Time
	updatedAt time.Time
	events    []DomainEvent
}

// NewBaseAggregate creates an aggregate with a fresh ID.
func NewBaseAggregate() BaseAggregate {
	now := time.Now().UTC()
	return BaseAggregate{id: uuid.New(), createdAt: now, updatedAt: now}
}

// RehydrateBaseAggregate recreates an aggregate from persisted state.
func RehydrateBaseAggregate(id uuid.UUID, createdAt, updatedAt time.Time) BaseAggregate {
	return BaseAggregate{id: id, createdAt: createdAt, updatedAt: updatedAt}
}

func (a BaseAggregate) ID() uuid.UUID        { return a.id }
func (a BaseAggregate) CreatedAt() time.Time { return a.createdAt }
func (a BaseAggregate) UpdatedAt() time.Time { return a.updatedAt }

// Touch updates the updatedAt timestamp.
func (a *BaseAggregate) Touch() {
	a.updatedAt = time.Now().UTC()
}

// Record appends a pending domain event.
func (a *BaseAggregate) Record(event DomainEvent) {
	a.events = append(a.events, event)
}

// DomainEvents returns the pending domain events.
func (a *BaseAggregate) DomainEvents() []DomainEvent {
	return a.events
}

// ClearDomainEvents drops pending events once they are stored in the outbox.
func (a *BaseAggregate) ClearDomainEvents() {
	a.events = nil
}
