// Package outbox stores domain events transactionally and relays them to the broker.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/felixgeelhaar/blade/internal/shared/domain"
	"github.com/google/uuid"
)

// Message is one stored domain event awaiting publication.
type Message struct {
	EventID        uuid.UUID
	AggregateType  string
	AggregateID    uuid.UUID
	RoutingKey     string
	Payload        json.RawMessage
	CreatedAt      time.Time
	PublishedAt    *time.Time
	RetryCount     int
	LastError      string
	NextRetryAt    *time.Time
	DeadLetteredAt *time.Time
}

// envelope is the wire shape consumers receive.
type envelope struct {
	EventID       uuid.UUID            `json:"event_id"`
	RoutingKey    string               `json:"routing_key"`
	AggregateType string               `json:"aggregate_type"`
	AggregateID   uuid.UUID            `json:"aggregate_id"`
	OccurredAt    time.Time            `json:"occurred_at"`
	Metadata      domain.EventMetadata `json:"metadata"`
	Data          domain.DomainEvent   `json:"data"`
}

// NewMessage wraps a domain event in its wire envelope.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	payload, err := json.Marshal(envelope{
		EventID:       event.EventID(),
		RoutingKey:    event.RoutingKey(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		OccurredAt:    event.OccurredAt(),
		Metadata:      event.Metadata(),
		Data:          event,
	})
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:       event.EventID(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		RoutingKey:    event.RoutingKey(),
		Payload:       payload,
		CreatedAt:     event.OccurredAt(),
	}, nil
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// Record converts events to messages and stores them through repo. Callers
// pass a context carrying their transaction so events commit with the state change.
func Record(ctx context.Context, repo Repository, events ...domain.DomainEvent) error {
	if repo == nil || len(events) == 0 {
		return nil
	}
	msgs := make([]*Message, 0, len(events))
	for _, event := range events {
		msg, err := NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return repo.SaveBatch(ctx, msgs)
}
