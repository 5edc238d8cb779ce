package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists outbox messages.
type Repository interface {
	// SaveBatch stores messages, joining the transaction in ctx if there is one.
	SaveBatch(ctx context.Context, msgs []*Message) error

	// FetchPending returns unpublished, non-dead messages due at now, oldest first.
	FetchPending(ctx context.Context, limit int, now time.Time) ([]*Message, error)

	// MarkPublished marks a message as published.
	MarkPublished(ctx context.Context, eventID uuid.UUID, at time.Time) error

	// MarkFailed increments the retry count and schedules the next attempt.
	MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, nextRetryAt time.Time) error

	// MarkDead stops further attempts for a message.
	MarkDead(ctx context.Context, eventID uuid.UUID, reason string, at time.Time) error

	// PurgePublished deletes messages published before the cutoff.
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}
