// Package eventbus publishes domain events drained from the outbox.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publication is one event ready for the broker.
type Publication struct {
	MessageID  uuid.UUID
	RoutingKey string
	Payload    []byte
	OccurredAt time.Time
}

// Publisher sends publications to a message broker.
type Publisher interface {
	Publish(ctx context.Context, pub Publication) error
	Close() error
}

// NoopPublisher logs publications without sending them. Used in development.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that only logs.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs the publication.
func (p *NoopPublisher) Publish(_ context.Context, pub Publication) error {
	p.logger.Debug("noop publish",
		"routing_key", pub.RoutingKey,
		"message_id", pub.MessageID,
		"size", len(pub.Payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error { return nil }

// RecordingPublisher keeps publications in memory so tests can observe them.
type RecordingPublisher struct {
	mu   sync.Mutex
	pubs []Publication
	err  error
}

// NewRecordingPublisher creates an empty RecordingPublisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// FailWith makes subsequent Publish calls return err. Pass nil to recover.
func (p *RecordingPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the publication or returns the configured failure.
func (p *RecordingPublisher) Publish(_ context.Context, pub Publication) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pubs = append(p.pubs, pub)
	return nil
}

// Published returns a copy of recorded publications.
func (p *RecordingPublisher) Published() []Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Publication, len(p.pubs))
	copy(out, p.pubs)
	return out
}

// Close is a no-op.
func (p *RecordingPublisher) Close() error { return nil }
