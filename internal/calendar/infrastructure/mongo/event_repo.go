package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ domain.EventRepository = (*EventRepository)(nil)

type eventDocument struct {
	ProviderID  string            `bson:"providerId"`
	CalendarID  string            `bson:"calendarId"`
	Status      string            `bson:"status"`
	Summary     *string           `bson:"summary"`
	Description *string           `bson:"description"`
	Location    *string           `bson:"location"`
	Created     time.Time         `bson:"created,omitempty"`
	Updated     time.Time         `bson:"updated,omitempty"`
	Start       string            `bson:"start"`
	End         string            `bson:"end"`
	AllDay      bool              `bson:"allDay"`
	Recurrence  []string          `bson:"recurrence,omitempty"`
	Attendees   []domain.Attendee `bson:"attendees,omitempty"`
	Organizer   *domain.Organizer `bson:"organizer,omitempty"`
	Raw         string            `bson:"raw"`
	ContentHash string            `bson:"contentHash"`
	SyncedAt    time.Time         `bson:"syncedAt"`
}

func toEventDocument(e domain.NormalizedEvent) eventDocument {
	syncedAt := e.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	return eventDocument{
		ProviderID:  e.ProviderID,
		CalendarID:  e.CalendarID,
		Status:      e.Status,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Created:     e.Created,
		Updated:     e.Updated,
		Start:       e.Start,
		End:         e.End,
		AllDay:      e.AllDay,
		Recurrence:  e.Recurrence,
		Attendees:   e.Attendees,
		Organizer:   e.Organizer,
		Raw:         string(e.Raw),
		ContentHash: e.ContentHash(),
		SyncedAt:    syncedAt,
	}
}

func (d eventDocument) toDomain() domain.NormalizedEvent {
	return domain.NormalizedEvent{
		ProviderID:  d.ProviderID,
		CalendarID:  d.CalendarID,
		Status:      d.Status,
		Summary:     d.Summary,
		Description: d.Description,
		Location:    d.Location,
		Created:     d.Created.UTC(),
		Updated:     d.Updated.UTC(),
		Start:       d.Start,
		End:         d.End,
		AllDay:      d.AllDay,
		Recurrence:  d.Recurrence,
		Attendees:   d.Attendees,
		Organizer:   d.Organizer,
		Raw:         []byte(d.Raw),
		SyncedAt:    d.SyncedAt.UTC(),
	}
}

// EventRepository keeps normalized events in calendar_events, unique on providerId.
type EventRepository struct {
	coll *mongo.Collection
}

// NewEventRepository creates an event repository on store.
func NewEventRepository(store *mongodb.Store) *EventRepository {
	return &EventRepository{coll: store.Collection(mongodb.CalendarEvents)}
}

// Upsert inserts event when new, or replaces its fields when the content hash differs.
func (r *EventRepository) Upsert(ctx context.Context, event domain.NormalizedEvent) (domain.UpsertResult, error) {
	doc := toEventDocument(event)

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"providerId": doc.ProviderID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.UpsertUnchanged, fmt.Errorf("insert event %s: %w", event.ProviderID, err)
	}
	if res.UpsertedCount == 1 {
		return domain.UpsertInserted, nil
	}

	res, err = r.coll.UpdateOne(ctx,
		bson.M{"providerId": doc.ProviderID, "contentHash": bson.M{"$ne": doc.ContentHash}},
		bson.M{"$set": doc},
	)
	if err != nil {
		return domain.UpsertUnchanged, fmt.Errorf("update event %s: %w", event.ProviderID, err)
	}
	if res.ModifiedCount == 1 {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertUnchanged, nil
}

// FindByProviderID returns one stored event.
func (r *EventRepository) FindByProviderID(ctx context.Context, providerID string) (*domain.NormalizedEvent, error) {
	var doc eventDocument
	if err := r.coll.FindOne(ctx, bson.M{"providerId": providerID}).Decode(&doc); err != nil {
		if mongodb.IsNotFound(err) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	event := doc.toDomain()
	return &event, nil
}

// ListByCalendar returns a calendar's events ordered by start.
func (r *EventRepository) ListByCalendar(ctx context.Context, calendarID string) ([]domain.NormalizedEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start", Value: 1}, {Key: "providerId", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"calendarId": calendarID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer cur.Close(ctx)

	var events []domain.NormalizedEvent
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		events = append(events, doc.toDomain())
	}
	return events, cur.Err()
}
