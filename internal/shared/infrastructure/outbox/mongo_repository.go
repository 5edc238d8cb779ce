package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Repository = (*MongoRepository)(nil)

type mongoMessage struct {
	EventID        string     `bson:"_id"`
	AggregateType  string     `bson:"aggregateType"`
	AggregateID    string     `bson:"aggregateId"`
	RoutingKey     string     `bson:"routingKey"`
	Payload        string     `bson:"payload"`
	CreatedAt      time.Time  `bson:"createdAt"`
	PublishedAt    *time.Time `bson:"publishedAt"`
	RetryCount     int        `bson:"retryCount"`
	LastError      string     `bson:"lastError,omitempty"`
	NextRetryAt    *time.Time `bson:"nextRetryAt"`
	DeadLetteredAt *time.Time `bson:"deadLetteredAt"`
}

// MongoRepository stores the outbox in the outbox_messages collection.
// Writes are not transactional with the state change they describe.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates an outbox repository on store.
func NewMongoRepository(store *mongodb.Store) *MongoRepository {
	return &MongoRepository{coll: store.Collection(mongodb.Outbox)}
}

// SaveBatch inserts msgs.
func (r *MongoRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		docs = append(docs, mongoMessage{
			EventID:       msg.EventID.String(),
			AggregateType: msg.AggregateType,
			AggregateID:   msg.AggregateID.String(),
			RoutingKey:    msg.RoutingKey,
			Payload:       string(msg.Payload),
			CreatedAt:     msg.CreatedAt.UTC(),
		})
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("save outbox messages: %w", err)
	}
	return nil
}

// FetchPending returns due messages, oldest first.
func (r *MongoRepository) FetchPending(ctx context.Context, limit int, now time.Time) ([]*Message, error) {
	filter := bson.M{
		"publishedAt":    nil,
		"deadLetteredAt": nil,
		"$or": bson.A{
			bson.M{"nextRetryAt": nil},
			bson.M{"nextRetryAt": bson.M{"$lte": now.UTC()}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox messages: %w", err)
	}
	defer cur.Close(ctx)

	var msgs []*Message
	for cur.Next(ctx) {
		var doc mongoMessage
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		eventID, err := uuid.Parse(doc.EventID)
		if err != nil {
			return nil, err
		}
		aggregateID, err := uuid.Parse(doc.AggregateID)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &Message{
			EventID:       eventID,
			AggregateType: doc.AggregateType,
			AggregateID:   aggregateID,
			RoutingKey:    doc.RoutingKey,
			Payload:       []byte(doc.Payload),
			CreatedAt:     doc.CreatedAt,
			RetryCount:    doc.RetryCount,
			LastError:     doc.LastError,
			NextRetryAt:   doc.NextRetryAt,
		})
	}
	return msgs, cur.Err()
}

// MarkPublished marks a message as published.
func (r *MongoRepository) MarkPublished(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, eventID.String(), bson.M{"$set": bson.M{"publishedAt": at.UTC()}})
	return err
}

// MarkFailed records a failed attempt.
func (r *MongoRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, nextRetryAt time.Time) error {
	_, err := r.coll.UpdateByID(ctx, eventID.String(), bson.M{
		"$inc": bson.M{"retryCount": 1},
		"$set": bson.M{"lastError": errMsg, "nextRetryAt": nextRetryAt.UTC()},
	})
	return err
}

// MarkDead dead-letters a message.
func (r *MongoRepository) MarkDead(ctx context.Context, eventID uuid.UUID, reason string, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, eventID.String(), bson.M{
		"$inc": bson.M{"retryCount": 1},
		"$set": bson.M{"lastError": reason, "deadLetteredAt": at.UTC()},
	})
	return err
}

// PurgePublished deletes published messages older than before.
func (r *MongoRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"publishedAt": bson.M{"$ne": nil, "$lt": before.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
