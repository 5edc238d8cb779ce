// Package mongo stores busy blocks and normalized events in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ domain.BusyBlockRepository = (*BusyBlockRepository)(nil)

type busyBlockDocument struct {
	ID          string     `bson:"_id"`
	OwnerID     string     `bson:"ownerId"`
	OwnerEmail  string     `bson:"email"`
	Start       time.Time  `bson:"start"`
	End         time.Time  `bson:"end"`
	Date        string     `bson:"date"`
	Group       string     `bson:"squad,omitempty"`
	Source      string     `bson:"source"`
	Label       string     `bson:"name,omitempty"`
	Description string     `bson:"description,omitempty"`
	SyncedAt    *time.Time `bson:"syncedAt,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt"`
}

func toBusyBlockDocument(b *domain.BusyBlock) busyBlockDocument {
	owner := b.Owner()
	return busyBlockDocument{
		ID:          b.ID().String(),
		OwnerID:     owner.ID.String(),
		OwnerEmail:  owner.Email,
		Start:       b.Start(),
		End:         b.End(),
		Date:        b.Date(),
		Group:       owner.Group,
		Source:      b.Source().String(),
		Label:       b.Label(),
		Description: b.Description(),
		SyncedAt:    b.SyncedAt(),
		CreatedAt:   b.CreatedAt(),
	}
}

func (d busyBlockDocument) toDomain() (*domain.BusyBlock, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse busy block id: %w", err)
	}
	ownerID, err := uuid.Parse(d.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	return domain.RehydrateBusyBlock(
		id,
		domain.Owner{ID: ownerID, Email: d.OwnerEmail, Group: d.Group},
		d.Start.UTC(), d.End.UTC(),
		d.Date,
		domain.BusySource(d.Source),
		d.Label, d.Description,
		d.SyncedAt,
		d.CreatedAt.UTC(),
	), nil
}

// Owner lock timing. A lease its holder never released expires after
// DefaultLockLease.
const (
	DefaultLockLease = 30 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

// BusyBlockRepository keeps blocks in the busy_blocks collection. Field names
// follow the documents the app has always written (email, squad, name).
type BusyBlockRepository struct {
	coll  *mongo.Collection
	locks *mongo.Collection
	lease time.Duration
}

// NewBusyBlockRepository creates a busy block repository on store.
func NewBusyBlockRepository(store *mongodb.Store) *BusyBlockRepository {
	return &BusyBlockRepository{
		coll:  store.Collection(mongodb.BusyBlocks),
		locks: store.Collection(mongodb.Locks),
		lease: DefaultLockLease,
	}
}

// SetLockLease changes how long an unreleased owner lock stays held.
func (r *BusyBlockRepository) SetLockLease(d time.Duration) {
	if d > 0 {
		r.lease = d
	}
}

// LockOwner claims the lease document busy_blocks:<owner>, polling while
// another replacement holds an unexpired lease. The upsert only matches an
// expired lease, so a live one surfaces as a duplicate _id.
func (r *BusyBlockRepository) LockOwner(ctx context.Context, ownerID uuid.UUID) (func(), error) {
	key := "busy_blocks:" + ownerID.String()
	token := uuid.NewString()
	for {
		now := time.Now().UTC()
		_, err := r.locks.UpdateOne(ctx,
			bson.M{"_id": key, "expiresAt": bson.M{"$lte": now}},
			bson.M{"$set": bson.M{"token": token, "expiresAt": now.Add(r.lease)}},
			options.Update().SetUpsert(true),
		)
		if err == nil {
			return func() {
				// A failed release expires with the lease.
				_, _ = r.locks.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": key, "token": token})
			}, nil
		}
		if !mongodb.IsDuplicateKey(err) {
			return nil, fmt.Errorf("lock owner %s: %w", ownerID, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock owner %s: %w", ownerID, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Save inserts one block.
func (r *BusyBlockRepository) Save(ctx context.Context, block *domain.BusyBlock) error {
	if _, err := r.coll.InsertOne(ctx, toBusyBlockDocument(block)); err != nil {
		return fmt.Errorf("insert busy block: %w", err)
	}
	return nil
}

// SaveBatch inserts blocks in order.
func (r *BusyBlockRepository) SaveBatch(ctx context.Context, blocks []*domain.BusyBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	docs := make([]any, 0, len(blocks))
	for _, b := range blocks {
		docs = append(docs, toBusyBlockDocument(b))
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert busy blocks: %w", err)
	}
	return nil
}

// FindByID returns one block.
func (r *BusyBlockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.BusyBlock, error) {
	var doc busyBlockDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if mongodb.IsNotFound(err) {
			return nil, domain.ErrBusyBlockNotFound
		}
		return nil, fmt.Errorf("find busy block: %w", err)
	}
	return doc.toDomain()
}

// ListByOwner returns an owner's blocks ordered by start.
func (r *BusyBlockRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.BusyBlock, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"ownerId": ownerID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("list busy blocks: %w", err)
	}
	defer cur.Close(ctx)

	var blocks []*domain.BusyBlock
	for cur.Next(ctx) {
		var doc busyBlockDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		block, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, cur.Err()
}

// Delete removes one block.
func (r *BusyBlockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("delete busy block: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrBusyBlockNotFound
	}
	return nil
}

// DeleteByOwnerAndSource removes every block of one source for an owner.
func (r *BusyBlockRepository) DeleteByOwnerAndSource(ctx context.Context, ownerID uuid.UUID, source domain.BusySource) (int, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"ownerId": ownerID.String(), "source": source.String()})
	if err != nil {
		return 0, fmt.Errorf("delete busy blocks: %w", err)
	}
	return int(res.DeletedCount), nil
}
