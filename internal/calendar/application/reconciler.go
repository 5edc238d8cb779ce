package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/application"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
)

// ReplaceResult counts what one replacement changed.
type ReplaceResult struct {
	Deleted  int
	Inserted int
}

// Reconciler swaps an owner's blocks of one source for a new set.
type Reconciler struct {
	blocks     domain.BusyBlockRepository
	outboxRepo outbox.Repository
	uow        application.UnitOfWork
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler. A nil uow runs without a transaction,
// which is how the document store is driven.
func NewReconciler(blocks domain.BusyBlockRepository, outboxRepo outbox.Repository, uow application.UnitOfWork, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{blocks: blocks, outboxRepo: outboxRepo, uow: uow, logger: logger}
}

// Replace deletes every block of (owner, source) and inserts blocks in one
// unit of work. Blocks of other sources are untouched and an empty set only
// deletes. Failures are ErrReconciliation.
func (r *Reconciler) Replace(ctx context.Context, owner domain.Owner, source domain.BusySource, blocks []*domain.BusyBlock) (ReplaceResult, error) {
	if !source.IsValid() {
		return ReplaceResult{}, fmt.Errorf("%w: %w", domain.ErrReconciliation, domain.ErrInvalidSource)
	}
	for _, b := range blocks {
		if b.OwnerID() != owner.ID || b.Source() != source {
			return ReplaceResult{}, fmt.Errorf("%w: block %s does not belong to %s/%s", domain.ErrReconciliation, b.ID(), owner.ID, source)
		}
	}

	var result ReplaceResult
	err := application.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		release, err := r.blocks.LockOwner(txCtx, owner.ID)
		if err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		defer release()

		deleted, err := r.blocks.DeleteByOwnerAndSource(txCtx, owner.ID, source)
		if err != nil {
			return fmt.Errorf("delete blocks: %w", err)
		}
		if err := r.blocks.SaveBatch(txCtx, blocks); err != nil {
			return fmt.Errorf("insert blocks: %w", err)
		}
		result = ReplaceResult{Deleted: deleted, Inserted: len(blocks)}
		return outbox.Record(txCtx, r.outboxRepo, domain.NewBusyReplaced(owner.ID, source, deleted, len(blocks)))
	})
	if err != nil {
		r.logger.Error("busy block replacement failed",
			"operation", "replace_busy_blocks",
			"user_id", owner.ID.String(),
			"source", source.String(),
			"error", err,
		)
		return ReplaceResult{}, fmt.Errorf("%w: %w", domain.ErrReconciliation, err)
	}

	r.logger.Debug("busy blocks replaced",
		"operation", "replace_busy_blocks",
		"user_id", owner.ID.String(),
		"source", source.String(),
		"deleted", result.Deleted,
		"inserted", result.Inserted,
	)
	return result, nil
}
