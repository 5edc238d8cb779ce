package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/felixgeelhaar/blade/internal/shared/application"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// CredentialRevoker ends a user's calendar grant. oauth.Service implements it.
type CredentialRevoker interface {
	Connected(ctx context.Context, userID uuid.UUID) (bool, error)
	Revoke(ctx context.Context, userID uuid.UUID) error
	Forget(ctx context.Context, userID uuid.UUID) error
}

// DisconnectCommand identifies who to disconnect.
type DisconnectCommand struct {
	Email string
	// PurgeBusyBlocks also deletes the user's external_sync blocks.
	PurgeBusyBlocks bool
}

// DisconnectResult reports what a disconnect did.
type DisconnectResult struct {
	Revoked      bool
	PurgedBlocks int
}

// DisconnectService removes a user's calendar credential.
type DisconnectService struct {
	users      identityDomain.UserRepository
	creds      CredentialRevoker
	blocks     domain.BusyBlockRepository
	outboxRepo outbox.Repository
	uow        application.UnitOfWork
	logger     *slog.Logger
}

// NewDisconnectService creates a DisconnectService.
func NewDisconnectService(
	users identityDomain.UserRepository,
	creds CredentialRevoker,
	blocks domain.BusyBlockRepository,
	outboxRepo outbox.Repository,
	uow application.UnitOfWork,
	logger *slog.Logger,
) *DisconnectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisconnectService{
		users:      users,
		creds:      creds,
		blocks:     blocks,
		outboxRepo: outboxRepo,
		uow:        uow,
		logger:     logger,
	}
}

// Disconnect revokes the grant at the provider when possible, then deletes
// the credential, optionally purges synced blocks and records the
// disconnect in one unit of work. A user without a credential gets
// ErrNotConnected.
func (s *DisconnectService) Disconnect(ctx context.Context, cmd DisconnectCommand) (DisconnectResult, error) {
	addr, err := identityDomain.NewEmail(cmd.Email)
	if err != nil {
		return DisconnectResult{}, err
	}
	user, err := s.users.FindByEmail(ctx, addr)
	if err != nil {
		return DisconnectResult{}, err
	}
	userID := user.ID()

	connected, err := s.creds.Connected(ctx, userID)
	if err != nil {
		return DisconnectResult{}, fmt.Errorf("check calendar connection: %w", err)
	}
	if !connected {
		return DisconnectResult{}, domain.ErrNotConnected
	}

	var result DisconnectResult
	switch err := s.creds.Revoke(ctx, userID); {
	case err == nil:
		result.Revoked = true
	case errors.Is(err, oauth.ErrRevocationDisabled):
	default:
		s.logger.Warn("token revocation failed",
			"operation", "disconnect",
			"user_id", userID.String(),
			"error", err,
		)
	}

	err = application.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.creds.Forget(txCtx, userID); err != nil && !errors.Is(err, domain.ErrNotConnected) {
			return fmt.Errorf("delete credential: %w", err)
		}
		if cmd.PurgeBusyBlocks {
			n, err := s.blocks.DeleteByOwnerAndSource(txCtx, userID, domain.SourceExternalSync)
			if err != nil {
				return fmt.Errorf("purge synced blocks: %w", err)
			}
			result.PurgedBlocks = n
		}
		return outbox.Record(txCtx, s.outboxRepo, identityDomain.NewCredentialDisconnected(userID, result.Revoked, result.PurgedBlocks))
	})
	if err != nil {
		return DisconnectResult{}, err
	}

	s.logger.Info("calendar disconnected",
		"operation", "disconnect",
		"user_id", userID.String(),
		"revoked", result.Revoked,
		"purged_blocks", result.PurgedBlocks,
	)
	return result, nil
}
