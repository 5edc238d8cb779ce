package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/google/uuid"
)

// CreateBusyCommand describes a manually entered busy block.
type CreateBusyCommand struct {
	Email       string
	Start       time.Time
	End         time.Time
	Label       string
	Description string
}

// BusyService manages manual busy blocks and lists a user's availability.
type BusyService struct {
	users  identityDomain.UserRepository
	blocks domain.BusyBlockRepository
	logger *slog.Logger
}

// NewBusyService creates a BusyService.
func NewBusyService(users identityDomain.UserRepository, blocks domain.BusyBlockRepository, logger *slog.Logger) *BusyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusyService{users: users, blocks: blocks, logger: logger}
}

// Create stores a manual block for the user with cmd.Email.
func (s *BusyService) Create(ctx context.Context, cmd CreateBusyCommand) (*domain.BusyBlock, error) {
	user, err := s.findUser(ctx, cmd.Email)
	if err != nil {
		return nil, err
	}
	block, err := domain.NewManualBusyBlock(ownerOf(user), cmd.Start, cmd.End, cmd.Label, cmd.Description)
	if err != nil {
		return nil, err
	}
	if err := s.blocks.Save(ctx, block); err != nil {
		return nil, fmt.Errorf("save busy block: %w", err)
	}
	s.logger.Debug("busy block created", "operation", "create_busy", "user_id", user.ID().String(), "block_id", block.ID().String())
	return block, nil
}

// List returns every block of the user with email, ordered by start.
func (s *BusyService) List(ctx context.Context, email string) ([]*domain.BusyBlock, error) {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.blocks.ListByOwner(ctx, user.ID())
}

// Delete removes one block by id.
func (s *BusyService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.blocks.Delete(ctx, id)
}

func (s *BusyService) findUser(ctx context.Context, email string) (*identityDomain.User, error) {
	addr, err := identityDomain.NewEmail(email)
	if err != nil {
		return nil, err
	}
	return s.users.FindByEmail(ctx, addr)
}
