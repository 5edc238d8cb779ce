// Package users registers squad members and looks them up.
package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/felixgeelhaar/blade/internal/shared/application"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
)

// RegisterCommand contains the data for a new user.
type RegisterCommand struct {
	Email    string
	Name     string
	Username string
	Squad    string
	Age      *int
	Weight   *float64
	Height   *float64
}

// Service handles user registration and lookup.
type Service struct {
	users      domain.UserRepository
	outboxRepo outbox.Repository
	uow        application.UnitOfWork
	logger     *slog.Logger
}

// NewService creates a user service.
func NewService(users domain.UserRepository, outboxRepo outbox.Repository, uow application.UnitOfWork, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, outboxRepo: outboxRepo, uow: uow, logger: logger}
}

// Register creates a user. Email and name must be unique.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*domain.User, error) {
	email, err := domain.NewEmail(cmd.Email)
	if err != nil {
		return nil, err
	}
	name, err := domain.NewName(cmd.Name)
	if err != nil {
		return nil, err
	}
	user, err := domain.NewUser(email, name, domain.Profile{
		Username: cmd.Username,
		Squad:    cmd.Squad,
		Age:      cmd.Age,
		Weight:   cmd.Weight,
		Height:   cmd.Height,
	})
	if err != nil {
		return nil, err
	}

	err = application.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.users.Create(txCtx, user); err != nil {
			return err
		}
		return outbox.Record(txCtx, s.outboxRepo, user.DomainEvents()...)
	})
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	user.ClearDomainEvents()

	s.logger.Info("user registered", "operation", "register_user", "user_id", user.ID().String())
	return user, nil
}

// FindByEmail looks a user up by email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	addr, err := domain.NewEmail(email)
	if err != nil {
		return nil, err
	}
	return s.users.FindByEmail(ctx, addr)
}
