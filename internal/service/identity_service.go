package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/repository"
	"github.com/kestrelchat/kestrel/lib/logger/sl"
)

type IdentityService struct {
	users repository.UserRepository
	log   *slog.Logger
}

func NewIdentityService(users repository.UserRepository, log *slog.Logger) *IdentityService {
	if log == nil {
		log = slog.Default()
	}
	return &IdentityService{users: users, log: log}
}

// EnsureUser upserts the user row from a verified token identity. Tokens are
// the source of truth for display name and role, so both are refreshed on
// every connect.
func (s *IdentityService) EnsureUser(ctx context.Context, id uuid.UUID, name, role string) (*domain.User, error) {
	const op = "service.identity.ensureUser"
	log := s.log.With(slog.String("op", op), slog.String("user_id", id.String()))

	if id == uuid.Nil {
		return nil, errors.New("user id is required")
	}

	now := time.Now().UTC()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			user = &domain.User{
				ID:        id,
				Name:      name,
				Role:      role,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.users.Save(ctx, user); err != nil {
				log.Error("failed to create user", sl.Err(err))
				return nil, err
			}
			return user, nil
		}
		log.Error("failed to load user", sl.Err(err))
		return nil, err
	}

	if user.Name == name && user.Role == role {
		return user, nil
	}
	user.Name = name
	user.Role = role
	user.UpdatedAt = now
	if err := s.users.Save(ctx, user); err != nil {
		log.Error("failed to update user", sl.Err(err))
		return nil, err
	}
	return user, nil
}

func (s *IdentityService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}
