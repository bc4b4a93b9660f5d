// Package admin holds the thin record-store wrappers behind the admin
// endpoints: event and user management without any selling logic.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/repository"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
	redisrepo "github.com/prasetyo/tiketin/internal/repository/redis"
	"github.com/prasetyo/tiketin/internal/uow"
)

type Service struct {
	store  *postgresrepo.Store
	cache  *redisrepo.Cache
	pubsub *redisrepo.EventsPubSub
	uow    *uow.UoW
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, pubsub *redisrepo.EventsPubSub) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		uow:    uow.NewUoW(store),
	}
}

// CreateEvent creates an event record and returns its ID.
func (s *Service) CreateEvent(ctx context.Context, e *domain.Event) (int64, error) {
	const op = "service.admin.CreateEvent"

	if e.Status == "" {
		e.Status = domain.EventActive
	}

	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.Events().With(tx).Create(ctx, e)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})

	return id, err
}

// UpdateEvent edits an event's mutable fields within a transactional
// Unit of Work and invalidates its cache entries after commit.
//
// Returns:
//   - error: admin.ErrEventNotFound if the event does not exist or the
//     new capacity would fall below the already consumed count.
func (s *Service) UpdateEvent(ctx context.Context, e *domain.Event) error {
	const op = "service.admin.UpdateEvent"

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		if err := s.store.Events().With(tx).Update(ctx, e); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s: %w", op, ErrEventNotFound)
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, e.ID)
			_ = s.pubsub.PublishEventChanged(ctx, e.ID)
		})
		return nil
	})

	return err
}

// CreateUser creates a buyer record.
//
// Returns:
//   - error: admin.ErrUserConflict if the email is already registered.
func (s *Service) CreateUser(ctx context.Context, u *domain.User) (int64, error) {
	const op = "service.admin.CreateUser"

	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.Users().With(tx).Create(ctx, u)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s: %w", op, ErrUserConflict)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})

	return id, err
}
