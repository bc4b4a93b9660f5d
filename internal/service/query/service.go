package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/repository"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
	redisrepo "github.com/prasetyo/tiketin/internal/repository/redis"
)

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
}

type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID through the cache.
//
// Returns:
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	key := redisrepo.KeyEventSummary(id)

	event, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.Event, error) {
			e, err := s.store.Events().Get(ctx, id)
			if err != nil {
				return domain.Event{}, err
			}
			return *e, nil
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &event, nil
}

// Availability reports the event's remaining capacity, cached with a
// short TTL. Seats held by pending orders count as taken.
//
// Returns:
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) Availability(ctx context.Context, id int64) (*domain.EventAvailability, error) {
	const op = "service.query.Availability"

	key := redisrepo.KeyEventAvailability(id)

	avail, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.EventAvailability, error) {
			a, err := s.store.Events().Availability(ctx, id)
			if err != nil {
				return domain.EventAvailability{}, err
			}
			return *a, nil
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &avail, nil
}

// GetOrder retrieves an order with its tickets and payment records.
//
// Returns:
//   - error: query.ErrOrderNotFound if the order id is unknown.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.OrderWithTickets, error) {
	const op = "service.query.GetOrder"

	o, err := s.store.Orders().OrderWithTickets(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return o, nil
}
