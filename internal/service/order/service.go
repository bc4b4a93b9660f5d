package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/midtrans"
	"github.com/prasetyo/tiketin/internal/repository"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
	redisrepo "github.com/prasetyo/tiketin/internal/repository/redis"
	"github.com/prasetyo/tiketin/internal/ticketcode"
)

// maxCreateAttempts bounds retries on ticket-code collisions and
// serialization failures before the reservation is given up.
const maxCreateAttempts = 3

// maxOrderQuantity caps tickets per checkout. The cap is checked
// before any code generation, so an absurd quantity costs nothing.
const maxOrderQuantity = 10

// OrderStore is the slice of the persistence layer the orchestrator
// needs. *postgresrepo.OrderRepo implements it.
type OrderStore interface {
	CreateOrder(ctx context.Context, p postgresrepo.CreateOrderParams) (*postgresrepo.CreateOrderResult, error)
	ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error)
}

// UserStore resolves buyers. *postgresrepo.UserRepo implements it.
type UserStore interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
}

// Gateway opens payment sessions. *midtrans.Client implements it.
type Gateway interface {
	CreateTransaction(ctx context.Context, req *midtrans.SnapRequest) (*midtrans.SnapResponse, error)
}

type Config struct {
	CodePrefix    string
	PaymentMethod string
	PendingTTL    time.Duration
}

type Service struct {
	orders  OrderStore
	users   UserStore
	gateway Gateway
	cache   *redisrepo.Cache
	pubsub  *redisrepo.EventsPubSub
	limiter *redisrepo.SlidingWindowLimiter
	codes   *ticketcode.Generator
	logger  *slog.Logger
	cfg     Config
}

func New(
	orders OrderStore,
	users UserStore,
	gateway Gateway,
	cache *redisrepo.Cache,
	pubsub *redisrepo.EventsPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "TIX"
	}

	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "midtrans"
	}

	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		orders:  orders,
		users:   users,
		gateway: gateway,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		codes:   ticketcode.New(cfg.CodePrefix),
		logger:  logger,
		cfg:     cfg,
	}
}

// Result is what the buyer gets back from a reservation. SnapToken is
// empty for free events: those are granted immediately with no
// gateway session.
type Result struct {
	OrderID     string
	TicketCodes []string
	Free        bool
	SnapToken   string
	RedirectURL string
}

// CreateOrder reserves qty seats on an event for a buyer.
//
// The capacity check and the pending ticket/payment writes happen in
// one serializable transaction in the store, so two buyers racing for
// the last seats cannot both win. On a paid event the gateway session
// is opened only after that transaction committed; a gateway failure
// leaves the rows pending for the expiry sweep, never half-written.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID, userID: the event and the buyer.
//   - qty: number of tickets, 1 to maxOrderQuantity.
//   - rlKey: rate-limit bucket key, usually derived from the client IP;
//     empty disables limiting for this call.
//
// Returns:
//   - *Result: order id, ticket codes, and the Snap token on the paid path.
//   - error: order.ErrEventNotFound, order.ErrUserNotFound,
//     order.ErrEventInactive, order.ErrInvalidQuantity,
//     order.ErrQuantityTooLarge, *order.InsufficientCapacityError, or
//     a wrapped *midtrans.GatewayError.
func (s *Service) CreateOrder(
	ctx context.Context,
	eventID, userID int64,
	qty int,
	rlKey string,
) (*Result, error) {
	const op = "service.order.CreateOrder"

	if qty < 1 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidQuantity)
	}

	if qty > maxOrderQuantity {
		return nil, fmt.Errorf("%s:%w", op, ErrQuantityTooLarge)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: rate limited, retry in %s", op, retry)
		}
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	orderID, err := ticketcode.OrderID()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	res, err := s.createWithRetry(ctx, eventID, userID, orderID, qty)
	if err != nil {
		var capErr *repository.InsufficientCapacityError
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		case errors.Is(err, repository.ErrEventInactive):
			return nil, fmt.Errorf("%s:%w", op, ErrEventInactive)
		case errors.As(err, &capErr):
			return nil, fmt.Errorf("%s:%w", op, &InsufficientCapacityError{Available: capErr.Available})
		default:
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	s.afterChange(ctx, eventID)

	out := &Result{
		OrderID:     orderID,
		TicketCodes: codesOf(res.Tickets),
		Free:        res.Event.Free(),
	}

	if res.Event.Free() {
		return out, nil
	}

	snap, err := s.gateway.CreateTransaction(ctx, &midtrans.SnapRequest{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:     orderID,
			GrossAmount: res.Event.Price * int64(qty),
		},
		CustomerDetails: midtrans.CustomerDetails{
			FirstName: user.FullName,
			Email:     user.Email,
			Phone:     user.Phone,
		},
		ItemDetails: []midtrans.ItemDetail{{
			ID:       strconv.FormatInt(eventID, 10),
			Price:    res.Event.Price,
			Quantity: qty,
			Name:     midtrans.TruncateItemName(res.Event.Title),
		}},
	})
	if err != nil {
		// Tickets and payments stay pending; no webhook will ever come
		// for this order id, so the expiry sweep reclaims them.
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out.SnapToken = snap.Token
	out.RedirectURL = snap.RedirectURL

	return out, nil
}

// createWithRetry reruns the reservation transaction on ticket-code
// collisions (fresh codes each attempt) and on serialization failures.
func (s *Service) createWithRetry(
	ctx context.Context,
	eventID, userID int64,
	orderID string,
	qty int,
) (*postgresrepo.CreateOrderResult, error) {
	var lastErr error

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		codes, err := s.codes.Codes(qty)
		if err != nil {
			return nil, err
		}

		res, err := s.orders.CreateOrder(ctx, postgresrepo.CreateOrderParams{
			EventID: eventID,
			UserID:  userID,
			OrderID: orderID,
			Codes:   codes,
			Method:  s.cfg.PaymentMethod,
		})
		if err == nil {
			return res, nil
		}

		lastErr = err

		if errors.Is(err, repository.ErrConflict) || postgresrepo.IsRetryable(err) {
			s.logger.Warn("reservation retry",
				"event_id", eventID,
				"order_id", orderID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// Expire fails pending orders older than the configured TTL. Runs
// periodically from the app's background sweep.
func (s *Service) Expire(ctx context.Context) (int64, error) {
	const op = "service.order.Expire"

	expired, err := s.orders.ExpirePending(ctx, s.cfg.PendingTTL)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return expired, nil
}

func (s *Service) afterChange(ctx context.Context, eventID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateEvent(ctx, eventID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishEventChanged(ctx, eventID)
	}
}

func codesOf(tickets []domain.Ticket) []string {
	codes := make([]string, len(tickets))
	for i, t := range tickets {
		codes[i] = t.Code
	}
	return codes
}
