// Package reconcile applies Midtrans payment outcomes to ticket,
// payment and inventory state. Notifications can arrive repeatedly,
// concurrently and out of order; every path through here is safe to
// replay.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/midtrans"
	postgresrepo "github.com/prasetyo/tiketin/internal/repository/postgres"
	redisrepo "github.com/prasetyo/tiketin/internal/repository/redis"
)

// Store is the slice of the persistence layer reconciliation needs.
// *postgresrepo.OrderRepo implements it.
type Store interface {
	PaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	ApplySuccess(ctx context.Context, orderID string) (*postgresrepo.ApplyResult, error)
	ApplyFailure(ctx context.Context, orderID string) (*postgresrepo.ApplyResult, error)
}

// Ack is the short status message returned to the gateway. The webhook
// endpoint answers 200 with one of these regardless of what happened
// internally; Midtrans only needs to know the delivery landed.
type Ack string

const (
	AckTest    Ack = "Test OK"
	AckIgnored Ack = "Ignored"
	AckUnknown Ack = "No transaction"
	AckOK      Ack = "OK"
)

type Service struct {
	store    Store
	verifier *midtrans.Verifier
	cache    *redisrepo.Cache
	pubsub   *redisrepo.EventsPubSub
	logger   *slog.Logger
}

func New(
	store Store,
	verifier *midtrans.Verifier,
	cache *redisrepo.Cache,
	pubsub *redisrepo.EventsPubSub,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:    store,
		verifier: verifier,
		cache:    cache,
		pubsub:   pubsub,
		logger:   logger,
	}
}

// Process runs the reconciliation state machine for one notification:
// liveness probe, signature verification, order lookup, outcome
// mapping, idempotent apply.
//
// The returned error reports internal trouble (storage failures) for
// the caller to log; the Ack is valid either way and the webhook
// endpoint must answer 200 with it regardless, so the gateway stops
// redelivering.
func (s *Service) Process(ctx context.Context, n *midtrans.Notification) (Ack, error) {
	const op = "service.reconcile.Process"

	if n.Probe() {
		return AckTest, nil
	}

	if !s.verifier.Valid(n) {
		// Untrusted sender. Acknowledged but never acted on.
		s.logger.Warn("notification signature mismatch",
			"order_id", n.OrderID,
			"transaction_status", n.TransactionStatus,
		)
		return AckIgnored, nil
	}

	payments, err := s.store.PaymentsByOrder(ctx, n.OrderID)
	if err != nil {
		return AckOK, fmt.Errorf("%s:%w", op, err)
	}

	if len(payments) == 0 {
		// Foreign or stale order id. Nothing to do.
		return AckUnknown, nil
	}

	outcome := midtrans.MapOutcome(n.TransactionStatus, n.FraudStatus)

	switch outcome {
	case midtrans.OutcomeSuccess:
		res, err := s.store.ApplySuccess(ctx, n.OrderID)
		if err != nil {
			return AckOK, fmt.Errorf("%s:%w", op, err)
		}

		if res.Transitioned > 0 {
			s.logger.Info("order settled",
				"order_id", n.OrderID,
				"event_id", res.EventID,
				"tickets_activated", res.Transitioned,
			)
			s.afterChange(ctx, res.EventID)
		}

	case midtrans.OutcomeFailed:
		res, err := s.store.ApplyFailure(ctx, n.OrderID)
		if err != nil {
			return AckOK, fmt.Errorf("%s:%w", op, err)
		}

		if res.Transitioned > 0 {
			s.logger.Info("order failed",
				"order_id", n.OrderID,
				"event_id", res.EventID,
				"transaction_status", n.TransactionStatus,
				"tickets_revoked", res.Transitioned,
			)
			s.afterChange(ctx, res.EventID)
		}

	case midtrans.OutcomePending:
		// Interim status. Wait for the next notification.
	}

	return AckOK, nil
}

func (s *Service) afterChange(ctx context.Context, eventID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateEvent(ctx, eventID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishEventChanged(ctx, eventID)
	}
}
