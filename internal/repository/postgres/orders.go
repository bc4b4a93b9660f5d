package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/repository"
)

type OrderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OrderRepo) With(db DB) *OrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

type CreateOrderParams struct {
	EventID int64
	UserID  int64
	OrderID string
	Codes   []string
	Method  string
}

type CreateOrderResult struct {
	Event     *domain.Event
	Tickets   []domain.Ticket
	Activated int // tickets granted immediately on the free path
}

// CreateOrder runs the whole reservation as one serializable unit:
// lock the event row, check the capacity against every pending and
// active ticket, batch-create ticket+payment pairs, and on a free
// event activate them and bump the consumed counter in the same
// transaction. Either everything commits or nothing does.
//
// Returns:
//   - *CreateOrderResult: the locked event and created tickets.
//   - error: repository.ErrNotFound if the event does not exist.
//   - error: repository.ErrEventInactive if the event is not selling.
//   - error: *repository.InsufficientCapacityError if fewer seats
//     remain than requested; no state is mutated.
//   - error: repository.ErrConflict on a ticket-code collision; the
//     caller regenerates codes and retries.
func (r *OrderRepo) CreateOrder(ctx context.Context, p CreateOrderParams) (*CreateOrderResult, error) {
	const op = "postgres.OrderRepo.CreateOrder"

	if r.db != nil {
		res, err := r.createOrderCore(ctx, r.db, p)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return res, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	res, err := r.createOrderCore(ctx, tx, p)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

func (r *OrderRepo) createOrderCore(ctx context.Context, db DB, p CreateOrderParams) (*CreateOrderResult, error) {
	events := (&EventRepo{}).With(db)

	event, err := events.GetForUpdate(ctx, p.EventID)
	if err != nil {
		return nil, err
	}

	if event.Status != domain.EventActive {
		return nil, repository.ErrEventInactive
	}

	taken, err := events.CountTaken(ctx, p.EventID)
	if err != nil {
		return nil, err
	}

	available := event.MaxParticipants - taken
	if len(p.Codes) > available {
		if available < 0 {
			available = 0
		}
		return nil, &repository.InsufficientCapacityError{Available: available}
	}

	tickets := make([]domain.Ticket, 0, len(p.Codes))

	batch := &pgx.Batch{}
	for _, code := range p.Codes {
		t := domain.Ticket{
			ID:      uuid.New(),
			EventID: p.EventID,
			UserID:  p.UserID,
			Code:    code,
			Status:  domain.TicketPending,
		}
		tickets = append(tickets, t)

		batch.Queue(
			`INSERT INTO tickets(id, event_id, user_id, code, status)
         	 VALUES ($1, $2, $3, $4, 'pending')`,
			t.ID, t.EventID, t.UserID, t.Code,
		)
		batch.Queue(
			`INSERT INTO payments(id, ticket_id, event_id, user_id, order_id, amount, method, status)
         	 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')`,
			uuid.New(), t.ID, p.EventID, p.UserID, p.OrderID, event.Price, p.Method,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}

	res := &CreateOrderResult{Event: event, Tickets: tickets}

	if !event.Free() {
		return res, nil
	}

	// Free path: grant immediately, still inside the same transaction.
	ids := ticketIDs(tickets)

	tag, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'active'
      	 WHERE id = ANY($1) AND status = 'pending'`,
		ids,
	)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx,
		`UPDATE payments SET status = 'success', paid_at = now()
      	 WHERE order_id = $1 AND status = 'pending'`,
		p.OrderID,
	); err != nil {
		return nil, err
	}

	activated := int(tag.RowsAffected())
	if activated > 0 {
		if err := events.IncrementConsumed(ctx, p.EventID, activated); err != nil {
			return nil, err
		}
	}

	res.Activated = activated
	for i := range res.Tickets {
		res.Tickets[i].Status = domain.TicketActive
	}

	return res, nil
}

type ApplyResult struct {
	EventID      int64
	Transitioned int // tickets moved out of pending by this call
}

// ApplySuccess settles every pending payment of the order, activates
// the referenced tickets and bumps the event's consumed counter by the
// number of tickets this call actually transitioned. Re-delivery of
// the same notification finds no pending rows and changes nothing, so
// the consumed counter can never be incremented twice for one ticket.
//
// Returns:
//   - *ApplyResult: Transitioned is 0 when the order was already
//     settled (or unknown).
//   - error: repository.ErrCapacityExceeded if the increment would
//     break the capacity invariant; the transaction is rolled back.
func (r *OrderRepo) ApplySuccess(ctx context.Context, orderID string) (*ApplyResult, error) {
	const op = "postgres.OrderRepo.ApplySuccess"

	if r.db != nil {
		res, err := r.applySuccessCore(ctx, r.db, orderID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return res, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	res, err := r.applySuccessCore(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

func (r *OrderRepo) applySuccessCore(ctx context.Context, db DB, orderID string) (*ApplyResult, error) {
	ids, eventID, err := settlePayments(ctx, db, orderID, domain.PaymentSuccess)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return &ApplyResult{EventID: eventID}, nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'active'
      	 WHERE id = ANY($1) AND status = 'pending'`,
		ids,
	)
	if err != nil {
		return nil, err
	}

	transitioned := int(tag.RowsAffected())
	if transitioned > 0 {
		events := (&EventRepo{}).With(db)
		if err := events.IncrementConsumed(ctx, eventID, transitioned); err != nil {
			return nil, err
		}
	}

	return &ApplyResult{EventID: eventID, Transitioned: transitioned}, nil
}

// ApplyFailure fails every pending payment of the order and revokes
// the referenced tickets. The consumed counter is untouched: paid-path
// seats are only consumed on success.
func (r *OrderRepo) ApplyFailure(ctx context.Context, orderID string) (*ApplyResult, error) {
	const op = "postgres.OrderRepo.ApplyFailure"

	if r.db != nil {
		res, err := r.applyFailureCore(ctx, r.db, orderID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return res, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	res, err := r.applyFailureCore(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

func (r *OrderRepo) applyFailureCore(ctx context.Context, db DB, orderID string) (*ApplyResult, error) {
	ids, eventID, err := settlePayments(ctx, db, orderID, domain.PaymentFailed)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return &ApplyResult{EventID: eventID}, nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE tickets SET status = 'revoked'
      	 WHERE id = ANY($1) AND status = 'pending'`,
		ids,
	)
	if err != nil {
		return nil, err
	}

	return &ApplyResult{EventID: eventID, Transitioned: int(tag.RowsAffected())}, nil
}

// settlePayments transitions the order's pending payments to a final
// status and returns the referenced ticket IDs. Only rows still
// pending are touched, which is what makes reconciliation idempotent:
// a repeated notification finds nothing left to transition.
func settlePayments(
	ctx context.Context,
	db DB,
	orderID string,
	status domain.PaymentStatus,
) ([]uuid.UUID, int64, error) {
	rows, err := db.Query(ctx,
		`UPDATE payments
        	SET status = $2,
            	paid_at = CASE WHEN $2 = 'success' THEN now() ELSE paid_at END
      	 WHERE order_id = $1 AND status = 'pending'
     	 RETURNING ticket_id, event_id`,
		orderID, status,
	)
	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	var ids []uuid.UUID
	var eventID int64
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id, &eventID); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return ids, eventID, nil
}

// PaymentsByOrder returns every payment record referencing the order
// identifier, possibly none.
func (r *OrderRepo) PaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	const op = "postgres.OrderRepo.PaymentsByOrder"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, ticket_id, event_id, user_id, order_id, amount, method, status, paid_at, created_at
       	 FROM payments
      	 WHERE order_id = $1`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID, &p.TicketID, &p.EventID, &p.UserID, &p.OrderID,
			&p.Amount, &p.Method, &p.Status, &p.PaidAt, &p.Created,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// OrderWithTickets loads the order's tickets and payments.
//
// Returns:
//   - error: repository.ErrNotFound if the order id is unknown.
func (r *OrderRepo) OrderWithTickets(ctx context.Context, orderID string) (*domain.OrderWithTickets, error) {
	const op = "postgres.OrderRepo.OrderWithTickets"

	payments, err := r.PaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if len(payments) == 0 {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT t.id, t.event_id, t.user_id, t.code, t.status, t.created_at
       	 FROM tickets t
       	 JOIN payments p ON p.ticket_id = t.id
      	 WHERE p.order_id = $1
      	 ORDER BY t.created_at`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.EventID, &t.UserID, &t.Code, &t.Status, &t.Created); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &domain.OrderWithTickets{
		OrderID:  orderID,
		EventID:  payments[0].EventID,
		UserID:   payments[0].UserID,
		Tickets:  tickets,
		Payments: payments,
	}, nil
}

// ExpirePending reclaims orders whose payment never arrived: payments
// pending longer than maxAge are failed and their tickets revoked, all
// in one serializable transaction. The capacity these rows held is
// released the moment the tickets leave pending; no counter change is
// needed.
func (r *OrderRepo) ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	const op = "postgres.OrderRepo.ExpirePending"

	if r.db != nil {
		n, err := expirePendingCore(ctx, r.db, maxAge)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return n, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	n, err := expirePendingCore(ctx, tx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return n, nil
}

func expirePendingCore(ctx context.Context, db DB, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	// Payments first. Once they are failed a settlement racing the
	// sweep finds no pending rows, so it can never settle an order
	// whose tickets are about to be revoked.
	rows, err := db.Query(ctx,
		`UPDATE payments SET status = 'failed'
      	 WHERE status = 'pending' AND created_at <= $1
     	 RETURNING ticket_id`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	// Closed before the next statement runs on the same transaction.
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var expired int64
	if len(ids) > 0 {
		tag, err := db.Exec(ctx,
			`UPDATE tickets SET status = 'revoked'
          	 WHERE id = ANY($1) AND status = 'pending'`,
			ids,
		)
		if err != nil {
			return 0, err
		}
		expired = tag.RowsAffected()
	}

	// Hygiene: revoked tickets whose payment is confirmed failed are
	// gone for good after twice the TTL.
	if _, err := db.Exec(ctx,
		`DELETE FROM tickets t
       	 USING payments p
      	 WHERE p.ticket_id = t.id
        	AND t.status = 'revoked'
        	AND p.status = 'failed'
        	AND t.created_at <= $1`,
		time.Now().Add(-2*maxAge),
	); err != nil {
		return 0, err
	}

	return expired, nil
}

func ticketIDs(tickets []domain.Ticket) []uuid.UUID {
	ids := make([]uuid.UUID, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return ids
}
