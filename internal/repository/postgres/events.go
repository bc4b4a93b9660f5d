package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetyo/tiketin/internal/domain"
	"github.com/prasetyo/tiketin/internal/repository"
)

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const eventColumns = `id, title, description, price, max_participants,
		current_participants, status, starts_at`

// Get retrieves an event by its ID.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT `+eventColumns+`
       	 FROM events WHERE id = $1`,
		id,
	).Scan(
		&e.ID, &e.Title, &e.Description, &e.Price, &e.MaxParticipants,
		&e.CurrentParticipants, &e.Status, &e.StartsAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// GetForUpdate locks the event row for the rest of the enclosing
// transaction. Must only be called through With(tx).
func (r *EventRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetForUpdate"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT `+eventColumns+`
       	 FROM events WHERE id = $1
     	 FOR UPDATE`,
		id,
	).Scan(
		&e.ID, &e.Title, &e.Description, &e.Price, &e.MaxParticipants,
		&e.CurrentParticipants, &e.Status, &e.StartsAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

// Availability reports the capacity picture for an event. A seat
// counts as taken while any ticket for it is pending or active, so
// unsettled orders hold their seats until reconciliation resolves
// them.
//
// Returns:
//   - *domain.EventAvailability: capacity, consumed, held and free counts.
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Availability(ctx context.Context, id int64) (*domain.EventAvailability, error) {
	const op = "postgres.EventRepo.Availability"

	db := r.handle()

	var a domain.EventAvailability
	err := db.QueryRow(ctx,
		`SELECT e.max_participants,
        	    e.current_participants,
        	    count(t.id) FILTER (WHERE t.status = 'pending')
    	 FROM events e
    	 LEFT JOIN tickets t ON t.event_id = e.id
   		 WHERE e.id = $1
   		 GROUP BY e.id`,
		id,
	).Scan(&a.Capacity, &a.Consumed, &a.Held)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	a.Available = a.Capacity - a.Consumed - a.Held
	if a.Available < 0 {
		a.Available = 0
	}

	return &a, nil
}

// CountTaken returns the number of tickets currently pending or active
// for the event. Inside a transaction that has locked the event row
// this is the authoritative seat count for the capacity check.
func (r *EventRepo) CountTaken(ctx context.Context, id int64) (int, error) {
	const op = "postgres.EventRepo.CountTaken"

	db := r.handle()

	var n int
	err := db.QueryRow(ctx,
		`SELECT count(*)
       	 FROM tickets
      	 WHERE event_id = $1 AND status IN ('pending', 'active')`,
		id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return n, nil
}

// IncrementConsumed adds qty to the event's consumed-seat counter with
// a single conditional update bounded by capacity. If the increment
// would exceed capacity nothing is written.
//
// Returns:
//   - error: repository.ErrCapacityExceeded if the increment would
//     push consumed past capacity; state is left unchanged.
func (r *EventRepo) IncrementConsumed(ctx context.Context, id int64, qty int) error {
	const op = "postgres.EventRepo.IncrementConsumed"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE events
        	SET current_participants = current_participants + $2
      	 WHERE id = $1
        	AND current_participants + $2 <= max_participants`,
		id, qty,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrCapacityExceeded)
	}

	return nil
}

func (r *EventRepo) Create(ctx context.Context, e *domain.Event) (int64, error) {
	const op = "postgres.EventRepo.Create"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO events(title, description, price, max_participants, status, starts_at)
       	 VALUES ($1, $2, $3, $4, $5, $6)
     	 RETURNING id`,
		e.Title, e.Description, e.Price, e.MaxParticipants, e.Status, e.StartsAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// Update edits mutable event fields. Capacity can only grow past the
// consumed count; the WHERE clause refuses shrinking below it.
func (r *EventRepo) Update(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Update"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE events
        	SET title = $2,
            	description = $3,
            	price = $4,
            	max_participants = $5,
            	status = $6,
            	starts_at = $7
      	 WHERE id = $1
        	AND $5 >= current_participants`,
		e.ID, e.Title, e.Description, e.Price, e.MaxParticipants, e.Status, e.StartsAt,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
