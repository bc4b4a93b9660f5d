package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetyo/tiketin/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *UserRepo) With(db DB) *UserRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *UserRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get retrieves a user by ID.
//
// Returns:
//   - *domain.User: the user when found.
//   - error: repository.ErrNotFound if the user does not exist.
func (r *UserRepo) Get(ctx context.Context, id int64) (*domain.User, error) {
	const op = "postgres.UserRepo.Get"

	db := r.handle()

	var u domain.User
	err := db.QueryRow(ctx,
		`SELECT id, full_name, email, phone
       	 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) (int64, error) {
	const op = "postgres.UserRepo.Create"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO users(full_name, email, phone)
       	 VALUES ($1, $2, $3)
     	 RETURNING id`,
		u.FullName, u.Email, u.Phone,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}
