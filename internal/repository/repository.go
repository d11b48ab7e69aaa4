package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bookshelf-api/internal/store"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a conditional write lost against a newer version.
	ErrConflict = errors.New("repository: version conflict")
	// ErrDuplicateEmail indicates an account already exists for the email.
	ErrDuplicateEmail = errors.New("repository: duplicate email")
)

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Books *BooksRepository
	Users *UsersRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool(), st.QueryTimeout())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
// A zero timeout leaves deadlines to the caller's context.
func NewWithPool(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	q := querier{pool: pool, timeout: timeout}
	return &Repository{
		Books: &BooksRepository{q: q},
		Users: &UsersRepository{q: q},
	}
}

type querier struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func (q querier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, q.timeout)
}
