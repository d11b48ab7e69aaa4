package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Clark-Hu/bookshelf-api/internal/domain"
)

const uniqueViolation = "23505"

// UsersRepository persists accounts.
type UsersRepository struct {
	q querier
}

// Create inserts an account. Emails are unique case-insensitively.
func (r *UsersRepository) Create(ctx context.Context, email, passwordHash string) (domain.User, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	const query = `
        INSERT INTO users (email, password_hash)
        VALUES ($1, $2)
        RETURNING id, email, password_hash, created_at
    `
	var user domain.User
	err := r.q.pool.QueryRow(ctx, query, strings.TrimSpace(email), passwordHash).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetByEmail fetches an account by email, ignoring case.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	const query = `
        SELECT id, email, password_hash, created_at
        FROM users
        WHERE lower(email) = lower($1)
    `
	var user domain.User
	err := r.q.pool.QueryRow(ctx, query, strings.TrimSpace(email)).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
