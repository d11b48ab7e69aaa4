package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/bookshelf-api/internal/domain"
)

// BooksRepository persists books with optimistic versioning.
type BooksRepository struct {
	q querier
}

const bookColumns = `
    id,
    owner_id,
    title,
    author,
    year,
    genre,
    cover_image_ref,
    ratings,
    average_rating,
    version,
    created_at,
    updated_at
`

// BookCreateParams bundles the fields required to insert a book.
type BookCreateParams struct {
	OwnerID       string
	Title         string
	Author        string
	Year          int
	Genre         string
	CoverImageRef string
}

// ListOptions controls ordering and truncation of List.
type ListOptions struct {
	// ByAverageDesc sorts by average rating, highest first, unrated last.
	ByAverageDesc bool
	// Limit of zero or less returns every row.
	Limit int
}

// Insert stores a new book with no ratings and version 1.
func (r *BooksRepository) Insert(ctx context.Context, params BookCreateParams) (domain.Book, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
        INSERT INTO books (owner_id, title, author, year, genre, cover_image_ref)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING %s
    `, bookColumns)

	row := r.q.pool.QueryRow(ctx, query, params.OwnerID, params.Title, params.Author, params.Year, params.Genre, params.CoverImageRef)
	book, err := scanBook(row)
	if err != nil {
		return domain.Book{}, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

// FindByID fetches a book by its identifier. Malformed ids are reported as
// ErrNotFound.
func (r *BooksRepository) FindByID(ctx context.Context, id string) (domain.Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Book{}, ErrNotFound
	}
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM books WHERE id = $1`, bookColumns)
	book, err := scanBook(r.q.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Book{}, ErrNotFound
		}
		return domain.Book{}, fmt.Errorf("find book: %w", err)
	}
	return book, nil
}

// Replace overwrites every mutable column of book, provided the stored
// version still equals book.Version. The owner column is never written.
func (r *BooksRepository) Replace(ctx context.Context, book domain.Book) (domain.Book, error) {
	if _, err := uuid.Parse(book.ID); err != nil {
		return domain.Book{}, ErrNotFound
	}
	ratingsJSON, err := marshalRatings(book.Ratings)
	if err != nil {
		return domain.Book{}, err
	}

	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
        UPDATE books
        SET title = $3,
            author = $4,
            year = $5,
            genre = $6,
            cover_image_ref = $7,
            ratings = $8,
            average_rating = $9,
            version = version + 1,
            updated_at = now()
        WHERE id = $1 AND version = $2
        RETURNING %s
    `, bookColumns)

	row := r.q.pool.QueryRow(ctx, query, book.ID, book.Version, book.Title, book.Author, book.Year, book.Genre,
		book.CoverImageRef, ratingsJSON, book.AverageRating)
	updated, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Book{}, r.missOrConflict(ctx, book.ID)
		}
		return domain.Book{}, fmt.Errorf("replace book: %w", err)
	}
	return updated, nil
}

// Delete removes the book if its stored version equals version.
func (r *BooksRepository) Delete(ctx context.Context, id string, version int64) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	tag, err := r.q.pool.Exec(ctx, `DELETE FROM books WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// List scans books in insertion order, or by average when requested.
func (r *BooksRepository) List(ctx context.Context, opts ListOptions) ([]domain.Book, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	order := "created_at ASC, id ASC"
	if opts.ByAverageDesc {
		order = "average_rating DESC NULLS LAST, created_at ASC, id ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM books ORDER BY %s`, bookColumns, order)
	args := []interface{}{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
	}

	rows, err := r.q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := make([]domain.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *BooksRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.q.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check book existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func scanBook(row pgx.Row) (domain.Book, error) {
	var (
		book        domain.Book
		ratingsJSON []byte
		average     *float64
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&book.ID,
		&book.OwnerID,
		&book.Title,
		&book.Author,
		&book.Year,
		&book.Genre,
		&book.CoverImageRef,
		&ratingsJSON,
		&average,
		&book.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Book{}, err
	}

	book.AverageRating = average
	book.CreatedAt = createdAt
	book.UpdatedAt = updatedAt
	book.Ratings = []domain.Rating{}
	if len(ratingsJSON) > 0 {
		if err := json.Unmarshal(ratingsJSON, &book.Ratings); err != nil {
			return domain.Book{}, fmt.Errorf("decode ratings: %w", err)
		}
	}
	return book, nil
}

func marshalRatings(ratings []domain.Rating) ([]byte, error) {
	if ratings == nil {
		ratings = []domain.Rating{}
	}
	return json.Marshal(ratings)
}
