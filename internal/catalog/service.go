package catalog

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/bookshelf-api/internal/assets"
	"github.com/Clark-Hu/bookshelf-api/internal/domain"
	"github.com/Clark-Hu/bookshelf-api/internal/metrics"
	"github.com/Clark-Hu/bookshelf-api/internal/repository"
)

const (
	defaultMaxRetries     = 5
	defaultCleanupTimeout = 10 * time.Second
)

// BookStore is the record persistence the catalog needs. Replace and Delete
// must fail with repository.ErrConflict when the stored version differs.
type BookStore interface {
	FindByID(ctx context.Context, id string) (domain.Book, error)
	Insert(ctx context.Context, params repository.BookCreateParams) (domain.Book, error)
	Replace(ctx context.Context, book domain.Book) (domain.Book, error)
	Delete(ctx context.Context, id string, version int64) error
	List(ctx context.Context, opts repository.ListOptions) ([]domain.Book, error)
}

// BookInput carries client-supplied descriptive fields. Nil fields are left
// untouched on update. ID and OwnerID are accepted only so they can be
// discarded; they never reach the store.
type BookInput struct {
	ID      *string
	OwnerID *string
	Title   *string
	Author  *string
	Year    *int
	Genre   *string
}

// Options tunes a Service.
type Options struct {
	// MaxRetries bounds reload-and-retry rounds after a version conflict.
	MaxRetries int
	// CleanupTimeout bounds each background asset removal.
	CleanupTimeout time.Duration
	Logger         *log.Logger
	Metrics        *metrics.Metrics
}

// Service enforces ownership on book mutations, keeps cover assets in step
// with the records and aggregates ratings.
type Service struct {
	books          BookStore
	assets         assets.Deleter
	logger         *log.Logger
	metrics        *metrics.Metrics
	maxRetries     int
	cleanupTimeout time.Duration
	locks          *keyedMutex
	validate       *validator.Validate
	cleanups       sync.WaitGroup
}

// New constructs a Service.
func New(books BookStore, assetStore assets.Deleter, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	timeout := opts.CleanupTimeout
	if timeout <= 0 {
		timeout = defaultCleanupTimeout
	}
	return &Service{
		books:          books,
		assets:         assetStore,
		logger:         logger,
		metrics:        opts.Metrics,
		maxRetries:     retries,
		cleanupTimeout: timeout,
		locks:          newKeyedMutex(),
		validate:       validator.New(),
	}
}

type descriptiveFields struct {
	Title  string `validate:"required,max=300"`
	Author string `validate:"required,max=200"`
	Year   int    `validate:"gte=0,lte=9999"`
	Genre  string `validate:"required,max=100"`
}

// sanitized drops the identity fields and trims text fields.
func (in BookInput) sanitized() BookInput {
	out := BookInput{Year: in.Year}
	out.Title = trimmed(in.Title)
	out.Author = trimmed(in.Author)
	out.Genre = trimmed(in.Genre)
	return out
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func (s *Service) checkFields(f descriptiveFields) error {
	if err := s.validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				return validationf("%s is required", field)
			case "max":
				return validationf("%s must be at most %s characters", field, fe.Param())
			default:
				return validationf("%s is out of range", field)
			}
		}
		return validationf("invalid book fields")
	}
	return nil
}

// Create stores a new book owned by ownerID with coverRef as its cover.
// The caller keeps responsibility for coverRef when Create fails.
func (s *Service) Create(ctx context.Context, ownerID string, in BookInput, coverRef string) (domain.Book, error) {
	if ownerID == "" {
		return domain.Book{}, validationf("owner is required")
	}
	if coverRef == "" {
		return domain.Book{}, validationf("cover image is required")
	}
	in = in.sanitized()
	if in.Year == nil {
		return domain.Book{}, validationf("year is required")
	}
	fields := descriptiveFields{Year: *in.Year}
	if in.Title != nil {
		fields.Title = *in.Title
	}
	if in.Author != nil {
		fields.Author = *in.Author
	}
	if in.Genre != nil {
		fields.Genre = *in.Genre
	}
	if err := s.checkFields(fields); err != nil {
		return domain.Book{}, err
	}

	book, err := s.books.Insert(ctx, repository.BookCreateParams{
		OwnerID:       ownerID,
		Title:         fields.Title,
		Author:        fields.Author,
		Year:          fields.Year,
		Genre:         fields.Genre,
		CoverImageRef: coverRef,
	})
	if err != nil {
		return domain.Book{}, persistence("insert book", err)
	}
	return book, nil
}

// Update applies in to the book when requesterID owns it. A non-empty
// newCoverRef replaces the cover; the previous cover is removed in the
// background only after the record write has committed, and removal
// failures are logged rather than returned.
func (s *Service) Update(ctx context.Context, id, requesterID string, in BookInput, newCoverRef string) (domain.Book, error) {
	in = in.sanitized()
	if err := s.checkPatch(in); err != nil {
		return domain.Book{}, err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return domain.Book{}, persistence("wait for book", err)
	}
	defer unlock()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return domain.Book{}, err
		}
		if !current.IsOwnedBy(requesterID) {
			return domain.Book{}, &Error{Kind: KindForbidden, Msg: "only the owner may modify this book"}
		}

		next := applyPatch(current, in)
		oldCover := current.CoverImageRef
		if newCoverRef != "" {
			next.CoverImageRef = newCoverRef
		}

		updated, err := s.books.Replace(ctx, next)
		switch {
		case err == nil:
			if newCoverRef != "" && oldCover != "" && oldCover != newCoverRef {
				s.cleanupAsync(ctx, "update", id, oldCover)
			}
			return updated, nil
		case errors.Is(err, repository.ErrConflict):
			s.metrics.WriteConflict("update")
			continue
		case errors.Is(err, repository.ErrNotFound):
			return domain.Book{}, &Error{Kind: KindNotFound, Msg: "book not found"}
		default:
			return domain.Book{}, persistence("replace book", err)
		}
	}
	return domain.Book{}, &Error{Kind: KindConflict, Msg: "book changed concurrently, retry later"}
}

// CheckUpdate reports whether Update would be refused for in and
// requesterID, without writing anything. Callers use it to avoid storing a
// new cover for a request that cannot succeed; Update repeats the checks
// under the book lock.
func (s *Service) CheckUpdate(ctx context.Context, id, requesterID string, in BookInput) error {
	if err := s.checkPatch(in.sanitized()); err != nil {
		return err
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !current.IsOwnedBy(requesterID) {
		return &Error{Kind: KindForbidden, Msg: "only the owner may modify this book"}
	}
	return nil
}

func (s *Service) checkPatch(in BookInput) error {
	if in.Title != nil && *in.Title == "" {
		return validationf("title must not be empty")
	}
	if in.Author != nil && *in.Author == "" {
		return validationf("author must not be empty")
	}
	if in.Genre != nil && *in.Genre == "" {
		return validationf("genre must not be empty")
	}
	probe := descriptiveFields{Title: "-", Author: "-", Genre: "-"}
	if in.Title != nil {
		probe.Title = *in.Title
	}
	if in.Author != nil {
		probe.Author = *in.Author
	}
	if in.Genre != nil {
		probe.Genre = *in.Genre
	}
	if in.Year != nil {
		probe.Year = *in.Year
	}
	return s.checkFields(probe)
}

func applyPatch(b domain.Book, in BookInput) domain.Book {
	next := b.Clone()
	if in.Title != nil {
		next.Title = *in.Title
	}
	if in.Author != nil {
		next.Author = *in.Author
	}
	if in.Year != nil {
		next.Year = *in.Year
	}
	if in.Genre != nil {
		next.Genre = *in.Genre
	}
	return next
}

// Delete removes the book when requesterID owns it. The cover asset is
// removed first on a best-effort basis, then the record. If the record
// removal fails the asset is already gone.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return persistence("wait for book", err)
	}
	defer unlock()

	removed := make(map[string]struct{})
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsOwnedBy(requesterID) {
			return &Error{Kind: KindForbidden, Msg: "only the owner may delete this book"}
		}

		if ref := current.CoverImageRef; ref != "" {
			if _, done := removed[ref]; !done {
				removed[ref] = struct{}{}
				s.cleanup(ctx, "delete", id, ref)
			}
		}

		err = s.books.Delete(ctx, id, current.Version)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrConflict):
			s.metrics.WriteConflict("delete")
			continue
		case errors.Is(err, repository.ErrNotFound):
			return &Error{Kind: KindNotFound, Msg: "book not found"}
		default:
			return persistence("delete book", err)
		}
	}
	return &Error{Kind: KindConflict, Msg: "book changed concurrently, retry later"}
}

// SubmitRating appends raterID's grade and recomputes the average over all
// grades. Each rater may rate a book once.
func (s *Service) SubmitRating(ctx context.Context, bookID, raterID string, grade float64) (domain.Book, error) {
	if !domain.ValidGrade(grade) {
		return domain.Book{}, validationf("rating must be between %d and %d", domain.MinGrade, domain.MaxGrade)
	}
	if raterID == "" {
		return domain.Book{}, validationf("rater is required")
	}

	unlock, err := s.locks.Lock(ctx, bookID)
	if err != nil {
		return domain.Book{}, persistence("wait for book", err)
	}
	defer unlock()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		current, err := s.load(ctx, bookID)
		if err != nil {
			return domain.Book{}, err
		}
		if current.HasRater(raterID) {
			return domain.Book{}, &Error{Kind: KindDuplicateRating, Msg: "user has already rated this book"}
		}

		next := current.Clone()
		next.Ratings = append(next.Ratings, domain.Rating{RaterID: raterID, Grade: grade})
		next.AverageRating = domain.AverageOf(next.Ratings)

		updated, err := s.books.Replace(ctx, next)
		switch {
		case err == nil:
			s.metrics.RatingAccepted()
			return updated, nil
		case errors.Is(err, repository.ErrConflict):
			s.metrics.WriteConflict("rating")
			continue
		case errors.Is(err, repository.ErrNotFound):
			return domain.Book{}, &Error{Kind: KindNotFound, Msg: "book not found"}
		default:
			return domain.Book{}, persistence("replace book", err)
		}
	}
	return domain.Book{}, &Error{Kind: KindConflict, Msg: "book changed concurrently, retry later"}
}

// Get returns a single book.
func (s *Service) Get(ctx context.Context, id string) (domain.Book, error) {
	return s.load(ctx, id)
}

// List returns every book in storage order.
func (s *Service) List(ctx context.Context) ([]domain.Book, error) {
	books, err := s.books.List(ctx, repository.ListOptions{})
	if err != nil {
		return nil, persistence("list books", err)
	}
	return books, nil
}

// TopRated returns at most n books ordered by average rating, highest first.
func (s *Service) TopRated(ctx context.Context, n int) ([]domain.Book, error) {
	if n <= 0 {
		return nil, validationf("limit must be positive")
	}
	books, err := s.books.List(ctx, repository.ListOptions{ByAverageDesc: true, Limit: n})
	if err != nil {
		return nil, persistence("list top rated books", err)
	}
	return books, nil
}

// Wait blocks until background asset removals have finished.
func (s *Service) Wait() {
	s.cleanups.Wait()
}

func (s *Service) load(ctx context.Context, id string) (domain.Book, error) {
	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Book{}, &Error{Kind: KindNotFound, Msg: "book not found"}
		}
		return domain.Book{}, persistence("load book", err)
	}
	return book, nil
}

// cleanupAsync removes ref without holding up the caller. The removal
// outlives request cancellation but not CleanupTimeout.
func (s *Service) cleanupAsync(ctx context.Context, op, bookID, ref string) {
	s.cleanups.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.cleanups.Done()
		s.cleanup(bg, op, bookID, ref)
	}()
}

func (s *Service) cleanup(ctx context.Context, op, bookID, ref string) {
	if s.assets == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cleanupTimeout)
	defer cancel()
	if err := s.assets.Delete(ctx, ref); err != nil {
		s.metrics.AssetCleanupFailed(op)
		s.logger.Printf("catalog: %s book %s: remove asset %s failed: %v", op, bookID, ref, err)
	}
}
