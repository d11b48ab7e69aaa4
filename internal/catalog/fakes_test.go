package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Clark-Hu/bookshelf-api/internal/domain"
	"github.com/Clark-Hu/bookshelf-api/internal/repository"
)

// memBooks mimics the versioned Postgres store.
type memBooks struct {
	mu     sync.Mutex
	books  map[string]domain.Book
	order  []string
	clock  time.Time
	calls  map[string]int
	failOn map[string]error

	// conflicts forces the next n Replace calls to report a version conflict.
	conflicts int
}

func newMemBooks() *memBooks {
	return &memBooks{
		books:  make(map[string]domain.Book),
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		calls:  make(map[string]int),
		failOn: make(map[string]error),
	}
}

func (m *memBooks) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

func (m *memBooks) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memBooks) enter(op string) error {
	m.calls[op]++
	return m.failOn[op]
}

func (m *memBooks) FindByID(_ context.Context, id string) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("find"); err != nil {
		return domain.Book{}, err
	}
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, repository.ErrNotFound
	}
	return b.Clone(), nil
}

func (m *memBooks) Insert(_ context.Context, p repository.BookCreateParams) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("insert"); err != nil {
		return domain.Book{}, err
	}
	m.clock = m.clock.Add(time.Second)
	b := domain.Book{
		ID:            uuid.NewString(),
		OwnerID:       p.OwnerID,
		Title:         p.Title,
		Author:        p.Author,
		Year:          p.Year,
		Genre:         p.Genre,
		CoverImageRef: p.CoverImageRef,
		Ratings:       []domain.Rating{},
		Version:       1,
		CreatedAt:     m.clock,
		UpdatedAt:     m.clock,
	}
	m.books[b.ID] = b
	m.order = append(m.order, b.ID)
	return b.Clone(), nil
}

func (m *memBooks) Replace(_ context.Context, b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("replace"); err != nil {
		return domain.Book{}, err
	}
	cur, ok := m.books[b.ID]
	if !ok {
		return domain.Book{}, repository.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.Book{}, repository.ErrConflict
	}
	if cur.Version != b.Version {
		return domain.Book{}, repository.ErrConflict
	}
	next := b.Clone()
	next.OwnerID = cur.OwnerID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	m.books[b.ID] = next
	return next.Clone(), nil
}

func (m *memBooks) Delete(_ context.Context, id string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete"); err != nil {
		return err
	}
	cur, ok := m.books[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != version {
		return repository.ErrConflict
	}
	delete(m.books, id)
	return nil
}

func (m *memBooks) List(_ context.Context, opts repository.ListOptions) ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list"); err != nil {
		return nil, err
	}
	out := make([]domain.Book, 0, len(m.books))
	for _, id := range m.order {
		if b, ok := m.books[id]; ok {
			out = append(out, b.Clone())
		}
	}
	if opts.ByAverageDesc {
		sort.SliceStable(out, func(i, j int) bool {
			ai, aj := out[i].AverageRating, out[j].AverageRating
			switch {
			case ai == nil:
				return false
			case aj == nil:
				return true
			default:
				return *ai > *aj
			}
		})
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// memAssets records deletions and can be told to fail them.
type memAssets struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

var errAssetBackend = errors.New("asset backend unavailable")

func (a *memAssets) Delete(_ context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, ref)
	return a.err
}

func (a *memAssets) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.deleted))
	copy(out, a.deleted)
	return out
}
