package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/bookshelf-api/internal/assets"
	"github.com/Clark-Hu/bookshelf-api/internal/catalog"
	"github.com/Clark-Hu/bookshelf-api/internal/domain"
)

const (
	bookField  = "book"
	imageField = "image"
	// multipartOverhead leaves room for the book field and part headers.
	multipartOverhead = 64 << 10
)

var errMissingPayload = errors.New("book payload is required")

// bookPayload is the client view of a book on create and update. Identity
// fields are decoded only to be dropped by the catalog.
type bookPayload struct {
	ID       *string  `json:"id"`
	LegacyID *string  `json:"_id"`
	UserID   *string  `json:"userId"`
	Title    *string  `json:"title"`
	Author   *string  `json:"author"`
	Year     *flexInt `json:"year"`
	Genre    *string  `json:"genre"`
}

// flexInt accepts a JSON number or a numeric string; form clients tend to
// send the year as text.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unq)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return fmt.Errorf("invalid integer %s", string(data))
	}
	*f = flexInt(n)
	return nil
}

func (p bookPayload) input() catalog.BookInput {
	in := catalog.BookInput{
		ID:      p.ID,
		OwnerID: p.UserID,
		Title:   p.Title,
		Author:  p.Author,
		Genre:   p.Genre,
	}
	if in.ID == nil {
		in.ID = p.LegacyID
	}
	if p.Year != nil {
		y := int(*p.Year)
		in.Year = &y
	}
	return in
}

// parseBookPayload decodes the book document leniently; extra fields such
// as ratings sent back by clients are ignored.
func parseBookPayload(raw []byte) (bookPayload, error) {
	var p bookPayload
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, errMissingPayload
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, err
	}
	return p, nil
}

type ratingRequest struct {
	// UserID is accepted for compatibility and ignored; the rater is the
	// authenticated user.
	UserID string   `json:"userId"`
	Rating *float64 `json:"rating"`
}

type ratingResponse struct {
	UserID string  `json:"userId"`
	Grade  float64 `json:"grade"`
}

type bookResponse struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	Title         string           `json:"title"`
	Author        string           `json:"author"`
	Year          int              `json:"year"`
	Genre         string           `json:"genre"`
	ImageURL      string           `json:"imageUrl"`
	Ratings       []ratingResponse `json:"ratings"`
	AverageRating *float64         `json:"averageRating,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func toBookResponse(b domain.Book) bookResponse {
	ratings := make([]ratingResponse, 0, len(b.Ratings))
	for _, r := range b.Ratings {
		ratings = append(ratings, ratingResponse{UserID: r.RaterID, Grade: r.Grade})
	}
	return bookResponse{
		ID:            b.ID,
		UserID:        b.OwnerID,
		Title:         b.Title,
		Author:        b.Author,
		Year:          b.Year,
		Genre:         b.Genre,
		ImageURL:      b.CoverImageRef,
		Ratings:       ratings,
		AverageRating: b.AverageRating,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func toBookResponses(books []domain.Book) []bookResponse {
	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResponse(b))
	}
	return out
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.catalog.List(r.Context())
	if err != nil {
		s.respondCatalogError(w, "list books", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponses(books))
}

func (s *Server) handleTopRated(w http.ResponseWriter, r *http.Request) {
	n := s.cfg.TopRatedLimit
	if n <= 0 {
		n = defaultTopRated
	}
	books, err := s.catalog.TopRated(r.Context(), n)
	if err != nil {
		s.respondCatalogError(w, "list top rated books", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponses(books))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondCatalogError(w, "fetch book", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "multipart/form-data with book and image fields is required")
		return
	}
	raw, image, err := s.readMultipart(w, r)
	if err != nil {
		s.respondUploadError(w, err)
		return
	}
	payload, err := parseBookPayload(raw)
	if err != nil {
		s.respondPayloadError(w, err)
		return
	}
	if image == nil {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "cover image is required")
		return
	}

	ref, err := s.storeCover(r.Context(), image)
	if err != nil {
		s.respondUploadError(w, err)
		return
	}

	book, err := s.catalog.Create(r.Context(), userIDFrom(r.Context()), payload.input(), ref)
	if err != nil {
		s.discardAsset(ref)
		s.respondCatalogError(w, "create book", err)
		return
	}
	w.Header().Set("Location", "/api/books/"+book.ID)
	s.respondJSON(w, http.StatusCreated, toBookResponse(book))
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var (
		payload bookPayload
		image   []byte
		err     error
	)
	if isMultipart(r) {
		var raw []byte
		raw, image, err = s.readMultipart(w, r)
		if err != nil {
			s.respondUploadError(w, err)
			return
		}
		payload, err = parseBookPayload(raw)
		if err != nil && !(errors.Is(err, errMissingPayload) && image != nil) {
			s.respondPayloadError(w, err)
			return
		}
	} else if err := decodeJSONBody(w, r, &payload, false); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	requester := userIDFrom(r.Context())
	var ref string
	if image != nil {
		if err := s.catalog.CheckUpdate(r.Context(), id, requester, payload.input()); err != nil {
			s.respondCatalogError(w, "update book", err)
			return
		}
		ref, err = s.storeCover(r.Context(), image)
		if err != nil {
			s.respondUploadError(w, err)
			return
		}
	}

	book, err := s.catalog.Update(r.Context(), id, requester, payload.input(), ref)
	if err != nil {
		if ref != "" {
			s.discardAsset(ref)
		}
		s.respondCatalogError(w, "update book", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context())); err != nil {
		s.respondCatalogError(w, "delete book", err)
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "book deleted"})
}

func (s *Server) handleRateBook(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSONBody(w, r, &req, true); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if req.Rating == nil {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "rating is required")
		return
	}

	book, err := s.catalog.SubmitRating(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()), *req.Rating)
	if err != nil {
		s.respondCatalogError(w, "rate book", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func (s *Server) maxUpload() int64 {
	mb := s.cfg.MaxUploadMB
	if mb <= 0 {
		mb = 5
	}
	return int64(mb) << 20
}

var (
	errImageTooLarge   = errors.New("image too large")
	errMalformedUpload = errors.New("malformed multipart body")
)

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", errMalformedUpload, err)
}

// readMultipart returns the raw book field and the image bytes, either of
// which may be nil when absent.
func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) ([]byte, []byte, error) {
	limit := s.maxUpload()
	if r.ContentLength > limit+multipartOverhead {
		return nil, nil, errImageTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, nil, uploadError(err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var raw []byte
	if vals := r.MultipartForm.Value[bookField]; len(vals) > 0 {
		raw = []byte(vals[0])
	}

	file, header, err := r.FormFile(imageField)
	if errors.Is(err, http.ErrMissingFile) {
		return raw, nil, nil
	}
	if err != nil {
		return nil, nil, uploadError(err)
	}
	defer file.Close()
	if header.Size > limit {
		return nil, nil, errImageTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, nil, err
	}
	if int64(len(data)) > limit {
		return nil, nil, errImageTooLarge
	}
	return raw, data, nil
}

// storeCover normalizes the upload and writes it to the asset store.
func (s *Server) storeCover(ctx context.Context, image []byte) (string, error) {
	cover, err := s.covers.Process(image)
	if err != nil {
		return "", err
	}
	ref, err := s.assets.Put(ctx, cover, assets.CoverContentType)
	if err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	return ref, nil
}

// discardAsset removes an upload whose record write never happened.
func (s *Server) discardAsset(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.assets.Delete(ctx, ref); err != nil {
		s.metrics.AssetCleanupFailed("discard")
		s.logger.Printf("discard orphaned asset %s failed: %v", ref, err)
	}
}

func (s *Server) respondPayloadError(w http.ResponseWriter, err error) {
	if errors.Is(err, errMissingPayload) {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "book field is required")
		return
	}
	s.respondDecodeError(w, err)
}

func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errImageTooLarge), errors.As(err, &tooLarge), errors.Is(err, multipart.ErrMessageTooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", fmt.Sprintf("Image exceeds %d MB", s.maxUpload()>>20))
	case errors.Is(err, assets.ErrUnsupportedImage):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "image must be a jpeg, png, gif or webp file")
	case errors.Is(err, errMalformedUpload):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed multipart body")
	default:
		s.logger.Printf("upload error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store image")
	}
}
