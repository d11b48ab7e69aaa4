package domain

import "time"

// Book is the catalog's central record. OwnerID is set once at creation and
// AverageRating is derived from Ratings, never written by clients.
type Book struct {
	ID            string
	OwnerID       string
	Title         string
	Author        string
	Year          int
	Genre         string
	CoverImageRef string
	Ratings       []Rating
	AverageRating *float64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasRater reports whether raterID already has an entry in b.Ratings.
func (b Book) HasRater(raterID string) bool {
	for _, r := range b.Ratings {
		if r.RaterID == raterID {
			return true
		}
	}
	return false
}

// IsOwnedBy reports whether userID created the book.
func (b Book) IsOwnedBy(userID string) bool {
	return userID != "" && b.OwnerID == userID
}

// Clone returns a copy whose Ratings slice and AverageRating pointer are not
// shared with b.
func (b Book) Clone() Book {
	out := b
	if b.Ratings != nil {
		out.Ratings = make([]Rating, len(b.Ratings))
		copy(out.Ratings, b.Ratings)
	}
	if b.AverageRating != nil {
		avg := *b.AverageRating
		out.AverageRating = &avg
	}
	return out
}
