package domain

import "math"

// Grade bounds, inclusive.
const (
	MinGrade = 0
	MaxGrade = 5
)

// Rating is a single rater's grade for a book. Entries are append-only.
type Rating struct {
	RaterID string  `json:"userId"`
	Grade   float64 `json:"grade"`
}

// ValidGrade reports whether grade lies in [MinGrade, MaxGrade].
func ValidGrade(grade float64) bool {
	if math.IsNaN(grade) || math.IsInf(grade, 0) {
		return false
	}
	return grade >= MinGrade && grade <= MaxGrade
}

// AverageOf returns the mean grade rounded to two decimals, or nil when
// ratings is empty. It always recomputes over the full set.
func AverageOf(ratings []Rating) *float64 {
	if len(ratings) == 0 {
		return nil
	}
	var sum float64
	for _, r := range ratings {
		sum += r.Grade
	}
	avg := roundTwoDecimals(sum / float64(len(ratings)))
	return &avg
}

func roundTwoDecimals(value float64) float64 {
	return math.Round(value*100) / 100
}
