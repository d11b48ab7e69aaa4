package domain

import "time"

// User is an account able to authenticate against the catalog.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
