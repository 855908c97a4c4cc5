// Package domain contains core domain types for the PitchLab application.
package domain

import (
	"time"
)

// Trainee is an anonymous salesperson identity issued via cookie.
// There are no accounts; the cookie ID is the whole identity.
type Trainee struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
