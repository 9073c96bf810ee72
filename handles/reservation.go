package handles

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/fairway-identity/profiles"
)

// ErrReservationConflict is returned when the handle already belongs to someone.
// Handles are never released, so the person has to pick a different one.
var ErrReservationConflict = errors.New("handle already taken")

// Reservation binds a lowercased handle to its owner. Created once, never released.
type Reservation struct {
	Handle    string    `json:"handle"`
	OwnerID   string    `json:"uid"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the storage primitive behind a claim.
type Store interface {
	// Claim writes the reservation and merges the profile as one unit. Exactly one
	// concurrent caller per handle succeeds; the rest get ErrReservationConflict and
	// nothing is written on their behalf. Fields of an existing profile that p does
	// not set (CreatedAt, PictureURL) are preserved.
	Claim(ctx context.Context, r Reservation, p profiles.Profile) (*profiles.Profile, error)

	// GetReservation returns errors.ErrNotFound when the handle is free
	GetReservation(ctx context.Context, handle string) (*Reservation, error)
}
