// Package migration links a legacy account, keyed by its host platform id, to the
// backend account a person now signs in with.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/fairway-identity/profiles"
)

// ErrAlreadyLinked is returned by Repo.Link when the legacy account is linked to a
// different backend account.
var ErrAlreadyLinked = errors.New("legacy account already linked to another user")

// LegacyAccount is an account created before backend sign-in existed.
type LegacyAccount struct {
	PlatformID  string            `json:"platformId"`
	DisplayName string            `json:"displayName"`
	PictureURL  *string           `json:"pictureUrl,omitempty"`
	Language    profiles.Language `json:"language"`
	LinkedTo    string            `json:"linkedTo,omitempty"`
	LinkedAt    *time.Time        `json:"linkedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// IsLinked reports whether the account has been linked to a backend user.
func (a *LegacyAccount) IsLinked() bool {
	return a.LinkedTo != ""
}

// Profile returns the profile the legacy account contributes to backendID. The
// handle is never carried over; the person still claims one.
func (a *LegacyAccount) Profile(backendID string) *profiles.Profile {
	language := a.Language
	if language == "" {
		language = profiles.LanguageEN
	}
	p := &profiles.Profile{
		ID:        backendID,
		Language:  language,
		Role:      profiles.RoleTemporary,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.CreatedAt,
	}
	if a.LinkedAt != nil {
		p.UpdatedAt = *a.LinkedAt
	}
	if a.PictureURL != nil {
		pic := *a.PictureURL
		p.PictureURL = &pic
	}
	return p
}

// Repo stores legacy accounts.
type Repo interface {
	// FindByPlatformID returns errors.ErrNotFound when no legacy account exists.
	FindByPlatformID(ctx context.Context, platformID string) (*LegacyAccount, error)
	// Link marks the legacy account as linked to backendID. Linking to the same id
	// again performs no write and reports written=false; linking to another id
	// returns ErrAlreadyLinked.
	Link(ctx context.Context, platformID, backendID string, at time.Time) (account *LegacyAccount, written bool, err error)
}

// LookupError wraps a failure to read the legacy account.
type LookupError struct {
	PlatformID string
	Err        error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("legacy lookup for %s: %v", e.PlatformID, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// LinkError wraps a failure to link the legacy account.
type LinkError struct {
	PlatformID string
	BackendID  string
	Err        error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("legacy link %s -> %s: %v", e.PlatformID, e.BackendID, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
