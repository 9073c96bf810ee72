package profiles

import (
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/fairway-identity/internal/utils"
)

// Language is the preferred UI language of a profile
type Language string

const (
	LanguageEN Language = "en"
	LanguageTH Language = "th"
)

// RoleType represents the role a profile holds in the application
type RoleType string

const (
	RoleTemporary RoleType = "temporary" // Handle claimed, not yet promoted
	RoleMember    RoleType = "member"    // Regular member
	RoleAdmin     RoleType = "admin"     // Can manage courses and members
)

// Profile is the application profile owned by a backend identity.
type Profile struct {
	ID         string    `json:"id"`                   // Backend user id
	Name       string    `json:"name"`                 // Claimed handle, empty until reserved
	Language   Language  `json:"language"`             // Preferred language
	Role       RoleType  `json:"role"`                 // Application role
	Registered bool      `json:"registered"`           // Completed registration
	PictureURL *string   `json:"pictureUrl,omitempty"` // Optional avatar
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ParseLanguage maps a raw language tag onto a supported Language.
func ParseLanguage(raw string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(raw))) {
	case LanguageEN:
		return LanguageEN, nil
	case LanguageTH:
		return LanguageTH, nil
	case "":
		return LanguageEN, nil
	}
	return "", fmt.Errorf("unsupported language %q", raw)
}

// ParseRole maps a stored role onto a RoleType.
func ParseRole(raw string) (RoleType, error) {
	switch RoleType(raw) {
	case RoleTemporary, RoleMember, RoleAdmin:
		return RoleType(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// HasName reports whether the profile has a claimed handle.
func (p *Profile) HasName() bool {
	return p != nil && strings.TrimSpace(p.Name) != ""
}

// IsAdmin returns true if the profile holds the admin role
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Clone returns a deep copy so callers never share mutable state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.PictureURL = utils.ClonePtr(p.PictureURL)
	return &c
}

// NewTemporary builds the profile written when a handle is first claimed.
func NewTemporary(id, handle string, language Language, now time.Time) Profile {
	return Profile{
		ID:         id,
		Name:       handle,
		Language:   language,
		Role:       RoleTemporary,
		Registered: false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
