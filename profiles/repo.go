package profiles

import "context"

// Repo is the profile side of the users collection. Profiles are created by the
// handle reservation primitive so the two records stay consistent; this interface
// only reads and applies role transitions.
type Repo interface {
	// GetByID returns errors.ErrProfileNotFound when no profile exists
	GetByID(ctx context.Context, id string) (*Profile, error)

	// SetRole changes the role. A profile with a name becomes registered once it
	// leaves the temporary role.
	SetRole(ctx context.Context, id string, role RoleType) (*Profile, error)
}
