// Package storagetest holds the behaviour every identity storage backend must
// show. Backend packages run it from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/internal/utils"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/jrsteele09/fairway-identity/storage"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func reservation(handle, uid string) handles.Reservation {
	return handles.Reservation{Handle: handle, OwnerID: uid, CreatedAt: fixedNow}
}

func temporary(uid, handle string) profiles.Profile {
	return profiles.NewTemporary(uid, handle, profiles.LanguageTH, fixedNow)
}

// Run exercises a fresh backend from newBackend for every subtest.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	ctx := context.Background()

	t.Run("claim creates reservation and profile", func(t *testing.T) {
		b := newBackend(t)

		p, err := b.Claim(ctx, reservation("golfer1", "uid-1"), temporary("uid-1", "golfer1"))
		require.NoError(t, err)
		require.Equal(t, "golfer1", p.Name)
		require.Equal(t, profiles.RoleTemporary, p.Role)
		require.Equal(t, profiles.LanguageTH, p.Language)
		require.False(t, p.Registered)

		r, err := b.GetReservation(ctx, "golfer1")
		require.NoError(t, err)
		require.Equal(t, "uid-1", r.OwnerID)
		require.True(t, fixedNow.Equal(r.CreatedAt))

		stored, err := b.GetByID(ctx, "uid-1")
		require.NoError(t, err)
		require.Equal(t, "golfer1", stored.Name)
		require.True(t, fixedNow.Equal(stored.CreatedAt))
	})

	t.Run("second claim conflicts and writes nothing", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.Claim(ctx, reservation("golfer1", "uid-1"), temporary("uid-1", "golfer1"))
		require.NoError(t, err)

		_, err = b.Claim(ctx, reservation("golfer1", "uid-2"), temporary("uid-2", "golfer1"))
		require.ErrorIs(t, err, handles.ErrReservationConflict)

		_, err = b.GetByID(ctx, "uid-2")
		require.ErrorIs(t, err, apperrors.ErrProfileNotFound)
		r, err := b.GetReservation(ctx, "golfer1")
		require.NoError(t, err)
		require.Equal(t, "uid-1", r.OwnerID)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		b := newBackend(t)

		const claimants = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				uid := fmt.Sprintf("uid-%d", i)
				_, err := b.Claim(ctx, reservation("golfer1", uid), temporary(uid, "golfer1"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, handles.ErrReservationConflict):
					conflicts++
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 1, winners)
		require.Equal(t, claimants-1, conflicts)
	})

	t.Run("claim merges an existing profile", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.Claim(ctx, reservation("golfer1", "uid-1"), temporary("uid-1", "golfer1"))
		require.NoError(t, err)

		later := temporary("uid-1", "golfer2")
		later.CreatedAt = fixedNow.Add(time.Hour)
		later.UpdatedAt = fixedNow.Add(time.Hour)
		p, err := b.Claim(ctx, reservation("golfer2", "uid-1"), later)
		require.NoError(t, err)
		require.Equal(t, "golfer2", p.Name)
		require.True(t, fixedNow.Equal(p.CreatedAt))
	})

	t.Run("missing records", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.GetReservation(ctx, "nobody")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		_, err = b.GetByID(ctx, "uid-404")
		require.ErrorIs(t, err, apperrors.ErrProfileNotFound)
		_, err = b.SetRole(ctx, "uid-404", profiles.RoleMember)
		require.ErrorIs(t, err, apperrors.ErrProfileNotFound)
		_, err = b.FindByPlatformID(ctx, "U_none")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("role change registers a named profile", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.Claim(ctx, reservation("golfer1", "uid-1"), temporary("uid-1", "golfer1"))
		require.NoError(t, err)

		p, err := b.SetRole(ctx, "uid-1", profiles.RoleMember)
		require.NoError(t, err)
		require.Equal(t, profiles.RoleMember, p.Role)
		require.True(t, p.Registered)

		p, err = b.SetRole(ctx, "uid-1", profiles.RoleTemporary)
		require.NoError(t, err)
		require.False(t, p.Registered)
	})

	t.Run("legacy link is applied once", func(t *testing.T) {
		b := newBackend(t)

		require.NoError(t, b.PutLegacyAccount(ctx, migration.LegacyAccount{
			PlatformID:  "U_legacy123",
			DisplayName: "Somchai",
			PictureURL:  utils.Ptr("https://profile.example.com/u.png"),
			Language:    profiles.LanguageTH,
			CreatedAt:   fixedNow.Add(-24 * time.Hour),
		}))

		a, err := b.FindByPlatformID(ctx, "U_legacy123")
		require.NoError(t, err)
		require.False(t, a.IsLinked())
		require.Equal(t, "https://profile.example.com/u.png", utils.Value(a.PictureURL))

		a, written, err := b.Link(ctx, "U_legacy123", "newUid", fixedNow)
		require.NoError(t, err)
		require.True(t, written)
		require.Equal(t, "newUid", a.LinkedTo)

		_, written, err = b.Link(ctx, "U_legacy123", "newUid", fixedNow.Add(time.Minute))
		require.NoError(t, err)
		require.False(t, written)

		_, _, err = b.Link(ctx, "U_legacy123", "otherUid", fixedNow)
		require.ErrorIs(t, err, migration.ErrAlreadyLinked)

		a, err = b.FindByPlatformID(ctx, "U_legacy123")
		require.NoError(t, err)
		require.Equal(t, "newUid", a.LinkedTo)
		require.NotNil(t, a.LinkedAt)
		require.True(t, fixedNow.Equal(*a.LinkedAt))
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, newBackend(t).Ping(ctx))
	})
}
