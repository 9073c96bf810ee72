package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/handles"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/jrsteele09/fairway-identity/storage"
	"github.com/jrsteele09/fairway-identity/storage/sqlite"
	"github.com/jrsteele09/fairway-identity/storage/storagetest"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return openStore(t)
	})
}

func TestOpen(t *testing.T) {
	t.Run("requires a path", func(t *testing.T) {
		_, err := sqlite.Open("  ")
		require.Error(t, err)
	})

	t.Run("reopening keeps data and skips applied migrations", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "identity.db")

		s, err := sqlite.Open(path)
		require.NoError(t, err)
		_, err = s.Claim(ctx, newReservation(), newProfile())
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = sqlite.Open(path)
		require.NoError(t, err)
		defer s.Close()
		r, err := s.GetReservation(ctx, "golfer1")
		require.NoError(t, err)
		require.Equal(t, "uid-1", r.OwnerID)
	})
}

func newReservation() handles.Reservation {
	return handles.Reservation{Handle: "golfer1", OwnerID: "uid-1", CreatedAt: time.Now()}
}

func newProfile() profiles.Profile {
	return profiles.NewTemporary("uid-1", "golfer1", profiles.LanguageEN, time.Now())
}
