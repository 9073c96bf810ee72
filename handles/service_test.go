package handles_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/handles"
	fakereservationstore "github.com/jrsteele09/fairway-identity/handles/repofake"
	"github.com/jrsteele09/fairway-identity/internal/utils"
	"github.com/jrsteele09/fairway-identity/profiles"
	fakeprofilerepo "github.com/jrsteele09/fairway-identity/profiles/repofake"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testFixture struct {
	profileRepo *fakeprofilerepo.FakeProfileRepo
	store       *fakereservationstore.FakeReservationStore
	service     *handles.Service
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	pr := fakeprofilerepo.NewFakeProfileRepo()
	st := fakereservationstore.NewFakeReservationStore(pr)
	svc, err := handles.NewService(st, handles.WithNowTime(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return &testFixture{profileRepo: pr, store: st, service: svc}
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := handles.NewService(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "store is required")
}

func TestService_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("creates temporary profile", func(t *testing.T) {
		f := setupTestFixture(t)

		p, err := f.service.Claim(ctx, "Golfer1", "uid-1", profiles.LanguageTH)
		require.NoError(t, err)
		require.Equal(t, "uid-1", p.ID)
		require.Equal(t, "golfer1", p.Name)
		require.Equal(t, profiles.RoleTemporary, p.Role)
		require.Equal(t, profiles.LanguageTH, p.Language)
		require.False(t, p.Registered)
		require.Equal(t, fixedNow, p.CreatedAt)

		stored, err := f.profileRepo.GetByID(ctx, "uid-1")
		require.NoError(t, err)
		require.Equal(t, p, stored)
	})

	t.Run("second owner gets conflict", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.Claim(ctx, "golfer1", "uid-1", profiles.LanguageEN)
		require.NoError(t, err)

		_, err = f.service.Claim(ctx, "GOLFER1", "uid-2", profiles.LanguageEN)
		require.ErrorIs(t, err, handles.ErrReservationConflict)

		_, err = f.profileRepo.GetByID(ctx, "uid-2")
		require.Error(t, err)
	})

	t.Run("invalid handle writes nothing", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.Claim(ctx, "jo..hn", "uid-1", profiles.LanguageEN)
		var vErr *handles.ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, 0, f.store.Count())
	})

	t.Run("missing owner", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.Claim(ctx, "golfer1", " ", profiles.LanguageEN)
		require.Error(t, err)
		require.Equal(t, 0, f.store.Count())
	})

	t.Run("merge keeps existing fields", func(t *testing.T) {
		f := setupTestFixture(t)
		created := fixedNow.Add(-48 * time.Hour)
		f.profileRepo.Put(profiles.Profile{
			ID:         "uid-1",
			Role:       profiles.RoleTemporary,
			PictureURL: utils.Ptr("https://cdn.example.com/a.png"),
			CreatedAt:  created,
		})

		p, err := f.service.Claim(ctx, "golfer1", "uid-1", profiles.LanguageEN)
		require.NoError(t, err)
		require.Equal(t, created, p.CreatedAt)
		require.Equal(t, "https://cdn.example.com/a.png", utils.Value(p.PictureURL))
		require.Equal(t, "golfer1", p.Name)
	})

	t.Run("store failure is wrapped", func(t *testing.T) {
		f := setupTestFixture(t)
		f.store.ProfileWriteErr = fakereservationstore.ErrInjected

		_, err := f.service.Claim(ctx, "golfer1", "uid-1", profiles.LanguageEN)
		require.ErrorIs(t, err, fakereservationstore.ErrInjected)
		require.NotErrorIs(t, err, handles.ErrReservationConflict)
	})
}

func TestService_ClaimConcurrent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	const claimants = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			p, err := f.service.Claim(ctx, "golfer1", owner, profiles.LanguageEN)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, p.ID)
			case err == handles.ErrReservationConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("uid-%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, claimants-1, conflicts)
	require.Equal(t, 1, f.store.Count())
}

func TestService_Available(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	ok, err := f.service.Available(ctx, "golfer1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.service.Claim(ctx, "golfer1", "uid-1", profiles.LanguageEN)
	require.NoError(t, err)

	ok, err = f.service.Available(ctx, "Golfer1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.service.Available(ctx, "ab")
	var vErr *handles.ValidationError
	require.ErrorAs(t, err, &vErr)
}
