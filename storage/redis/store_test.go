package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/fairway-identity/handles"
	"github.com/jrsteele09/fairway-identity/migration"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/jrsteele09/fairway-identity/storage"
	"github.com/jrsteele09/fairway-identity/storage/redis"
	"github.com/jrsteele09/fairway-identity/storage/storagetest"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testFixture struct {
	server *miniredis.Miniredis
	client *goredis.Client
	store  *redis.Store
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &testFixture{
		server: server,
		client: client,
		store:  redis.New(client, redis.WithNowTime(func() time.Time { return fixedNow })),
	}
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return setupTestFixture(t).store
	})
}

// failingPipelines rejects every MULTI/EXEC and pipeline while letting single
// commands through.
type failingPipelines struct{}

func (failingPipelines) DialHook(next goredis.DialHook) goredis.DialHook {
	return next
}

func (failingPipelines) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return next
}

func (failingPipelines) ProcessPipelineHook(goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(context.Context, []goredis.Cmder) error {
		return errors.New("pipeline rejected")
	}
}

func TestStore_ClaimReleasesReservationWhenProfileWriteFails(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	// connect first so the handshake is not affected by the hook
	require.NoError(t, f.client.Ping(ctx).Err())
	f.client.AddHook(failingPipelines{})

	_, err := f.store.Claim(ctx,
		handles.Reservation{Handle: "golfer1", OwnerID: "uid-1", CreatedAt: fixedNow},
		profiles.NewTemporary("uid-1", "golfer1", profiles.LanguageEN, fixedNow),
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pipeline rejected")

	require.False(t, f.server.Exists("usernames:golfer1"))
	_, err = f.store.GetReservation(ctx, "golfer1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

// deleteBeforeExec removes key through another connection just before the first
// MULTI/EXEC reaches the server.
type deleteBeforeExec struct {
	other *goredis.Client
	key   string
	once  sync.Once
}

func (d *deleteBeforeExec) DialHook(next goredis.DialHook) goredis.DialHook {
	return next
}

func (d *deleteBeforeExec) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return next
}

func (d *deleteBeforeExec) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		d.once.Do(func() {
			d.other.Del(ctx, d.key)
		})
		return next(ctx, cmds)
	}
}

func TestStore_LinkNeverRecreatesDeletedAccount(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	require.NoError(t, f.store.PutLegacyAccount(ctx, migration.LegacyAccount{PlatformID: "U-gone", CreatedAt: fixedNow}))

	other := goredis.NewClient(&goredis.Options{Addr: f.server.Addr()})
	defer other.Close()
	require.NoError(t, f.client.Ping(ctx).Err())
	f.client.AddHook(&deleteBeforeExec{other: other, key: "legacy_accounts:U-gone"})

	_, written, err := f.store.Link(ctx, "U-gone", "uid-1", fixedNow)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.False(t, written)
	require.False(t, f.server.Exists("legacy_accounts:U-gone"))
}

func TestStore_LinkWritesBothFields(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	require.NoError(t, f.store.PutLegacyAccount(ctx, migration.LegacyAccount{PlatformID: "U-old", CreatedAt: fixedNow}))

	a, written, err := f.store.Link(ctx, "U-old", "uid-1", fixedNow)
	require.NoError(t, err)
	require.True(t, written)
	require.Equal(t, "uid-1", a.LinkedTo)
	require.Equal(t, "uid-1", f.server.HGet("legacy_accounts:U-old", "linked_to"))
	require.Equal(t, "1772355600000", f.server.HGet("legacy_accounts:U-old", "linked_at"))

	_, _, err = f.store.Link(ctx, "U-old", "uid-2", fixedNow)
	require.ErrorIs(t, err, migration.ErrAlreadyLinked)
}

func TestStore_Layout(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	_, err := f.store.Claim(ctx,
		handles.Reservation{Handle: "golfer1", OwnerID: "uid-1", CreatedAt: fixedNow},
		profiles.NewTemporary("uid-1", "golfer1", profiles.LanguageTH, fixedNow),
	)
	require.NoError(t, err)

	raw, err := f.server.Get("usernames:golfer1")
	require.NoError(t, err)
	require.JSONEq(t, `{"uid":"uid-1","createdAt":1772355600000}`, raw)
	require.Equal(t, "golfer1", f.server.HGet("users:uid-1", "name"))
	require.Equal(t, "th", f.server.HGet("users:uid-1", "language"))
	require.Equal(t, "false", f.server.HGet("users:uid-1", "registered"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("connects", func(t *testing.T) {
		server := miniredis.RunT(t)
		s, err := redis.Open(ctx, server.Addr())
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("unreachable server", func(t *testing.T) {
		server := miniredis.RunT(t)
		addr := server.Addr()
		server.Close()

		_, err := redis.Open(ctx, addr)
		require.Error(t, err)
	})
}
