package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/jrsteele09/fairway-identity/storage/postgres"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var profileColumns = []string{"id", "name", "language", "role", "registered", "picture_url", "created_at", "updated_at"}
var legacyColumns = []string{"platform_id", "display_name", "picture_url", "language", "linked_to", "linked_at", "created_at"}

type testFixture struct {
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *postgres.Store
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return &testFixture{
		db:    db,
		mock:  mock,
		store: postgres.New(db, postgres.WithNowTime(func() time.Time { return fixedNow })),
	}
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestStore_Claim(t *testing.T) {
	ctx := context.Background()
	reservation := handles.Reservation{Handle: "golfer1", OwnerID: "uid-1", CreatedAt: fixedNow}
	profile := profiles.NewTemporary("uid-1", "golfer1", profiles.LanguageTH, fixedNow)

	t.Run("writes both records in one transaction", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(q("INSERT INTO usernames")).
			WithArgs("golfer1", "uid-1", fixedNow).
			WillReturnRows(sqlmock.NewRows([]string{"handle"}).AddRow("golfer1"))
		f.mock.ExpectExec(q("INSERT INTO users")).
			WithArgs("uid-1", "golfer1", "th", "temporary", false, nil, fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(q("SELECT id, name, language, role")).
			WithArgs("uid-1").
			WillReturnRows(sqlmock.NewRows(profileColumns).
				AddRow("uid-1", "golfer1", "th", "temporary", false, nil, fixedNow, fixedNow))
		f.mock.ExpectCommit()

		p, err := f.store.Claim(ctx, reservation, profile)
		require.NoError(t, err)
		require.Equal(t, "golfer1", p.Name)
		require.Equal(t, profiles.LanguageTH, p.Language)
		require.Nil(t, p.PictureURL)
	})

	t.Run("taken handle is a conflict", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(q("INSERT INTO usernames")).
			WillReturnRows(sqlmock.NewRows([]string{"handle"}))
		f.mock.ExpectRollback()

		_, err := f.store.Claim(ctx, reservation, profile)
		require.ErrorIs(t, err, handles.ErrReservationConflict)
	})

	t.Run("profile write failure rolls back the reservation", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(q("INSERT INTO usernames")).
			WillReturnRows(sqlmock.NewRows([]string{"handle"}).AddRow("golfer1"))
		f.mock.ExpectExec(q("INSERT INTO users")).WillReturnError(errors.New("disk full"))
		f.mock.ExpectRollback()

		_, err := f.store.Claim(ctx, reservation, profile)
		require.Error(t, err)
		require.NotErrorIs(t, err, handles.ErrReservationConflict)
		require.Contains(t, err.Error(), "disk full")
	})
}

func TestStore_Reads(t *testing.T) {
	ctx := context.Background()

	t.Run("reservation", func(t *testing.T) {
		f := setupTestFixture(t)
		f.mock.ExpectQuery(q("SELECT uid, created_at FROM usernames")).
			WithArgs("golfer1").
			WillReturnRows(sqlmock.NewRows([]string{"uid", "created_at"}).AddRow("uid-1", fixedNow))

		r, err := f.store.GetReservation(ctx, "golfer1")
		require.NoError(t, err)
		require.Equal(t, "uid-1", r.OwnerID)
		require.Equal(t, fixedNow, r.CreatedAt)
	})

	t.Run("free handle", func(t *testing.T) {
		f := setupTestFixture(t)
		f.mock.ExpectQuery(q("SELECT uid, created_at FROM usernames")).
			WillReturnRows(sqlmock.NewRows([]string{"uid", "created_at"}))

		_, err := f.store.GetReservation(ctx, "golfer1")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("missing profile", func(t *testing.T) {
		f := setupTestFixture(t)
		f.mock.ExpectQuery(q("SELECT id, name")).WillReturnRows(sqlmock.NewRows(profileColumns))

		_, err := f.store.GetByID(ctx, "uid-404")
		require.ErrorIs(t, err, apperrors.ErrProfileNotFound)
	})

	t.Run("profile with picture", func(t *testing.T) {
		f := setupTestFixture(t)
		f.mock.ExpectQuery(q("SELECT id, name")).
			WillReturnRows(sqlmock.NewRows(profileColumns).
				AddRow("uid-1", "golfer1", "en", "admin", true, "https://cdn.example.com/p.png", fixedNow, fixedNow))

		p, err := f.store.GetByID(ctx, "uid-1")
		require.NoError(t, err)
		require.True(t, p.IsAdmin())
		require.Equal(t, "https://cdn.example.com/p.png", *p.PictureURL)
	})
}

func TestStore_SetRole(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(q("SELECT id, name")).
		WithArgs("uid-1").
		WillReturnRows(sqlmock.NewRows(profileColumns).
			AddRow("uid-1", "golfer1", "en", "temporary", false, nil, fixedNow, fixedNow))
	f.mock.ExpectExec(q("UPDATE users SET role = $1, registered = $2, updated_at = $3 WHERE id = $4")).
		WithArgs("member", true, fixedNow, "uid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	p, err := f.store.SetRole(ctx, "uid-1", profiles.RoleMember)
	require.NoError(t, err)
	require.True(t, p.Registered)
	require.Equal(t, profiles.RoleMember, p.Role)
}

func TestStore_Link(t *testing.T) {
	ctx := context.Background()
	created := fixedNow.Add(-48 * time.Hour)

	t.Run("links an unlinked account", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(q("FROM legacy_accounts WHERE platform_id = $1 FOR UPDATE")).
			WithArgs("U_legacy123").
			WillReturnRows(sqlmock.NewRows(legacyColumns).
				AddRow("U_legacy123", "Somchai", nil, "th", "", nil, created))
		f.mock.ExpectExec(q("UPDATE legacy_accounts SET linked_to = $1")).
			WithArgs("newUid", fixedNow, "U_legacy123").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		a, written, err := f.store.Link(ctx, "U_legacy123", "newUid", fixedNow)
		require.NoError(t, err)
		require.True(t, written)
		require.Equal(t, "newUid", a.LinkedTo)
		require.Equal(t, profiles.LanguageTH, a.Language)
	})

	t.Run("already linked to the same user writes nothing", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(q("FOR UPDATE")).
			WillReturnRows(sqlmock.NewRows(legacyColumns).
				AddRow("U_legacy123", "Somchai", nil, "th", "newUid", fixedNow, created))
		f.mock.ExpectRollback()

		_, written, err := f.store.Link(ctx, "U_legacy123", "newUid", fixedNow)
		require.NoError(t, err)
		require.False(t, written)
	})

	t.Run("linked elsewhere", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(q("FOR UPDATE")).
			WillReturnRows(sqlmock.NewRows(legacyColumns).
				AddRow("U_legacy123", "Somchai", nil, "th", "otherUid", fixedNow, created))
		f.mock.ExpectRollback()

		_, _, err := f.store.Link(ctx, "U_legacy123", "newUid", fixedNow)
		require.ErrorIs(t, err, migration.ErrAlreadyLinked)
	})

	t.Run("no legacy account", func(t *testing.T) {
		f := setupTestFixture(t)

		f.mock.ExpectQuery(q("FROM legacy_accounts WHERE platform_id = $1")).
			WillReturnRows(sqlmock.NewRows(legacyColumns))

		_, err := f.store.FindByPlatformID(ctx, "U_legacy123")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
