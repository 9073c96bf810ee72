// Package sqlite stores reservations, profiles and legacy accounts in a single
// SQLite file. A claim writes the reservation and the profile in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/profiles"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ handles.Store  = (*Store)(nil)
	_ profiles.Repo  = (*Store)(nil)
	_ migration.Repo = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements the identity storage over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite file at path and applies the bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; claims rely on it
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// m.Close would close s.db as well
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectProfile = `
SELECT id, name, language, role, registered, picture_url, created_at, updated_at
FROM users WHERE id = ?`

func getProfile(ctx context.Context, q queryRower, id string) (*profiles.Profile, error) {
	var (
		p          profiles.Profile
		language   string
		role       string
		pictureURL sql.NullString
		createdAt  int64
		updatedAt  int64
	)
	err := q.QueryRowContext(ctx, selectProfile, id).Scan(
		&p.ID, &p.Name, &language, &role, &p.Registered, &pictureURL, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select profile %s: %w", id, err)
	}
	if p.Language, err = profiles.ParseLanguage(language); err != nil {
		return nil, err
	}
	if p.Role, err = profiles.ParseRole(role); err != nil {
		return nil, err
	}
	if pictureURL.Valid {
		p.PictureURL = &pictureURL.String
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// Claim inserts the reservation and merges the owner's profile in one
// transaction. An existing reservation is a conflict and nothing is written.
func (s *Store) Claim(ctx context.Context, r handles.Reservation, p profiles.Profile) (*profiles.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO usernames (handle, uid, created_at) VALUES (?, ?, ?) ON CONFLICT(handle) DO NOTHING`,
		r.Handle, r.OwnerID, toMillis(r.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert reservation %s: %w", r.Handle, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("insert reservation %s: %w", r.Handle, err)
	} else if n == 0 {
		return nil, handles.ErrReservationConflict
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO users (id, name, language, role, registered, picture_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    language = excluded.language,
    role = excluded.role,
    registered = excluded.registered,
    picture_url = COALESCE(excluded.picture_url, users.picture_url),
    updated_at = excluded.updated_at`,
		p.ID, p.Name, string(p.Language), string(p.Role), p.Registered, p.PictureURL,
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}

	stored, err := getProfile(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return stored, nil
}

func (s *Store) GetReservation(ctx context.Context, handle string) (*handles.Reservation, error) {
	var (
		r         = handles.Reservation{Handle: handle}
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, created_at FROM usernames WHERE handle = ?`, handle,
	).Scan(&r.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reservation %s: %w", handle, err)
	}
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*profiles.Profile, error) {
	return getProfile(ctx, s.db, id)
}

// SetRole changes the role of id. A named profile with a non-temporary role is
// registered.
func (s *Store) SetRole(ctx context.Context, id string, role profiles.RoleType) (*profiles.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin set role: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := getProfile(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	p.Role = role
	p.Registered = p.HasName() && role != profiles.RoleTemporary
	p.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET role = ?, registered = ?, updated_at = ? WHERE id = ?`,
		string(p.Role), p.Registered, toMillis(p.UpdatedAt), id,
	); err != nil {
		return nil, fmt.Errorf("update role %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit set role: %w", err)
	}
	return getProfile(ctx, s.db, id)
}

const selectLegacy = `
SELECT platform_id, display_name, picture_url, language, linked_to, linked_at, created_at
FROM legacy_accounts WHERE platform_id = ?`

func getLegacy(ctx context.Context, q queryRower, platformID string) (*migration.LegacyAccount, error) {
	var (
		a          migration.LegacyAccount
		pictureURL sql.NullString
		language   string
		linkedAt   sql.NullInt64
		createdAt  int64
	)
	err := q.QueryRowContext(ctx, selectLegacy, platformID).Scan(
		&a.PlatformID, &a.DisplayName, &pictureURL, &language, &a.LinkedTo, &linkedAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select legacy account %s: %w", platformID, err)
	}
	if pictureURL.Valid {
		a.PictureURL = &pictureURL.String
	}
	a.Language, _ = profiles.ParseLanguage(language)
	if linkedAt.Valid {
		t := fromMillis(linkedAt.Int64)
		a.LinkedAt = &t
	}
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

func (s *Store) FindByPlatformID(ctx context.Context, platformID string) (*migration.LegacyAccount, error) {
	return getLegacy(ctx, s.db, platformID)
}

func (s *Store) Link(ctx context.Context, platformID, backendID string, at time.Time) (*migration.LegacyAccount, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := getLegacy(ctx, tx, platformID)
	if err != nil {
		return nil, false, err
	}
	switch a.LinkedTo {
	case backendID:
		return a, false, nil
	case "":
	default:
		return nil, false, migration.ErrAlreadyLinked
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE legacy_accounts SET linked_to = ?, linked_at = ? WHERE platform_id = ? AND linked_to = ''`,
		backendID, toMillis(at), platformID,
	); err != nil {
		return nil, false, fmt.Errorf("link legacy account %s: %w", platformID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit link: %w", err)
	}

	linkedAt := at.UTC().Truncate(time.Millisecond)
	a.LinkedTo = backendID
	a.LinkedAt = &linkedAt
	return a, true, nil
}

// PutLegacyAccount inserts or replaces a legacy account. Used by imports.
func (s *Store) PutLegacyAccount(ctx context.Context, a migration.LegacyAccount) error {
	var linkedAt *int64
	if a.LinkedAt != nil {
		ms := toMillis(*a.LinkedAt)
		linkedAt = &ms
	}
	language := a.Language
	if language == "" {
		language = profiles.LanguageEN
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO legacy_accounts (platform_id, display_name, picture_url, language, linked_to, linked_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(platform_id) DO UPDATE SET
    display_name = excluded.display_name,
    picture_url = excluded.picture_url,
    language = excluded.language,
    linked_to = excluded.linked_to,
    linked_at = excluded.linked_at`,
		a.PlatformID, a.DisplayName, a.PictureURL, string(language), a.LinkedTo, linkedAt, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put legacy account %s: %w", a.PlatformID, err)
	}
	return nil
}
