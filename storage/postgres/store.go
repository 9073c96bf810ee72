// Package postgres stores reservations, profiles and legacy accounts in
// PostgreSQL. A claim writes the reservation and the profile in one transaction.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/profiles"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ handles.Store  = (*Store)(nil)
	_ profiles.Repo  = (*Store)(nil)
	_ migration.Repo = (*Store)(nil)
)

// NewMigrator creates a migrate instance for databaseURL over the bundled
// migrations.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending migration. Already up to date is not an error.
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Store implements the identity storage over PostgreSQL.
type Store struct {
	db      *sql.DB
	nowTime func() time.Time
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

// New wraps an open database handle.
func New(db *sql.DB, options ...StoreOption) *Store {
	s := &Store{db: db, nowTime: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Open connects to databaseURL. Migrations are applied separately with RunMigrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectProfile = `SELECT id, name, language, role, registered, picture_url, created_at, updated_at FROM users WHERE id = $1`

func getProfile(ctx context.Context, q queryRower, id string) (*profiles.Profile, error) {
	var (
		p          profiles.Profile
		language   string
		role       string
		pictureURL sql.NullString
	)
	err := q.QueryRowContext(ctx, selectProfile, id).Scan(
		&p.ID, &p.Name, &language, &role, &p.Registered, &pictureURL, &p.CreatedAt, &p.UpdatedAt,
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
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

const (
	insertReservation = `INSERT INTO usernames (handle, uid, created_at) VALUES ($1, $2, $3) ON CONFLICT (handle) DO NOTHING RETURNING handle`

	upsertProfile = `INSERT INTO users (id, name, language, role, registered, picture_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    language = EXCLUDED.language,
    role = EXCLUDED.role,
    registered = EXCLUDED.registered,
    picture_url = COALESCE(EXCLUDED.picture_url, users.picture_url),
    updated_at = EXCLUDED.updated_at`
)

// Claim inserts the reservation and merges the owner's profile in one
// transaction. No returned row from the reservation insert means the handle is
// already taken.
func (s *Store) Claim(ctx context.Context, r handles.Reservation, p profiles.Profile) (*profiles.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inserted string
	err = tx.QueryRowContext(ctx, insertReservation, r.Handle, r.OwnerID, r.CreatedAt.UTC()).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, handles.ErrReservationConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert reservation %s: %w", r.Handle, err)
	}

	if _, err := tx.ExecContext(ctx, upsertProfile,
		p.ID, p.Name, string(p.Language), string(p.Role), p.Registered, p.PictureURL,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	); err != nil {
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
	r := handles.Reservation{Handle: handle}
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, created_at FROM usernames WHERE handle = $1`, handle,
	).Scan(&r.OwnerID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reservation %s: %w", handle, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
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
	p.UpdatedAt = s.nowTime().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET role = $1, registered = $2, updated_at = $3 WHERE id = $4`,
		string(p.Role), p.Registered, p.UpdatedAt, id,
	); err != nil {
		return nil, fmt.Errorf("update role %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit set role: %w", err)
	}
	return p, nil
}

const selectLegacy = `SELECT platform_id, display_name, picture_url, language, linked_to, linked_at, created_at FROM legacy_accounts WHERE platform_id = $1`

func getLegacy(ctx context.Context, q queryRower, platformID string, forUpdate bool) (*migration.LegacyAccount, error) {
	query := selectLegacy
	if forUpdate {
		query += " FOR UPDATE"
	}
	var (
		a          migration.LegacyAccount
		pictureURL sql.NullString
		language   string
		linkedAt   sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, platformID).Scan(
		&a.PlatformID, &a.DisplayName, &pictureURL, &language, &a.LinkedTo, &linkedAt, &a.CreatedAt,
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
		t := linkedAt.Time.UTC()
		a.LinkedAt = &t
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *Store) FindByPlatformID(ctx context.Context, platformID string) (*migration.LegacyAccount, error) {
	return getLegacy(ctx, s.db, platformID, false)
}

// Link locks the legacy row and sets linked_to when it is still empty.
func (s *Store) Link(ctx context.Context, platformID, backendID string, at time.Time) (*migration.LegacyAccount, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := getLegacy(ctx, tx, platformID, true)
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

	at = at.UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE legacy_accounts SET linked_to = $1, linked_at = $2 WHERE platform_id = $3`,
		backendID, at, platformID,
	); err != nil {
		return nil, false, fmt.Errorf("link legacy account %s: %w", platformID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit link: %w", err)
	}
	a.LinkedTo = backendID
	a.LinkedAt = &at
	return a, true, nil
}

// PutLegacyAccount inserts or replaces a legacy account. Used by imports.
func (s *Store) PutLegacyAccount(ctx context.Context, a migration.LegacyAccount) error {
	language := a.Language
	if language == "" {
		language = profiles.LanguageEN
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO legacy_accounts (platform_id, display_name, picture_url, language, linked_to, linked_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (platform_id) DO UPDATE SET
    display_name = EXCLUDED.display_name,
    picture_url = EXCLUDED.picture_url,
    language = EXCLUDED.language,
    linked_to = EXCLUDED.linked_to,
    linked_at = EXCLUDED.linked_at`,
		a.PlatformID, a.DisplayName, a.PictureURL, string(language), a.LinkedTo, a.LinkedAt, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put legacy account %s: %w", a.PlatformID, err)
	}
	return nil
}
