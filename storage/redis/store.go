// Package redis stores reservations, profiles and legacy accounts in Redis.
//
// Redis has no transaction spanning a conditional insert and a dependent write,
// so a claim reserves the handle first with SETNX, then writes the profile, and
// deletes the reservation again if the profile write fails.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/profiles"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	_ handles.Store  = (*Store)(nil)
	_ profiles.Repo  = (*Store)(nil)
	_ migration.Repo = (*Store)(nil)
)

const (
	usernamePrefix = "usernames:"
	userPrefix     = "users:"
	legacyPrefix   = "legacy_accounts:"
)

// Store implements the identity storage over a Redis client.
type Store struct {
	client  goredis.UniversalClient
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

// New wraps an existing client.
func New(client goredis.UniversalClient, options ...StoreOption) *Store {
	s := &Store{client: client, nowTime: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Open connects to addr and checks the server answers.
func Open(ctx context.Context, addr string, options ...StoreOption) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, options...), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type storedReservation struct {
	UID       string `json:"uid"`
	CreatedAt int64  `json:"createdAt"`
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Claim reserves r.Handle and merges p into the owner's profile.
func (s *Store) Claim(ctx context.Context, r handles.Reservation, p profiles.Profile) (*profiles.Profile, error) {
	raw, err := json.Marshal(storedReservation{UID: r.OwnerID, CreatedAt: r.CreatedAt.UTC().UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("encode reservation: %w", err)
	}

	key := usernamePrefix + r.Handle
	reserved, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", r.Handle, err)
	}
	if !reserved {
		return nil, handles.ErrReservationConflict
	}

	if err := s.mergeProfile(ctx, p); err != nil {
		// release so the handle is not held by an owner without a profile
		if delErr := s.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			log.Err(delErr).Str("handle", r.Handle).Msg("Failed to release reservation after profile write failure")
		}
		return nil, fmt.Errorf("write profile %s: %w", p.ID, err)
	}
	return s.GetByID(ctx, p.ID)
}

func (s *Store) mergeProfile(ctx context.Context, p profiles.Profile) error {
	key := userPrefix + p.ID
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "created_at", millis(p.CreatedAt))
		fields := []any{
			"id", p.ID,
			"name", p.Name,
			"language", string(p.Language),
			"role", string(p.Role),
			"registered", strconv.FormatBool(p.Registered),
			"updated_at", millis(p.UpdatedAt),
		}
		if p.PictureURL != nil {
			fields = append(fields, "picture_url", *p.PictureURL)
		}
		pipe.HSet(ctx, key, fields...)
		return nil
	})
	return err
}

func (s *Store) GetReservation(ctx context.Context, handle string) (*handles.Reservation, error) {
	raw, err := s.client.Get(ctx, usernamePrefix+handle).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", handle, err)
	}
	var stored storedReservation
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode reservation %s: %w", handle, err)
	}
	return &handles.Reservation{
		Handle:    handle,
		OwnerID:   stored.UID,
		CreatedAt: time.UnixMilli(stored.CreatedAt).UTC(),
	}, nil
}

func profileFromHash(fields map[string]string) (*profiles.Profile, error) {
	language, err := profiles.ParseLanguage(fields["language"])
	if err != nil {
		return nil, err
	}
	role, err := profiles.ParseRole(fields["role"])
	if err != nil {
		return nil, err
	}
	registered, _ := strconv.ParseBool(fields["registered"])
	p := &profiles.Profile{
		ID:         fields["id"],
		Name:       fields["name"],
		Language:   language,
		Role:       role,
		Registered: registered,
		CreatedAt:  parseMillis(fields["created_at"]),
		UpdatedAt:  parseMillis(fields["updated_at"]),
	}
	if pic, ok := fields["picture_url"]; ok && pic != "" {
		p.PictureURL = &pic
	}
	return p, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*profiles.Profile, error) {
	fields, err := s.client.HGetAll(ctx, userPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrProfileNotFound
	}
	return profileFromHash(fields)
}

// SetRole updates the role under WATCH so a concurrent name change is not lost.
func (s *Store) SetRole(ctx context.Context, id string, role profiles.RoleType) (*profiles.Profile, error) {
	key := userPrefix + id
	var updated *profiles.Profile

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return apperrors.ErrProfileNotFound
		}
		p, err := profileFromHash(fields)
		if err != nil {
			return err
		}
		p.Role = role
		p.Registered = p.HasName() && role != profiles.RoleTemporary
		p.UpdatedAt = s.nowTime().UTC().Truncate(time.Millisecond)

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"role", string(p.Role),
				"registered", strconv.FormatBool(p.Registered),
				"updated_at", millis(p.UpdatedAt),
			)
			return nil
		})
		updated = p
		return err
	}, key)
	if errors.Is(err, apperrors.ErrProfileNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("set role %s: %w", id, err)
	}
	return updated, nil
}

func (s *Store) FindByPlatformID(ctx context.Context, platformID string) (*migration.LegacyAccount, error) {
	fields, err := s.client.HGetAll(ctx, legacyPrefix+platformID).Result()
	if err != nil {
		return nil, fmt.Errorf("get legacy account %s: %w", platformID, err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return legacyFromHash(platformID, fields), nil
}

func legacyFromHash(platformID string, fields map[string]string) *migration.LegacyAccount {
	a := &migration.LegacyAccount{
		PlatformID:  platformID,
		DisplayName: fields["display_name"],
		LinkedTo:    fields["linked_to"],
		CreatedAt:   parseMillis(fields["created_at"]),
	}
	a.Language, _ = profiles.ParseLanguage(fields["language"])
	if pic, ok := fields["picture_url"]; ok && pic != "" {
		a.PictureURL = &pic
	}
	if raw, ok := fields["linked_at"]; ok && raw != "" {
		t := parseMillis(raw)
		a.LinkedAt = &t
	}
	return a
}

const linkAttempts = 3

// Link sets linked_to under WATCH, so only the first link writes and a concurrently
// deleted account is never recreated.
func (s *Store) Link(ctx context.Context, platformID, backendID string, at time.Time) (*migration.LegacyAccount, bool, error) {
	key := legacyPrefix + platformID
	var (
		linked  *migration.LegacyAccount
		written bool
	)

	link := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return apperrors.ErrNotFound
		}
		a := legacyFromHash(platformID, fields)
		switch a.LinkedTo {
		case backendID:
			linked, written = a, false
			return nil
		case "":
		default:
			return migration.ErrAlreadyLinked
		}

		linkedAt := at.UTC().Truncate(time.Millisecond)
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "linked_to", backendID, "linked_at", millis(linkedAt))
			return nil
		})
		if err != nil {
			return err
		}
		a.LinkedTo = backendID
		a.LinkedAt = &linkedAt
		linked, written = a, true
		return nil
	}

	var err error
	for i := 0; i < linkAttempts; i++ {
		err = s.client.Watch(ctx, link, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, migration.ErrAlreadyLinked):
		return nil, false, err
	case err != nil:
		return nil, false, fmt.Errorf("link legacy account %s: %w", platformID, err)
	}
	return linked, written, nil
}

// PutLegacyAccount replaces a legacy account. Used by imports.
func (s *Store) PutLegacyAccount(ctx context.Context, a migration.LegacyAccount) error {
	key := legacyPrefix + a.PlatformID
	language := a.Language
	if language == "" {
		language = profiles.LanguageEN
	}
	fields := []any{
		"display_name", a.DisplayName,
		"language", string(language),
		"created_at", millis(a.CreatedAt),
	}
	if a.PictureURL != nil {
		fields = append(fields, "picture_url", *a.PictureURL)
	}
	if a.LinkedTo != "" {
		fields = append(fields, "linked_to", a.LinkedTo)
	}
	if a.LinkedAt != nil {
		fields = append(fields, "linked_at", millis(*a.LinkedAt))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put legacy account %s: %w", a.PlatformID, err)
	}
	return nil
}
