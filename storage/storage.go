// Package storage selects the configured identity storage backend.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/fairway-identity/handles"
	"github.com/jrsteele09/fairway-identity/internal/config"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/jrsteele09/fairway-identity/storage/postgres"
	"github.com/jrsteele09/fairway-identity/storage/redis"
	"github.com/jrsteele09/fairway-identity/storage/sqlite"
	"github.com/rs/zerolog/log"
)

// Backend is everything the identity core persists.
type Backend interface {
	handles.Store
	profiles.Repo
	migration.Repo
	PutLegacyAccount(ctx context.Context, a migration.LegacyAccount) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*redis.Store)(nil)
)

// Open connects to the backend named by cfg.GetStorageDriver.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	driver := cfg.GetStorageDriver()
	log.Info().Str("driver", driver).Msg("Opening identity storage")

	switch driver {
	case config.StorageSQLite:
		return sqlite.Open(cfg.GetSQLitePath())
	case config.StoragePostgres:
		if cfg.GetDatabaseURL() == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the %s driver", driver)
		}
		if err := postgres.RunMigrations(cfg.GetDatabaseURL()); err != nil {
			return nil, err
		}
		return postgres.Open(ctx, cfg.GetDatabaseURL())
	case config.StorageRedis:
		return redis.Open(ctx, cfg.GetRedisAddr())
	default:
		return nil, apperrors.Wrapf(apperrors.ErrUnsupported, "storage driver %q", driver)
	}
}
