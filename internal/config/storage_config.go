package config

import "strings"

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type StorageConfig interface {
	GetStorageDriver() string
	GetDatabaseURL() string
	GetSQLitePath() string
	GetRedisAddr() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageDriver() string {
	return strings.ToLower(GetEnv("STORAGE_DRIVER", StorageSQLite))
}

func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

func (Storage) GetSQLitePath() string {
	return GetEnv("SQLITE_PATH", "./data/fairway.db")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}
