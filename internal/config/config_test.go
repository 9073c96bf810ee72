package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, name := range []string{"PORT", "ENV", "DEFAULT_LOCALE", "STORAGE_DRIVER", "AUTH_LIVENESS_TIMEOUT", "PROFILE_CACHE_SIZE"} {
		t.Setenv(name, "")
	}
	cfg := config.New()

	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "DEV", cfg.GetEnv())
	require.Equal(t, "en", cfg.GetDefaultLocale())
	require.Equal(t, config.StorageSQLite, cfg.GetStorageDriver())
	require.Equal(t, 5*time.Second, cfg.GetAuthLivenessTimeout())
	require.Equal(t, 1024, cfg.GetProfileCacheSize())
}

func TestOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("DEFAULT_LOCALE", "TH")
	t.Setenv("STORAGE_DRIVER", "Redis")
	t.Setenv("AUTH_LIVENESS_TIMEOUT", "750ms")
	t.Setenv("CLAIM_RATE_PER_MINUTE", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	cfg := config.New()

	require.Equal(t, ":9090", cfg.GetPort())
	require.Equal(t, "th", cfg.GetDefaultLocale())
	require.Equal(t, config.StorageRedis, cfg.GetStorageDriver())
	require.Equal(t, 750*time.Millisecond, cfg.GetAuthLivenessTimeout())
	require.Equal(t, 10, cfg.GetClaimRatePerMinute())
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://b.example.com"))
	require.False(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://c.example.com"))
}
