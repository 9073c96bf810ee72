package config

import "time"

type SessionConfig interface {
	GetSessionSecret() []byte
	GetSessionTTL() time.Duration
	GetAuthLivenessTimeout() time.Duration
	GetProfileCacheSize() int
	GetClaimRatePerMinute() int
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetSessionSecret() []byte {
	return []byte(GetEnv("SESSION_SECRET", ""))
}

func (Session) GetSessionTTL() time.Duration {
	return GetEnvDuration("SESSION_TTL", 30*24*time.Hour)
}

func (Session) GetAuthLivenessTimeout() time.Duration {
	return GetEnvDuration("AUTH_LIVENESS_TIMEOUT", 5*time.Second)
}

func (Session) GetProfileCacheSize() int {
	return GetEnvInt("PROFILE_CACHE_SIZE", 1024)
}

// GetClaimRatePerMinute bounds handle claims per visitor.
func (Session) GetClaimRatePerMinute() int {
	return GetEnvInt("CLAIM_RATE_PER_MINUTE", 10)
}
