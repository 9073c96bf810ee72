package config

type PlatformConfig interface {
	GetPlatformIssuer() string
	GetPlatformClientID() string
	GetPlatformClientSecret() string
	GetPlatformRedirectURL() string
}

type Platform struct{}

var _ PlatformConfig = Platform{}

func (Platform) GetPlatformIssuer() string {
	return GetEnv("PLATFORM_ISSUER", "https://access.line.me")
}

func (Platform) GetPlatformClientID() string {
	return GetEnv("PLATFORM_CLIENT_ID", "")
}

func (Platform) GetPlatformClientSecret() string {
	return GetEnv("PLATFORM_CLIENT_SECRET", "")
}

func (Platform) GetPlatformRedirectURL() string {
	return GetEnv("PLATFORM_REDIRECT_URL", "http://localhost:8080/en")
}
