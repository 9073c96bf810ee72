package config

type Config interface {
	EnvConfig
	CorsConfig
	PlatformConfig
	SessionConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetDefaultLocale() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Platform
	Session
	Storage
}

func New() Config {
	return mainConfig{}
}
