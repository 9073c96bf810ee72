package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar       = "PORT"
	appNameVar       = "APP_NAME"
	envVar           = "ENV"
	defaultLocaleVar = "DEFAULT_LOCALE"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Fairway Identity")
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, "DEV")
}

// GetDefaultLocale is the locale prefix used when a request carries none.
func (EnvVars) GetDefaultLocale() string {
	locale := strings.ToLower(GetEnv(defaultLocaleVar, "en"))
	if locale != "en" && locale != "th" {
		return "en"
	}
	return locale
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt returns defaultValue when the variable is unset or not a number.
func GetEnvInt(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetEnvDuration accepts Go duration strings such as "5s".
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(envVar))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
