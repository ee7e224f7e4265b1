package config

import (
	"time"
)

type Config interface {
	EnvConfig
	GatewayConfig
	AuthConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetCredentialsDir() string
}

type GatewayConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetRateLimit() float64
	GetRateBurst() int
	GetMaxRetries() int
	GetRetryBackoff() time.Duration
}

type mainConfig struct {
	EnvVars
	Gateway
	Auth
}

func New() Config {
	return mainConfig{}
}
