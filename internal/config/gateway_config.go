package config

import (
	"strings"
	"time"
)

type Gateway struct{}

var _ GatewayConfig = Gateway{}

// GetAPIBaseURL returns the coaching API root, including the /api prefix
func (Gateway) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv("COACH_API_URL", "http://localhost:8000/api"), "/")
}

func (Gateway) GetRequestTimeout() time.Duration {
	return getEnvDuration("COACH_REQUEST_TIMEOUT", 30*time.Second)
}

// GetRateLimit is the sustained number of outbound calls per second
func (Gateway) GetRateLimit() float64 {
	return getEnvFloat("COACH_RATE_LIMIT", 10)
}

func (Gateway) GetRateBurst() int {
	return getEnvInt("COACH_RATE_BURST", 20)
}

// GetMaxRetries applies to idempotent calls that failed with a server or network error
func (Gateway) GetMaxRetries() int {
	return getEnvInt("COACH_MAX_RETRIES", 2)
}

func (Gateway) GetRetryBackoff() time.Duration {
	return getEnvDuration("COACH_RETRY_BACKOFF", 250*time.Millisecond)
}
