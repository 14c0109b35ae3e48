package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// EnvConfig is the tunable part of a breaker Config, loaded from CB_<PREFIX>_* variables
type EnvConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// FromEnv reads CB_<prefix>_MAX_REQUESTS, _INTERVAL, _TIMEOUT and _FAILURE_THRESHOLD,
// keeping def for anything unset or malformed.
func FromEnv(prefix string, def EnvConfig) EnvConfig {
	p := "CB_" + prefix + "_"
	return EnvConfig{
		MaxRequests:      getEnvUint32(p+"MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(p+"INTERVAL", def.Interval),
		Timeout:          getEnvDuration(p+"TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(p+"FAILURE_THRESHOLD", def.FailureThreshold),
	}
}

// GetRedisConfig returns the breaker settings for Redis (embedding cache, rate windows)
func GetRedisConfig() EnvConfig {
	return FromEnv("REDIS", EnvConfig{
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
	})
}

// GetDatabaseConfig returns the breaker settings for the SQL document store
func GetDatabaseConfig() EnvConfig {
	return FromEnv("DB", EnvConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	})
}

// GetHTTPConfig returns the breaker settings for the embedding provider
func GetHTTPConfig() EnvConfig {
	return FromEnv("HTTP", EnvConfig{
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
	})
}

// ToConfig converts EnvConfig to a breaker Config
func (c EnvConfig) ToConfig() Config {
	return Config{
		MaxRequests:      c.MaxRequests,
		Interval:         c.Interval,
		Timeout:          c.Timeout,
		FailureThreshold: c.FailureThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
