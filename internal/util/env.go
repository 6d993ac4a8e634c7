package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GetEnv returns the value of key or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		Warn("Invalid integer env value, using default", zap.String("key", key), zap.Int("default", defaultValue))
		return defaultValue
	}
	return n
}

func GetEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetEnvDuration accepts Go duration strings such as "30m" or "15h".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		Warn("Invalid duration env value, using default", zap.String("key", key), zap.Duration("default", defaultValue))
		return defaultValue
	}
	return d
}

// GetEnvList splits a comma separated value, dropping empty items.
func GetEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
