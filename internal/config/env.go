package config

import (
	"os"
	"strconv"
	"time"
)

// getEnv returns the value of key or def when unset or empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// firstEnv returns the first non-empty value among keys, or def.
func firstEnv(def string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// envInt parses key as an int, falling back to def on error or absence.
func envInt(key string, def int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return def
}

// envBool parses key as a bool, falling back to def on error or absence.
func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return def
}

// envMillis reads key as a whole number of milliseconds.
func envMillis(key string, def time.Duration) time.Duration {
	if n, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil && n >= 0 {
		return time.Duration(n) * time.Millisecond
	}
	return def
}
