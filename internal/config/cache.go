package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig tunes the availability response cache.  The only cached
// routes are capacity listings, so the default TTL is deliberately
// short: a stale remaining-unit count is tolerable for seconds, not
// minutes.  With Enabled false or no Redis client the middleware is a
// pass-through.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool // HTTP methods eligible for caching
	TTL          time.Duration
	KeyStrategy  string // which request parts form the cache key
	Prefix       string // Redis key namespace
	MaxBodyBytes int    // responses larger than this are not stored
}

// LoadCacheConfig builds a CacheConfig from environment variables,
// falling back to defaults tuned for availability reads.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      getenv("CACHE_ENABLED", "true") == "true",
		Methods:      map[string]bool{},
		TTL:          parseDur(getenv("CACHE_TTL", "10s")),
		KeyStrategy:  getenv("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       getenv("CACHE_PREFIX", "cache"),
		MaxBodyBytes: atoi(getenv("CACHE_MAX_BODY_BYTES", "1048576")),
	}
	for _, m := range strings.Split(getenv("CACHE_METHODS", "GET"), ",") {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			cfg.Methods[m] = true
		}
	}
	return cfg
}

// Env helpers shared across the config package.

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}
