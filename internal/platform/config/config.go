package config

import (
	"net/netip"
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration for the defense layer.
type Server struct {
	Addr            string
	Environment     string
	RedisURL        string // empty means in-memory stores only
	TrustedProxies  []netip.Prefix
	CleanupInterval time.Duration
	HealthInterval  time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("AEGIS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	env := os.Getenv("AEGIS_ENV")
	if env == "" {
		env = "development"
	}

	cleanupInterval := 5 * time.Minute
	if v := os.Getenv("AEGIS_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cleanupInterval = d
		}
	}

	healthInterval := time.Minute
	if v := os.Getenv("AEGIS_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			healthInterval = d
		}
	}

	return Server{
		Addr:            addr,
		Environment:     env,
		RedisURL:        os.Getenv("AEGIS_REDIS_URL"),
		TrustedProxies:  parseTrustedProxies(os.Getenv("AEGIS_TRUSTED_PROXIES")),
		CleanupInterval: cleanupInterval,
		HealthInterval:  healthInterval,
	}
}

// parseTrustedProxies parses a comma-separated list of CIDR prefixes.
// Invalid entries are skipped; an empty list means X-Forwarded-For is never trusted.
func parseTrustedProxies(raw string) []netip.Prefix {
	if raw == "" {
		return nil
	}
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(part); err == nil {
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes
}
