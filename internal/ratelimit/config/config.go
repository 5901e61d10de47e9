package config

import (
	"time"

	"aegis/internal/ratelimit/models"
)

// ClassConfig is the limit policy plus key strategy for one endpoint class.
type ClassConfig struct {
	Limit    models.Limit
	Strategy models.KeyStrategy
}

// Config holds the per-class rate limit policies and the global throttle.
type Config struct {
	Classes map[models.EndpointClass]ClassConfig

	// GlobalRate/GlobalBurst bound total admission across all identifiers,
	// independent of per-key windows. Zero rate disables the throttle.
	GlobalRate  float64
	GlobalBurst int
}

// DefaultConfig returns the stock policies: strict for authentication routes,
// relaxed for health checks, burst-tolerant for webhook ingestion.
func DefaultConfig() *Config {
	return &Config{
		Classes: map[models.EndpointClass]ClassConfig{
			models.ClassAuth: {
				Limit:    models.Limit{MaxRequests: 5, Window: 15 * time.Minute, Block: 30 * time.Minute},
				Strategy: models.StrategyIP,
			},
			models.ClassAPI: {
				Limit:    models.Limit{MaxRequests: 100, Window: time.Minute},
				Strategy: models.StrategyIPUserAgent,
			},
			models.ClassWebhook: {
				Limit:    models.Limit{MaxRequests: 50, Window: 10 * time.Second},
				Strategy: models.StrategyIPSignature,
			},
			models.ClassHealth: {
				Limit:    models.Limit{MaxRequests: 300, Window: time.Minute},
				Strategy: models.StrategyIP,
			},
			models.ClassAdmin: {
				Limit:    models.Limit{MaxRequests: 30, Window: time.Minute, Block: 5 * time.Minute},
				Strategy: models.StrategyIP,
			},
		},
		GlobalRate:  500,
		GlobalBurst: 1000,
	}
}

// GetClass returns the policy for the given endpoint class.
// The second return is false when no policy is configured (callers default-deny).
func (c *Config) GetClass(class models.EndpointClass) (ClassConfig, bool) {
	cfg, ok := c.Classes[class]
	return cfg, ok
}
