package resilience

import "time"

// CircuitBreakerConfig tunes a breaker guarding one remote dependency.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	OpenTimeout      time.Duration
	HalfOpenMaxReq   int
}

const (
	minGatewayFailures    = 2
	minGatewayOpenTimeout = 5 * time.Second
)

// DefaultCircuitBreakerConfig trips after a few consecutive transport failures.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxReq:   1,
	}
}

// GatewayCircuitBreakerConfig sizes the breaker in front of the sync gateway.
// It opens once a full batch has failed back to back and half-opens when the
// next interval drain is due.
func GatewayCircuitBreakerConfig(syncInterval time.Duration, batchSize int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if batchSize > 0 {
		cfg.FailureThreshold = max(batchSize, minGatewayFailures)
	}
	if syncInterval > 0 {
		cfg.OpenTimeout = max(syncInterval, minGatewayOpenTimeout)
	}
	return cfg
}

func NormalizeCircuitBreakerConfig(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	defaults := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenMaxReq < 1 {
		cfg.HalfOpenMaxReq = defaults.HalfOpenMaxReq
	}
	return cfg
}
