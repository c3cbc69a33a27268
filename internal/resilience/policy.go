package resilience

import "time"

// Policy is the flat, config-file shape of a retry policy plus the breaker
// that guards the same dependency. Zero fields fall back to the defaults.
type Policy struct {
	MaxAttempts      int
	InitialBackoffMs int
	MaxBackoffMs     int
	Multiplier       float64
	JitterFraction   float64
	FailureThreshold int
}

// Retry returns the RetryConfig described by p. A jitter fraction outside
// [0, 1] is clamped.
func (p Policy) Retry() RetryConfig {
	cfg := DefaultRetryConfig()
	if p.MaxAttempts > 0 {
		cfg.MaxAttempts = p.MaxAttempts
	}
	if p.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(p.InitialBackoffMs) * time.Millisecond
	}
	if p.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(p.MaxBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if p.Multiplier >= 1 {
		cfg.Multiplier = p.Multiplier
	}
	cfg.JitterFraction = min(max(p.JitterFraction, 0), 1)
	return cfg
}

// Breaker returns a breaker that opens after FailureThreshold consecutive
// failures and stays open: within one run an open sink is not probed again.
func (p Policy) Breaker() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if p.FailureThreshold > 0 {
		cfg.FailureThreshold = p.FailureThreshold
	}
	return cfg
}
