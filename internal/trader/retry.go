package trader

import (
	"time"

	"order-settlement-engine/internal/config"
)

// RetryPolicy bounds how often a transiently failing order is retried.
// Delays grow exponentially from Initial and are capped at Max.
type RetryPolicy struct {
	MaxAttempts int // 0 retries forever
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// NewRetryPolicy builds the policy from the execution settings.
func NewRetryPolicy(cfg config.Execution) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Initial:     cfg.BackoffInitial,
		Max:         cfg.BackoffMax,
		Multiplier:  2,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.Max > 0 && delay >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(delay) > p.Max {
		return p.Max
	}
	return time.Duration(delay)
}

// Exhausted reports whether an order that has failed attempts times may not be retried.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
