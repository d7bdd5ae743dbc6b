// Package retry provides the exponential-backoff schedule shared by every
// bounded wait loop in the credential package: the in-process refresh-claim
// wait in Manager.resolve, and the Redis DistributedLock's Acquire poll
// loop.
//
// Grounded on pkg/http/backoff.go's BackoffConfig/CalculateBackoff, carried
// over unchanged in shape and generalized away from its HTTP-retry framing
// since a lock poll and a refresh wait have the identical schedule need.
package retry

import (
	"math"
	"time"
)

// BackoffConfig configures exponential backoff behavior.
type BackoffConfig struct {
	BaseDelay   time.Duration // Initial delay for the first retry
	MaxDelay    time.Duration // Maximum delay cap
	Multiplier  float64       // Exponential multiplier (typically 2.0)
	MaxAttempts int           // Maximum number of retry attempts
}

// DefaultBackoffConfig returns sensible defaults for a lock-poll or
// refresh-wait schedule: a short base delay with a sub-second ceiling, since
// callers are waiting on another goroutine or process rather than a remote
// service.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		Multiplier:  2.0,
		MaxAttempts: 0, // unbounded; callers bound on a wall-clock deadline instead
	}
}

// CalculateBackoff returns the delay for a given attempt number using
// exponential backoff. attempt is 1-indexed (first retry is attempt 1).
func CalculateBackoff(config BackoffConfig, attempt int) time.Duration {
	if attempt <= 0 {
		return config.BaseDelay
	}

	// Cap the exponent so the computed delay stays bounded.
	if attempt > 30 {
		attempt = 30
	}

	multiplier := math.Pow(config.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)

	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}
