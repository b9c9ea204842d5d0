package store

import (
	"math"
	"time"
)

// Retryer decides how long to wait before the next connection attempt.
// attempt is 0-based. Returning false stops retrying.
type Retryer interface {
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// FixedDelayRetryer waits the same delay between attempts.
type FixedDelayRetryer struct {
	Delay time.Duration

	// MaxRetries is the maximum number of retries (0 for infinite).
	MaxRetries int
}

// NextDelay implements Retryer.
func (r FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// ExponentialRetryer doubles the delay on every attempt up to MaxDelay.
type ExponentialRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxRetries is the maximum number of retries (0 for infinite).
	MaxRetries int
}

// NextDelay implements Retryer.
func (r ExponentialRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	delay := r.InitialDelay
	for i := 0; i < attempt && delay > 0 && (r.MaxDelay <= 0 || delay < r.MaxDelay); i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay, true
}
