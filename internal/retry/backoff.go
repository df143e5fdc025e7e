package retry

import "time"

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	return base * (1 << attempt)
}

// CappedBackoff is ExponentialBackoff clamped to max. It is safe for large
// attempt counts that would overflow the shift.
func CappedBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max > 0 && (attempt >= 62 || base > max>>uint(attempt)) {
		return max
	}
	d := ExponentialBackoff(attempt, base)
	if max > 0 && d > max {
		return max
	}
	return d
}
