package domain

import (
	"time"
)

// BackoffMode selects how retry delays grow across attempts
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffExponential BackoffMode = "exponential"
)

// RetryStrategy computes delays for bounded payment retries
type RetryStrategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Mode        BackoffMode
	MaxDelay    time.Duration // 0 = uncapped
}

// DefaultRetryStrategy is used when no strategy is supplied:
// 3 attempts, 1 hour base delay, exponential, capped at 24 hours.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
		Mode:        BackoffExponential,
		MaxDelay:    24 * time.Hour,
	}
}

// NextDelay returns the delay before the given attempt (0-based) and whether
// a retry is still allowed. Once attempt >= MaxAttempts no delay is returned.
//
// Exponential mode doubles per attempt: delay(n) = BaseDelay * 2^n, capped
// at MaxDelay when set. Fixed mode always returns BaseDelay.
func (s RetryStrategy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= s.MaxAttempts {
		return 0, false
	}

	delay := s.BaseDelay
	if s.Mode == BackoffExponential {
		for i := 0; i < attempt; i++ {
			delay *= 2
			if s.MaxDelay > 0 && delay >= s.MaxDelay {
				delay = s.MaxDelay
				break
			}
		}
	}

	if s.MaxDelay > 0 && delay > s.MaxDelay {
		delay = s.MaxDelay
	}
	return delay, true
}
