package payments

import (
	"math"
	"time"
)

// RetryPolicy drives the failed-transaction re-check schedule:
// delay(n) = Unit * Base^n, capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries int
	Base       float64
	Unit       time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		Base:       2,
		Unit:       time.Minute,
		MaxDelay:   6 * time.Hour,
	}
}

// Backoff is non-decreasing in retryCount as long as Base >= 1.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	base := p.Base
	if base < 1 {
		base = 1
	}
	d := float64(p.Unit) * math.Pow(base, float64(retryCount))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0)) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p RetryPolicy) NextRetryAt(from time.Time, retryCount int) time.Time {
	return from.Add(p.Backoff(retryCount))
}

func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
