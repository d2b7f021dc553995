// Package backoff holds the timing policy shared by the scheduler and the webhook client:
// per-cycle jitter, exponential backoff and context-aware sleeping.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Rand is the random source used for jitter. *rand.Rand satisfies it, which keeps results
// deterministic in tests when seeded.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Default draws from the process-wide generator and is safe for concurrent use.
var Default Rand = globalRand{}

// Uniform draws a value uniformly from [lo, hi].
func Uniform(r Rand, lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + r.Float64()*(hi-lo)
}

// JitterOffset returns base * (factor - 1) with factor drawn from [jitterMin, jitterMax].
// The result is negative when the drawn factor is below 1.
func JitterOffset(r Rand, base time.Duration, jitterMin, jitterMax float64) time.Duration {
	factor := Uniform(r, jitterMin, jitterMax)
	return time.Duration(float64(base) * (factor - 1.0))
}

// JitteredInterval is JitterOffset clamped at zero.
func JitteredInterval(r Rand, base time.Duration, jitterMin, jitterMax float64) time.Duration {
	return NonNegative(JitterOffset(r, base, jitterMin, jitterMax))
}

// Delay returns min(base * factor^attempt, max) for a zero-based attempt.
func Delay(attempt int, base, max time.Duration, factor float64) time.Duration {
	if attempt < 0 || base <= 0 || max <= 0 {
		return 0
	}
	if factor < 1 {
		factor = 1
	}

	raw := float64(base) * math.Pow(factor, float64(attempt))
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw >= float64(max) {
		return max
	}
	return time.Duration(raw)
}

// WithJitter applies a uniform +/-25% multiplicative perturbation, floored at zero.
func WithJitter(r Rand, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return NonNegative(time.Duration(float64(d) * Uniform(r, 0.75, 1.25)))
}

func NonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
