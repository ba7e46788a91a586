package retry

import (
	"math"
	randv2 "math/rand/v2"
	"time"
)

// Rand is the source of uniform values in [0, 1) used for jitter.
// *rand.Rand from math/rand and math/rand/v2 both satisfy it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return randv2.Float64() }

// DefaultRand returns the process-wide jitter source. It is safe for concurrent use.
func DefaultRand() Rand { return globalRand{} }

// Backoff returns the delay before the retry that follows the given attempt
// (0 for the first retry). The computation is
//
//	capped = min(InitialBackoff * Multiplier^attempt, MaxBackoff)
//	delay  = max(0, capped + capped*JitterFactor*(U-0.5))
//
// where U is drawn from r. With a zero JitterFactor r is not consulted.
func Backoff(p Policy, attempt int, r Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.InitialBackoff.Seconds() * math.Pow(p.Multiplier, float64(attempt))
	capped := math.Min(base, p.MaxBackoff.Seconds())

	delay := capped
	if p.JitterFactor != 0 {
		if r == nil {
			r = DefaultRand()
		}
		delay += capped * p.JitterFactor * (r.Float64() - 0.5)
	}
	if delay < 0 || math.IsNaN(delay) {
		return 0
	}
	return time.Duration(delay * float64(time.Second))
}
