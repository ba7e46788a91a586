package retry

import (
	"errors"
	"time"
)

// Policy describes how many retries are allowed and the shape of the backoff curve.
// It is a plain value and is copied into every State that uses it.
type Policy struct {
	// MaxRetries is the number of retries allowed after the first attempt
	MaxRetries int
	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration
	// Multiplier is the exponential growth factor per retry
	Multiplier float64
	// MaxBackoff caps the delay before jitter is applied
	MaxBackoff time.Duration
	// JitterFactor is the fraction of the capped delay used as jitter span, in [0, 1]
	JitterFactor float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
		JitterFactor:   0.1,
	}
}

// Validate reports the first constraint the policy violates. NaN factors are rejected.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("retry: MaxRetries cannot be negative")
	}
	if p.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be positive")
	}
	if !(p.Multiplier >= 1.0) {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if p.MaxBackoff < p.InitialBackoff {
		return errors.New("retry: MaxBackoff cannot be less than InitialBackoff")
	}
	if !(p.JitterFactor >= 0 && p.JitterFactor <= 1) {
		return errors.New("retry: JitterFactor must be between 0 and 1")
	}
	return nil
}
