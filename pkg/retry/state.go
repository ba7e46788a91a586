package retry

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// Event describes a retry wait that is about to start.
type Event struct {
	// Attempt is the 1-based number of the retry being waited for
	Attempt int
	// MaxRetries is the policy limit
	MaxRetries int
	// Delay is how long the wait will last
	Delay time.Duration
}

// Observer receives retry events. OnRetryWait runs on the caller's goroutine
// before the wait starts, so any time it spends delays the retry; slow work
// must be bounded by the implementation.
type Observer interface {
	OnRetryWait(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnRetryWait(ctx context.Context, ev Event) { f(ctx, ev) }

// State tracks the retries of one logical operation. It is owned by a single
// goroutine and must not be shared between operations.
type State struct {
	policy   Policy
	attempt  int
	rnd      Rand
	clock    quartz.Clock
	observer Observer
}

// Option configures State.
type Option func(*State)

// WithRand sets the jitter source.
func WithRand(r Rand) Option {
	return func(s *State) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithClock sets the clock used for waiting.
func WithClock(c quartz.Clock) Option {
	return func(s *State) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithObserver registers an observer for retry waits.
func WithObserver(o Observer) Option {
	return func(s *State) { s.observer = o }
}

// NewState returns a state at attempt zero.
func NewState(p Policy, opts ...Option) *State {
	s := &State{
		policy: p,
		rnd:    DefaultRand(),
		clock:  quartz.NewReal(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the policy copy held by the state.
func (s *State) Policy() Policy { return s.policy }

// Attempt returns the number of completed retry waits.
func (s *State) Attempt() int { return s.attempt }

// CanRetry reports whether another retry is allowed.
func (s *State) CanRetry() bool { return s.attempt < s.policy.MaxRetries }

// CalculateBackoff returns the delay for the current attempt without changing it.
// Repeated calls draw fresh jitter.
func (s *State) CalculateBackoff() time.Duration {
	return Backoff(s.policy, s.attempt, s.rnd)
}

// WaitAndIncrement sleeps for the current backoff and then advances the attempt
// counter by one. If ctx ends first the counter is left unchanged and ctx.Err()
// is returned.
func (s *State) WaitAndIncrement(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := s.CalculateBackoff()
	if s.observer != nil {
		s.observer.OnRetryWait(ctx, Event{
			Attempt:    s.attempt + 1,
			MaxRetries: s.policy.MaxRetries,
			Delay:      delay,
		})
	}

	timer := s.clock.NewTimer(delay, "retry", "wait")
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}
	s.attempt++
	return nil
}
