package retry

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitterPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, InitialBackoff: time.Second, Multiplier: 2.0, MaxBackoff: 10 * time.Second}
}

// waitForTimer blocks until the mock clock has a pending timer and returns its delay.
func waitForTimer(t *testing.T, mClock *quartz.Mock) time.Duration {
	t.Helper()
	var d time.Duration
	require.Eventually(t, func() bool {
		var ok bool
		d, ok = mClock.Peek()
		return ok
	}, time.Second, time.Millisecond)
	return d
}

func TestStateCanRetryBoundary(t *testing.T) {
	st := NewState(noJitterPolicy(0))
	assert.False(t, st.CanRetry())

	st = NewState(noJitterPolicy(2))
	assert.True(t, st.CanRetry())
	st.attempt = 1
	assert.True(t, st.CanRetry())
	st.attempt = 2
	assert.False(t, st.CanRetry())
}

func TestStateCalculateBackoffHasNoSideEffects(t *testing.T) {
	st := NewState(noJitterPolicy(3))

	first := st.CalculateBackoff()
	second := st.CalculateBackoff()

	assert.Equal(t, time.Second, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 0, st.Attempt())
}

func TestStateWaitAndIncrementAfterTimer(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	st := NewState(noJitterPolicy(3), WithClock(mClock))

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		done := make(chan error, 1)
		go func() { done <- st.WaitAndIncrement(ctx) }()

		d := waitForTimer(t, mClock)
		assert.Equal(t, want, d)
		assert.Equal(t, i, st.Attempt(), "attempt must not advance before the wait completes")

		mClock.Advance(d).MustWait(ctx)
		require.NoError(t, <-done)
		assert.Equal(t, i+1, st.Attempt())
	}
	assert.False(t, st.CanRetry())
}

func TestStateWaitAndIncrementCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mClock := quartz.NewMock(t)
	st := NewState(noJitterPolicy(3), WithClock(mClock))

	done := make(chan error, 1)
	go func() { done <- st.WaitAndIncrement(ctx) }()

	waitForTimer(t, mClock)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, st.Attempt())

	_, pending := mClock.Peek()
	assert.False(t, pending, "timer should be stopped on cancellation")
}

func TestStateWaitAndIncrementAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called bool
	st := NewState(noJitterPolicy(3),
		WithClock(quartz.NewMock(t)),
		WithObserver(ObserverFunc(func(context.Context, Event) { called = true })),
	)

	require.ErrorIs(t, st.WaitAndIncrement(ctx), context.Canceled)
	assert.Equal(t, 0, st.Attempt())
	assert.False(t, called)
}

func TestStateObserverReceivesEvent(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	events := make(chan Event, 1)
	st := NewState(noJitterPolicy(3),
		WithClock(mClock),
		WithObserver(ObserverFunc(func(_ context.Context, ev Event) { events <- ev })),
	)

	done := make(chan error, 1)
	go func() { done <- st.WaitAndIncrement(ctx) }()

	ev := <-events
	assert.Equal(t, Event{Attempt: 1, MaxRetries: 3, Delay: time.Second}, ev)

	mClock.Advance(waitForTimer(t, mClock)).MustWait(ctx)
	require.NoError(t, <-done)
}

func TestStateUsesInjectedRand(t *testing.T) {
	p := noJitterPolicy(3)
	p.JitterFactor = 0.5
	st := NewState(p, WithRand(fixedRand(0)))

	assert.Equal(t, 750*time.Millisecond, st.CalculateBackoff())
	assert.Equal(t, p, st.Policy())
}
