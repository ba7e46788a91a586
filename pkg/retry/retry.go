package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"
)

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableFunc determines if an error should trigger a retry
type IsRetryableFunc func(err error) bool

// RetriesExceededError is returned when retries are exhausted
type RetriesExceededError struct {
	LastError     error
	Attempts      int
	TotalDuration time.Duration
	Reason        string
}

func (e *RetriesExceededError) Error() string {
	return "retry: " + e.Reason + " after " + e.TotalDuration.String() + " (" +
		fmt.Sprintf("%d", e.Attempts) + " attempts): " + e.LastError.Error()
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

// DefaultRetryable returns true for temporary errors and context deadline exceeded
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry context cancellation
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Retry on deadline exceeded (timeout)
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check for net.Error with Timeout
	type netError interface {
		Timeout() bool
	}
	if ne, ok := err.(netError); ok && ne.Timeout() {
		return true
	}

	// Check for specific network errors
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Check for net.ErrClosed
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	// Check for URL errors wrapping network errors
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Check if wrapped error has Timeout
		if ne, ok := urlErr.Err.(netError); ok && ne.Timeout() {
			return true
		}

		// Check for DNS temporary errors
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) && dnsErr.IsTemporary {
			return true
		}

		// Check for other network operation errors
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			// Check for system call errors that indicate temporary conditions
			var syscallErr *os.SyscallError
			if errors.As(opErr.Err, &syscallErr) {
				// Common temporary syscall errors
				switch syscallErr.Err {
				case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
					syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
					syscall.EHOSTUNREACH, syscall.ETIMEDOUT:
					return true
				}
			}
		}
	}

	// Check for temporary interface (fallback for compatibility)
	type temporary interface {
		Temporary() bool
	}
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}

	return false
}

// Do runs fn until it succeeds, returns a non-retryable error, ctx ends, or the
// state runs out of retries. Waits between attempts go through st, so its
// observer sees every one of them.
func Do(ctx context.Context, st *State, fn RetryableFunc, isRetryable IsRetryableFunc) error {
	if isRetryable == nil {
		isRetryable = DefaultRetryable
	}
	start := st.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr := fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if !st.CanRetry() {
			return &RetriesExceededError{
				LastError:     lastErr,
				Attempts:      st.Attempt() + 1,
				TotalDuration: st.clock.Since(start),
				Reason:        "max retries exceeded",
			}
		}
		if err := st.WaitAndIncrement(ctx); err != nil {
			return err
		}
	}
}
