// Package shared contains the error taxonomy used across the relay and its
// mapping to HTTP responses.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrValidation indicates that input validation failed
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates that the request lacks valid authentication
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that the upstream or another external dependency failed
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrRateLimited indicates that the upstream kept reporting rate limits after every allowed retry
	ErrRateLimited = errors.New("rate limited")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthorized
	KindInternal
	KindTimeout
	KindDependencyFailure
	KindRateLimited
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindUnauthorized:
		return "Unauthorized"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindRateLimited:
		return "RateLimited"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindValidation:        ErrValidation,
	KindUnauthorized:      ErrUnauthorized,
	KindInternal:          ErrInternal,
	KindTimeout:           ErrTimeout,
	KindDependencyFailure: ErrDependencyFailure,
	KindRateLimited:       ErrRateLimited,
}

// kindPriorities defines the deterministic order for error classification.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindRateLimited, ErrRateLimited},
	{KindValidation, ErrValidation},
	{KindUnauthorized, ErrUnauthorized},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of err using a fixed priority order:
// cancellation, timeout, rate limit, then the remaining sentinels.
// Returns KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		switch p.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, p.err) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

// sentinelOf returns the sentinel error for kind, or nil for KindUnknown and KindCanceled.
func sentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel for kind so that both KindOf(result) == kind
// and errors.Is(result, err) hold. Marking an error with a kind it already has
// returns it unchanged.
//
//	resp, err := client.Do(ctx, req)
//	if err != nil {
//	    return shared.MarkKind(err, shared.KindDependencyFailure)
//	}
func MarkKind(err error, kind Kind) error {
	sentinel := sentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRateLimited reports whether retries were exhausted on rate limits.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// StatusClientClosedRequest is the non-standard status logged when the client went away.
const StatusClientClosedRequest = 499

// HTTPStatus maps an error to the status code the relay answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindDependencyFailure:
		return http.StatusBadGateway
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorType maps an error to the Anthropic-style error type string.
func ErrorType(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "invalid_request_error"
	case KindUnauthorized:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}
