package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient provider error")
	ErrAuthRevoked      = errors.New("authentication revoked")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidState     = errors.New("invalid oauth state")
	ErrQuotaExhausted   = errors.New("provider quota exhausted")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrUnsupported      = errors.New("unsupported by provider")
	ErrInProgress       = errors.New("work in progress elsewhere")
	// ErrFatal marks errors that must not be retried.
	ErrFatal = errors.New("fatal")
)

// RateLimitedError reports a provider-dictated delay before the same call may be repeated.
type RateLimitedError struct {
	Service    string
	Status     int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited (status %d), retry after %s", e.Service, e.Status, e.RetryAfter)
}

// AsRateLimited unwraps a rate limit error if err carries one.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// DeferredError asks for the same job to run again after a delay without spending a retry.
type DeferredError struct {
	Err   error
	After time.Duration
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("%v, run again after %s", e.Err, e.After)
}

func (e *DeferredError) Unwrap() error { return e.Err }

func Defer(err error, after time.Duration) error {
	return &DeferredError{Err: err, After: after}
}

func AsDeferred(err error) (*DeferredError, bool) {
	var d *DeferredError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// Fatal wraps err so the job framework gives up immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports errors that retrying cannot fix.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAuthRevoked)
}
