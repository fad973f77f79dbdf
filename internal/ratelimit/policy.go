package ratelimit

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"activity_ingest/internal/domain"
)

// Policy interprets a provider's throttling responses.
type Policy struct {
	Service string
	// Statuses besides 429 that mean "slow down", e.g. 403 for some APIs.
	Statuses []int
	// ResetHeader names a header carrying the epoch second the limit resets.
	ResetHeader string
	// RemainingHeader names a header carrying the calls left in the window. When set,
	// a listed status only counts as a limit once it reads 0 or Retry-After is present.
	RemainingHeader string
	// Floor is the minimum delay before the call may be repeated.
	Floor time.Duration
	// Default applies when the response carries no usable hint.
	Default time.Duration
}

func (p Policy) limited(status int) bool {
	return status == http.StatusTooManyRequests || slices.Contains(p.Statuses, status)
}

// Check returns a rate limit error when resp says the caller is throttled.
func (p Policy) Check(resp *http.Response, now time.Time) *domain.RateLimitedError {
	if resp == nil || !p.limited(resp.StatusCode) {
		return nil
	}

	// 403 without any throttling hint is a permission problem, not a limit.
	if resp.StatusCode != http.StatusTooManyRequests && !p.throttled(resp.Header) {
		return nil
	}

	delay, _ := p.delay(resp.Header, now)

	if delay <= 0 {
		delay = p.Default
	}
	if delay < p.Floor {
		delay = p.Floor
	}

	return &domain.RateLimitedError{
		Service:    p.Service,
		Status:     resp.StatusCode,
		RetryAfter: delay,
	}
}

func (p Policy) throttled(h http.Header) bool {
	if h.Get("Retry-After") != "" {
		return true
	}
	if p.RemainingHeader != "" {
		return strings.TrimSpace(h.Get(p.RemainingHeader)) == "0"
	}
	return p.ResetHeader != "" && h.Get(p.ResetHeader) != ""
}

func (p Policy) delay(h http.Header, now time.Time) (time.Duration, bool) {
	if v := h.Get("Retry-After"); v != "" {
		return ParseRetryAfter(v, now), true
	}
	if p.ResetHeader != "" {
		if v := h.Get(p.ResetHeader); v != "" {
			return ParseReset(v, now), true
		}
	}
	return 0, false
}

// ParseRetryAfter accepts delta seconds or an HTTP date.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := ts.Sub(now); delta > 0 {
			return delta
		}
	}
	return 0
}

// ParseReset converts an epoch-seconds reset header into a delay from now.
func ParseReset(header string, now time.Time) time.Duration {
	epoch, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil || epoch <= 0 {
		return 0
	}
	if delta := time.Unix(epoch, 0).Sub(now); delta > 0 {
		return delta
	}
	return 0
}
