package provider

import (
	"log/slog"
	"time"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/ratelimit"
)

// Deps are the shared collaborators plugins build their clients from.
type Deps struct {
	Tokens TokenSource
	Keys   KeyResolver
	Cache  cache.Backend
	Logger *slog.Logger
	Clock  func() time.Time
}

func (d Deps) Now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock()
}

// NewClient builds a client wired with the shared token source, key resolver and clock.
func (d Deps) NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	base := []ClientOption{WithTokens(d.Tokens), WithKeys(d.Keys)}
	if d.Clock != nil {
		base = append(base, WithClock(d.Clock))
	}
	return NewClient(cfg, d.Logger, append(base, opts...)...)
}

// QuotaTracker returns a daily cap tracker on the shared ledger.
func (d Deps) QuotaTracker(service string, cap int) *ratelimit.QuotaTracker {
	return ratelimit.NewQuotaTracker(d.Cache, service, cap, d.Clock)
}

func (d Deps) ResponseCache(service string) *ratelimit.ResponseCache {
	return ratelimit.NewResponseCache(d.Cache, service)
}

// StringList reads a list setting that may have come from JSON or Go code.
func StringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// IntSetting reads a numeric setting that may be float64 after JSON decoding.
func IntSetting(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}
