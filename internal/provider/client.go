package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/ratelimit"
)

type AuthMode int

const (
	AuthNone AuthMode = iota
	// AuthBearer takes the token from the TokenSource and refreshes once on 401.
	AuthBearer
	// AuthAPIKey sends the resolved key in APIKeyHeader.
	AuthAPIKey
	// AuthAPIKeyBearer sends the resolved key as a bearer token.
	AuthAPIKeyBearer
)

type ClientConfig struct {
	Service      string
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	Auth         AuthMode
	APIKeyHeader string
	APIKeyField  string
	Policy       ratelimit.Policy
}

// Client performs provider calls with auth, caching, quota and throttling applied.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	tokens     TokenSource
	keys       KeyResolver
	quota      *ratelimit.QuotaTracker
	cache      *ratelimit.ResponseCache
	logger     *slog.Logger
	now        func() time.Time
}

type ClientOption func(*Client)

func WithTokens(tokens TokenSource) ClientOption {
	return func(c *Client) { c.tokens = tokens }
}

func WithKeys(keys KeyResolver) ClientOption {
	return func(c *Client) { c.keys = keys }
}

func WithQuota(q *ratelimit.QuotaTracker) ClientOption {
	return func(c *Client) { c.quota = q }
}

func WithResponseCache(rc *ratelimit.ResponseCache) ClientOption {
	return func(c *Client) { c.cache = rc }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg ClientConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ActivityIngest/1.0"
	}
	if cfg.APIKeyField == "" {
		cfg.APIKeyField = "api_key"
	}
	cfg.Policy.Service = cfg.Service

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger.With("provider", cfg.Service),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	Integration *domain.Integration
	// Account scopes quota and cache entries.
	Account string
	// Endpoint names the capped endpoint; quota is only enforced when set.
	Endpoint string
	CacheTTL time.Duration
	// Token overrides configured auth with a fixed bearer token.
	Token string
}

func (r Request) resource() string {
	if len(r.Query) == 0 {
		return r.Method + " " + r.Path
	}
	return r.Method + " " + r.Path + "?" + r.Query.Encode()
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Cached bool
}

func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w: %w", domain.ErrMalformedPayload, err)
	}
	return nil
}

// Do sends req. The response cache is checked before the quota. A quota slot is
// reserved before the call and handed back unless the call succeeds.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if c.cache != nil && req.CacheTTL > 0 {
		body, ok, err := c.cache.Get(ctx, req.Account, req.resource())
		if err != nil {
			c.logger.Warn("response cache read failed", "error", err)
		} else if ok {
			return &Response{Status: http.StatusOK, Body: body, Cached: true}, nil
		}
	}

	var slot *ratelimit.Reservation
	if c.quota != nil && req.Endpoint != "" {
		var err error
		if slot, err = c.quota.Reserve(ctx, req.Account, req.Endpoint); err != nil {
			return nil, err
		}
	}

	resp, err := c.call(ctx, req)
	if err != nil {
		if slot != nil {
			if rerr := slot.Release(context.WithoutCancel(ctx)); rerr != nil {
				c.logger.Warn("quota release failed", "error", rerr)
			}
		}
		return nil, err
	}

	if c.cache != nil && req.CacheTTL > 0 {
		if err := c.cache.Put(ctx, req.Account, req.resource(), resp.Body, req.CacheTTL); err != nil {
			c.logger.Warn("response cache write failed", "error", err)
		}
	}

	return resp, nil
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.send(ctx, req, false)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && c.cfg.Auth == AuthBearer && req.Token == "" {
		c.logger.Debug("access token rejected, refreshing")
		resp, err = c.send(ctx, req, true)
		if err != nil {
			return nil, err
		}
	}

	if err := c.classify(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) classify(resp *Response) error {
	if rl := c.cfg.Policy.Check(&http.Response{StatusCode: resp.Status, Header: resp.Header}, c.now()); rl != nil {
		return rl
	}

	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return nil
	case resp.Status == http.StatusUnauthorized:
		return fmt.Errorf("%s rejected credentials: %w", c.cfg.Service, domain.ErrAuthRevoked)
	case resp.Status >= 500:
		return fmt.Errorf("%s unexpected status %d: %w", c.cfg.Service, resp.Status, domain.ErrTransient)
	default:
		return fmt.Errorf("%s unexpected status %d: %s", c.cfg.Service, resp.Status, truncate(resp.Body, 256))
	}
}

func (c *Client) send(ctx context.Context, req Request, refresh bool) (*Response, error) {
	target, err := url.JoinPath(c.cfg.BaseURL, req.Path)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	} else if err := c.authorize(ctx, httpReq, req.Integration, refresh); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("execute request: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrTransient, err)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) authorize(ctx context.Context, httpReq *http.Request, integration *domain.Integration, refresh bool) error {
	switch c.cfg.Auth {
	case AuthBearer:
		if c.tokens == nil || integration == nil {
			return fmt.Errorf("%s: bearer auth without token source", c.cfg.Service)
		}
		fetch := c.tokens.Token
		if refresh {
			fetch = c.tokens.Refresh
		}
		token, err := fetch(ctx, integration)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	case AuthAPIKey, AuthAPIKeyBearer:
		if c.keys == nil || integration == nil {
			return fmt.Errorf("%s: api key auth without resolver", c.cfg.Service)
		}
		key, err := c.keys.ResolveAPIKey(integration, c.cfg.APIKeyField)
		if err != nil {
			return err
		}
		if c.cfg.Auth == AuthAPIKeyBearer {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		} else {
			httpReq.Header.Set(c.cfg.APIKeyHeader, key)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
