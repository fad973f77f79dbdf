package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
	"activity_ingest/internal/ratelimit"
)

const (
	ID          = "github"
	DisplayName = "GitHub"

	defaultBaseURL  = "https://api.github.com"
	defaultOAuthURL = "https://github.com"
	perPage         = 100
	initialLookback = 7 * 24 * time.Hour
)

type Config struct {
	BaseURL  string
	OAuthURL string
}

type Plugin struct {
	client   *provider.Client
	oauthURL string
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config, deps provider.Deps) *Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = defaultOAuthURL
	}

	client := deps.NewClient(provider.ClientConfig{
		Service: ID,
		BaseURL: cfg.BaseURL,
		Auth:    provider.AuthBearer,
		Policy: ratelimit.Policy{
			Statuses:        []int{403},
			ResetHeader:     "X-RateLimit-Reset",
			RemainingHeader: "X-RateLimit-Remaining",
			Floor:           30 * time.Second,
			Default:         time.Minute,
		},
	})

	return &Plugin{
		client:   client,
		oauthURL: strings.TrimRight(cfg.OAuthURL, "/"),
		now:      deps.Now,
		logger:   deps.Logger.With("provider", ID),
	}
}

func (p *Plugin) Identifier() string              { return ID }
func (p *Plugin) DisplayName() string             { return DisplayName }
func (p *Plugin) Capability() provider.Capability { return provider.CapabilityOAuth }
func (p *Plugin) InstanceTypes() []string         { return []string{"activity"} }
func (p *Plugin) Scopes() []string                { return []string{"repo", "read:user"} }

func (p *Plugin) ConfigurationSchema() provider.Schema {
	return provider.Schema{Fields: []provider.Field{
		{Key: "repositories", Label: "Repositories (owner/name)", Type: provider.FieldArray, Required: true, Min: provider.Bound(1)},
	}}
}

func (p *Plugin) OAuthEndpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  p.oauthURL + "/login/oauth/authorize",
		TokenURL: p.oauthURL + "/login/oauth/access_token",
	}
}

func (p *Plugin) FetchAccountIdentity(ctx context.Context, accessToken string) (string, error) {
	resp, err := p.client.Do(ctx, provider.Request{Path: "/user", Token: accessToken})
	if err != nil {
		return "", fmt.Errorf("fetch github user: %w", err)
	}
	var user User
	if err := resp.Decode(&user); err != nil {
		return "", err
	}
	return user.Login, nil
}

func repositories(integration *domain.Integration) []string {
	return provider.StringList(integration.Configuration["repositories"])
}

// FetchData pulls commits made since the last successful run from every configured repository.
func (p *Plugin) FetchData(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	since := p.now().Add(-initialLookback)
	if integration.LastSuccessfulUpdateAt != nil {
		since = *integration.LastSuccessfulUpdateAt
	}

	var items []json.RawMessage
	for _, repo := range repositories(integration) {
		fetched := 0
		for page := 1; ; page++ {
			q := url.Values{}
			q.Set("per_page", strconv.Itoa(perPage))
			q.Set("page", strconv.Itoa(page))
			q.Set("since", since.UTC().Format(time.RFC3339))

			commits, err := p.commits(ctx, integration, repo, q)
			if err != nil {
				return nil, err
			}
			items = append(items, commits...)
			fetched += len(commits)
			if len(commits) < perPage {
				break
			}
		}

		p.logger.Debug("fetched commits", "repository", repo, "count", fetched)
	}
	return items, nil
}

func (p *Plugin) InitialCursor(integration *domain.Integration, _ time.Time) domain.Cursor {
	return domain.Cursor{
		Kind:      domain.CursorRepoPage,
		RepoCount: len(repositories(integration)),
		Page:      1,
	}
}

func (p *Plugin) FetchPage(ctx context.Context, integration *domain.Integration, cursor domain.Cursor) (*provider.Page, error) {
	repos := repositories(integration)
	if cursor.RepoIndex >= len(repos) {
		return &provider.Page{}, nil
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(cursor.Page))

	items, err := p.commits(ctx, integration, repos[cursor.RepoIndex], q)
	if err != nil {
		return nil, err
	}

	page := &provider.Page{Items: items}
	if len(items) == perPage {
		next := cursor
		next.Page++
		page.Next = &next
	}
	return page, nil
}

func (p *Plugin) commits(ctx context.Context, integration *domain.Integration, repo string, q url.Values) ([]json.RawMessage, error) {
	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/repos/" + repo + "/commits",
		Query:       q,
		Integration: integration,
	})
	if err != nil {
		return nil, fmt.Errorf("list commits for %s: %w", repo, err)
	}

	var commits []json.RawMessage
	if err := resp.Decode(&commits); err != nil {
		return nil, err
	}

	items := make([]json.RawMessage, 0, len(commits))
	for _, c := range commits {
		raw, err := json.Marshal(struct {
			Repository string          `json:"repository"`
			Commit     json.RawMessage `json:"commit"`
		}{repo, c})
		if err != nil {
			return nil, fmt.Errorf("wrap commit: %w", err)
		}
		items = append(items, raw)
	}
	return items, nil
}

func (p *Plugin) ConvertData(_ context.Context, _ *domain.Integration, raw json.RawMessage) (*domain.Converted, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	if it.Commit.SHA == "" || it.Repository == "" {
		return nil, fmt.Errorf("%w: commit without sha or repository", domain.ErrMalformedPayload)
	}

	at, err := time.Parse(time.RFC3339, it.Commit.Commit.Author.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s date: %w", domain.ErrMalformedPayload, it.Commit.SHA, err)
	}

	actor := domain.ObjectInput{
		Concept: "user",
		Type:    "github_user",
		Title:   it.Commit.Commit.Author.Name,
	}
	if it.Commit.Author != nil && it.Commit.Author.Login != "" {
		actor.Title = it.Commit.Author.Login
		actor.URL = it.Commit.Author.HTMLURL
		actor.MediaURL = it.Commit.Author.AvatarURL
	}

	message := it.Commit.Commit.Message
	summary, _, _ := strings.Cut(message, "\n")

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID: it.Commit.SHA,
		Time:     at,
		Actor:    actor,
		Target: domain.ObjectInput{
			Concept: "repository",
			Type:    "github_repo",
			Title:   it.Repository,
			URL:     "https://github.com/" + it.Repository,
		},
		Domain: "online",
		Action: "committed",
		EventMetadata: domain.Metadata{
			"summary": summary,
			"message": message,
			"url":     it.Commit.HTMLURL,
		},
	}}}, nil
}
