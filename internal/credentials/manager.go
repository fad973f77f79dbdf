package credentials

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"activity_ingest/internal/cache"
	"activity_ingest/internal/domain"
)

type GroupStore interface {
	Get(ctx context.Context, id string) (*domain.IntegrationGroup, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	UpdateAccountID(ctx context.Context, id, accountID string) error
}

// IdentityFunc looks up the provider-side account id for a fresh access token.
type IdentityFunc func(ctx context.Context, accessToken string) (string, error)

// App is one provider's OAuth client registration.
type App struct {
	Config   *oauth2.Config
	Identity IdentityFunc
}

const (
	refreshLease = 30 * time.Second
	refreshPoll  = 200 * time.Millisecond
)

type Manager struct {
	apps    map[string]App
	apiKeys map[string]string
	groups  GroupStore
	csrf    cache.Store
	locker  *cache.Locker
	sealer  *Sealer
	logger  *slog.Logger
	now     func() time.Time
	poll    time.Duration
}

func NewManager(
	apps map[string]App,
	apiKeys map[string]string,
	groups GroupStore,
	csrf cache.Store,
	sealer *Sealer,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		apps:    apps,
		apiKeys: apiKeys,
		groups:  groups,
		csrf:    csrf,
		locker:  cache.NewLocker(csrf),
		sealer:  sealer,
		logger:  logger.With("component", "credentials"),
		now:     time.Now,
		poll:    refreshPoll,
	}
}

func csrfKey(session, groupID string) string {
	return fmt.Sprintf("oauth:csrf:%s:%s", session, groupID)
}

func (m *Manager) app(service string) (App, error) {
	app, ok := m.apps[service]
	if !ok || app.Config == nil {
		return App{}, fmt.Errorf("%s has no oauth app: %w", service, domain.ErrUnsupported)
	}
	return app, nil
}

// GetOAuthURL starts an authorization-code flow with PKCE for group.
func (m *Manager) GetOAuthURL(ctx context.Context, session string, group *domain.IntegrationGroup) (string, error) {
	app, err := m.app(group.Service)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	if err := m.csrf.Set(ctx, csrfKey(session, group.ID), []byte(token), StateTTL); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}

	verifier := oauth2.GenerateVerifier()
	state, err := m.sealer.SealState(State{
		GroupID:  group.ID,
		UserID:   group.UserID,
		CSRF:     token,
		Verifier: verifier,
		IssuedAt: m.now(),
	})
	if err != nil {
		return "", err
	}

	return app.Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)), nil
}

// HandleOAuthCallback validates the returning state, exchanges the code and stores
// the token set on the group. The CSRF token is consumed whether or not it matches.
func (m *Manager) HandleOAuthCallback(ctx context.Context, session, groupID, code, stateBlob string) (*domain.IntegrationGroup, error) {
	st, err := m.sealer.OpenState(stateBlob, m.now())
	if err != nil {
		return nil, err
	}
	if st.GroupID != groupID {
		return nil, fmt.Errorf("%w: state issued for another group", domain.ErrInvalidState)
	}

	stored, err := m.csrf.GetDel(ctx, csrfKey(session, groupID))
	if errors.Is(err, cache.ErrMiss) {
		return nil, fmt.Errorf("%w: csrf token missing or already used", domain.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("load csrf token: %w", err)
	}
	if subtle.ConstantTimeCompare(stored, []byte(st.CSRF)) != 1 {
		return nil, fmt.Errorf("%w: csrf mismatch", domain.ErrInvalidState)
	}

	group, err := m.groups.Get(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if group.UserID != st.UserID {
		return nil, fmt.Errorf("%w: state issued for another user", domain.ErrInvalidState)
	}

	app, err := m.app(group.Service)
	if err != nil {
		return nil, err
	}

	tok, err := app.Config.Exchange(ctx, code, oauth2.VerifierOption(st.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	if err := m.groups.UpdateTokens(ctx, group.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}
	group.AccessToken = &tok.AccessToken
	if tok.RefreshToken != "" {
		group.RefreshToken = &tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		group.Expiry = &tok.Expiry
	}

	if app.Identity != nil {
		accountID, err := app.Identity(ctx, tok.AccessToken)
		if err != nil {
			m.logger.Warn("fetch account identity failed", "service", group.Service, "group_id", group.ID, "error", err)
		} else if accountID != "" {
			if err := m.groups.UpdateAccountID(ctx, group.ID, accountID); err != nil {
				return nil, fmt.Errorf("store account id: %w", err)
			}
			group.AccountID = &accountID
		}
	}

	m.logger.Info("oauth connected", "service", group.Service, "group_id", group.ID)
	return group, nil
}

// Token returns a usable access token for integration, refreshing the group's
// token set when it has expired.
func (m *Manager) Token(ctx context.Context, integration *domain.Integration) (string, error) {
	group, err := m.group(ctx, integration)
	if err != nil {
		return "", err
	}

	creds := integration.EffectiveCredentials(group)
	if creds.AccessToken == "" {
		return "", fmt.Errorf("%s integration %s has no access token: %w", integration.Service, integration.ID, domain.ErrAuthRevoked)
	}
	if !creds.Expired(m.now()) || group == nil {
		return creds.AccessToken, nil
	}
	return m.refreshOnce(ctx, integration, group.ID, creds.AccessToken)
}

// Refresh forces a refresh, used after the provider rejected a token that looked valid.
func (m *Manager) Refresh(ctx context.Context, integration *domain.Integration) (string, error) {
	group, err := m.group(ctx, integration)
	if err != nil {
		return "", err
	}
	if group == nil {
		return "", fmt.Errorf("%s integration %s has no group to refresh: %w", integration.Service, integration.ID, domain.ErrAuthRevoked)
	}
	return m.refreshOnce(ctx, integration, group.ID, integration.EffectiveCredentials(group).AccessToken)
}

// refreshOnce refreshes the group's token set under a per-group lock, so a rotating
// refresh token is spent by one caller only. Callers that waited reuse the token the
// holder stored unless it is still stale.
func (m *Manager) refreshOnce(ctx context.Context, integration *domain.Integration, groupID, stale string) (string, error) {
	for {
		release, ok, err := m.locker.Acquire(ctx, "oauth:refresh:"+groupID, refreshLease)
		if err != nil {
			return "", fmt.Errorf("take refresh lock: %w", err)
		}
		if ok {
			token, err := m.refreshLocked(ctx, integration, groupID, stale)
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				m.logger.Warn("failed to release refresh lock", "group_id", groupID, "error", rerr)
			}
			return token, err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

func (m *Manager) refreshLocked(ctx context.Context, integration *domain.Integration, groupID, stale string) (string, error) {
	group, err := m.groups.Get(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("load group %s: %w", groupID, err)
	}

	creds := integration.EffectiveCredentials(group)
	if creds.AccessToken != "" && creds.AccessToken != stale && !creds.Expired(m.now()) {
		return creds.AccessToken, nil
	}

	tok, err := m.RefreshToken(ctx, group)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// RefreshToken runs the refresh grant and persists the result. A rejected refresh
// surfaces as ErrAuthRevoked.
func (m *Manager) RefreshToken(ctx context.Context, group *domain.IntegrationGroup) (*oauth2.Token, error) {
	app, err := m.app(group.Service)
	if err != nil {
		return nil, err
	}
	if group.RefreshToken == nil || *group.RefreshToken == "" {
		return nil, fmt.Errorf("group %s has no refresh token: %w", group.ID, domain.ErrAuthRevoked)
	}

	tok, err := app.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: *group.RefreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("refresh %s token: %w: %w", group.Service, domain.ErrAuthRevoked, err)
		}
		return nil, fmt.Errorf("refresh %s token: %w: %w", group.Service, domain.ErrTransient, err)
	}

	if err := m.groups.UpdateTokens(ctx, group.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		return nil, fmt.Errorf("store refreshed tokens: %w", err)
	}
	group.AccessToken = &tok.AccessToken
	if tok.RefreshToken != "" {
		group.RefreshToken = &tok.RefreshToken
	}

	m.logger.Debug("token refreshed", "service", group.Service, "group_id", group.ID)
	return tok, nil
}

func (m *Manager) group(ctx context.Context, integration *domain.Integration) (*domain.IntegrationGroup, error) {
	if integration.GroupID == nil {
		return nil, nil
	}
	group, err := m.groups.Get(ctx, *integration.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group %s: %w", *integration.GroupID, err)
	}
	return group, nil
}

// ResolveAPIKey reads key from the instance configuration, falling back to the
// service-wide key.
func (m *Manager) ResolveAPIKey(integration *domain.Integration, key string) (string, error) {
	if v := integration.ConfigString(key); v != "" {
		return v, nil
	}
	if v := m.apiKeys[integration.Service]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s integration %s: no %s configured: %w", integration.Service, integration.ID, key, domain.ErrInvalidConfig)
}
