package domain

import (
	"time"
)

const (
	IntegrationActive = "active"
	IntegrationFailed = "failed"
)

type Integration struct {
	ID                     string     `db:"id" json:"id"`
	UserID                 string     `db:"user_id" json:"user_id"`
	GroupID                *string    `db:"integration_group_id" json:"integration_group_id,omitempty"`
	Service                string     `db:"service" json:"service"`
	Name                   string     `db:"name" json:"name"`
	InstanceType           string     `db:"instance_type" json:"instance_type"`
	Configuration          Metadata   `db:"configuration" json:"configuration"`
	AccountID              *string    `db:"account_id" json:"-"`
	AccessToken            *string    `db:"access_token" json:"-"`
	RefreshToken           *string    `db:"refresh_token" json:"-"`
	Expiry                 *time.Time `db:"expiry" json:"-"`
	Status                 string     `db:"status" json:"status"`
	UpdateFrequencyMinutes int        `db:"update_frequency_minutes" json:"update_frequency_minutes"`
	LastTriggeredAt        *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	LastSuccessfulUpdateAt *time.Time `db:"last_successful_update_at" json:"last_successful_update_at,omitempty"`
	MigrationBatchID       *string    `db:"migration_batch_id" json:"migration_batch_id,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// UpdateFrequency returns the scheduling interval, defaulting to an hour.
func (i *Integration) UpdateFrequency() time.Duration {
	if i.UpdateFrequencyMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(i.UpdateFrequencyMinutes) * time.Minute
}

// InFlight reports whether a triggered run has not completed yet. Triggers older
// than staleAfter are considered abandoned.
func (i *Integration) InFlight(now time.Time, staleAfter time.Duration) bool {
	if i.MigrationBatchID != nil {
		return true
	}
	if i.LastTriggeredAt == nil {
		return false
	}
	if i.LastSuccessfulUpdateAt != nil && !i.LastSuccessfulUpdateAt.Before(*i.LastTriggeredAt) {
		return false
	}
	return now.Sub(*i.LastTriggeredAt) < staleAfter
}

// ConfigString returns a string setting from the configuration map.
func (i *Integration) ConfigString(key string) string {
	if i.Configuration == nil {
		return ""
	}
	if v, ok := i.Configuration[key].(string); ok {
		return v
	}
	return ""
}

// DueQuery selects integrations for a scheduler sweep.
type DueQuery struct {
	Now             time.Time
	InFlightTimeout time.Duration
	Limit           int
	// Services lists the pull providers the sweep may trigger.
	Services []string
	// OAuthServices need a stored access token before they are selected.
	OAuthServices []string
}

// IntegrationGroup holds the credentials shared by every instance of a provider for one user.
type IntegrationGroup struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Service      string     `db:"service" json:"service"`
	AccountID    *string    `db:"account_id" json:"account_id,omitempty"`
	AccessToken  *string    `db:"access_token" json:"-"`
	RefreshToken *string    `db:"refresh_token" json:"-"`
	Expiry       *time.Time `db:"expiry" json:"expiry,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// HasToken reports whether the group finished an OAuth exchange.
func (g *IntegrationGroup) HasToken() bool {
	return g != nil && g.AccessToken != nil && *g.AccessToken != ""
}

// Credentials is the token set an integration should use.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	FromGroup    bool
}

// Expired reports whether the access token is past its expiry. A zero expiry never expires.
func (c Credentials) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// EffectiveCredentials resolves tokens through the group, falling back to the legacy
// per-integration columns only when there is no group.
func (i *Integration) EffectiveCredentials(group *IntegrationGroup) Credentials {
	if group != nil {
		return Credentials{
			AccessToken:  deref(group.AccessToken),
			RefreshToken: deref(group.RefreshToken),
			Expiry:       derefTime(group.Expiry),
			FromGroup:    true,
		}
	}
	return Credentials{
		AccessToken:  deref(i.AccessToken),
		RefreshToken: deref(i.RefreshToken),
		Expiry:       derefTime(i.Expiry),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
