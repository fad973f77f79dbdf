package domain

import "time"

type CursorKind string

const (
	// CursorWindow slides a date window backwards in time.
	CursorWindow CursorKind = "window"
	// CursorBefore pages with an opaque token that must strictly decrease.
	CursorBefore CursorKind = "before"
	// CursorRepoPage walks pages of each sub-resource in turn.
	CursorRepoPage CursorKind = "repo_page"
)

// Cursor is the paging state carried between chained backfill steps.
type Cursor struct {
	Kind        CursorKind `json:"kind"`
	WindowStart time.Time  `json:"window_start,omitzero"`
	WindowEnd   time.Time  `json:"window_end,omitzero"`
	Floor       time.Time  `json:"floor,omitzero"`
	Before      string     `json:"before,omitempty"`
	RepoIndex   int        `json:"repo_index,omitempty"`
	RepoCount   int        `json:"repo_count,omitempty"`
	Page        int        `json:"page,omitempty"`
}

// MigrationContext travels with every step of one backfill chain.
type MigrationContext struct {
	IntegrationID string    `json:"integration_id"`
	Service       string    `json:"service"`
	Cursor        Cursor    `json:"cursor"`
	TimeboxUntil  time.Time `json:"timebox_until,omitzero"`
	Step          int       `json:"step"`
}

// Expired reports whether the timebox deadline has passed. A zero deadline never expires.
func (m MigrationContext) Expired(now time.Time) bool {
	return !m.TimeboxUntil.IsZero() && now.After(m.TimeboxUntil)
}
