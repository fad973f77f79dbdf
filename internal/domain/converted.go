package domain

import "time"

// ObjectInput describes an object as a provider sees it; the store resolves it to an ID.
type ObjectInput struct {
	Concept  string     `json:"concept"`
	Type     string     `json:"type"`
	Title    string     `json:"title"`
	Content  string     `json:"content,omitempty"`
	Metadata Metadata   `json:"metadata,omitempty"`
	URL      string     `json:"url,omitempty"`
	MediaURL string     `json:"media_url,omitempty"`
	Time     *time.Time `json:"time,omitempty"`
}

type BlockInput struct {
	BlockType string   `json:"block_type,omitempty"`
	Title     string   `json:"title"`
	Content   string   `json:"content,omitempty"`
	Metadata  Metadata `json:"metadata,omitempty"`
	URL       string   `json:"url,omitempty"`
	MediaURL  string   `json:"media_url,omitempty"`
	Value     *Value   `json:"value,omitempty"`
}

type EventInput struct {
	SourceID      string       `json:"source_id"`
	Time          time.Time    `json:"time"`
	Actor         ObjectInput  `json:"actor"`
	Target        ObjectInput  `json:"target"`
	Domain        string       `json:"domain"`
	Action        string       `json:"action"`
	Value         *Value       `json:"value,omitempty"`
	EventMetadata Metadata     `json:"event_metadata,omitempty"`
	Blocks        []BlockInput `json:"blocks,omitempty"`
}

// ReconcileScopeKey tags events whose set is diffed as a whole.
const ReconcileScopeKey = "reconcile_scope"

// Reconciliation soft-deletes the events of Scope whose source id is not in Keep.
type Reconciliation struct {
	Scope string   `json:"scope"`
	Keep  []string `json:"keep"`
}

// Converted is the canonical shape a provider maps one raw record into.
type Converted struct {
	Objects   []ObjectInput    `json:"objects,omitempty"`
	Events    []EventInput     `json:"events,omitempty"`
	Reconcile []Reconciliation `json:"reconcile,omitempty"`
}

// Merge appends another conversion result.
func (c *Converted) Merge(other *Converted) {
	if other == nil {
		return
	}
	c.Objects = append(c.Objects, other.Objects...)
	c.Events = append(c.Events, other.Events...)
	c.Reconcile = append(c.Reconcile, other.Reconcile...)
}

func (c *Converted) Empty() bool {
	return c == nil || (len(c.Objects) == 0 && len(c.Events) == 0 && len(c.Reconcile) == 0)
}
