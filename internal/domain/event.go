package domain

import "time"

type Event struct {
	ID              string     `db:"id" json:"id"`
	SourceID        string     `db:"source_id" json:"source_id"`
	Time            time.Time  `db:"time" json:"time"`
	IntegrationID   string     `db:"integration_id" json:"integration_id"`
	ActorID         string     `db:"actor_id" json:"actor_id"`
	TargetID        string     `db:"target_id" json:"target_id"`
	Service         string     `db:"service" json:"service"`
	Domain          string     `db:"domain" json:"domain"`
	Action          string     `db:"action" json:"action"`
	Value           *int64     `db:"value" json:"value,omitempty"`
	ValueMultiplier *int64     `db:"value_multiplier" json:"value_multiplier,omitempty"`
	ValueUnit       *string    `db:"value_unit" json:"value_unit,omitempty"`
	EventMetadata   Metadata   `db:"event_metadata" json:"event_metadata"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	Blocks []Block `db:"-" json:"blocks,omitempty"`
}

// SetValue copies an encoded value onto the event columns.
func (e *Event) SetValue(v *Value) {
	if v == nil {
		e.Value, e.ValueMultiplier, e.ValueUnit = nil, nil, nil
		return
	}
	val, mul, unit := v.Value, v.Multiplier, v.Unit
	e.Value, e.ValueMultiplier, e.ValueUnit = &val, &mul, &unit
}

type Block struct {
	ID              string     `db:"id" json:"id"`
	EventID         string     `db:"event_id" json:"event_id"`
	Time            time.Time  `db:"time" json:"time"`
	BlockType       string     `db:"block_type" json:"block_type"`
	Title           string     `db:"title" json:"title"`
	Content         *string    `db:"content" json:"content,omitempty"`
	Metadata        Metadata   `db:"metadata" json:"metadata"`
	URL             *string    `db:"url" json:"url,omitempty"`
	MediaURL        *string    `db:"media_url" json:"media_url,omitempty"`
	Value           *int64     `db:"value" json:"value,omitempty"`
	ValueMultiplier *int64     `db:"value_multiplier" json:"value_multiplier,omitempty"`
	ValueUnit       *string    `db:"value_unit" json:"value_unit,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

func (b *Block) SetValue(v *Value) {
	if v == nil {
		b.Value, b.ValueMultiplier, b.ValueUnit = nil, nil, nil
		return
	}
	val, mul, unit := v.Value, v.Multiplier, v.Unit
	b.Value, b.ValueMultiplier, b.ValueUnit = &val, &mul, &unit
}

// EventFilter narrows event listings. Zero values are ignored.
type EventFilter struct {
	IntegrationID string
	Service       string
	Domain        string
	Action        string
	From          *time.Time
	To            *time.Time
	PerPage       int
	Page          int
}

// WriteOutcome reports what an upsert did to the row.
type WriteOutcome string

const (
	Inserted WriteOutcome = "inserted"
	Updated  WriteOutcome = "updated"
	// Suppressed means the row exists but was soft-deleted and is left untouched.
	Suppressed WriteOutcome = "suppressed"
)

// ChangeAction names what happened to an event, for change notifications.
type ChangeAction string

const (
	ChangeCreate ChangeAction = "create"
	ChangeUpdate ChangeAction = "update"
	ChangeDelete ChangeAction = "delete"
)

// ChangeFor maps a write outcome to the notification it produces.
func ChangeFor(outcome WriteOutcome) (ChangeAction, bool) {
	switch outcome {
	case Inserted:
		return ChangeCreate, true
	case Updated:
		return ChangeUpdate, true
	}
	return "", false
}
