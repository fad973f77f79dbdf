package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is a free-form JSON document stored in a jsonb column.
type Metadata map[string]any

// Value encodes as text; lib/pq would send []byte as bytea.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan metadata: %w", err)
	}
	*m = out
	return nil
}

type Object struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Concept   string     `db:"concept" json:"concept"`
	Type      string     `db:"type" json:"type"`
	Title     string     `db:"title" json:"title"`
	Content   *string    `db:"content" json:"content,omitempty"`
	Metadata  Metadata   `db:"metadata" json:"metadata"`
	URL       *string    `db:"url" json:"url,omitempty"`
	MediaURL  *string    `db:"media_url" json:"media_url,omitempty"`
	Time      *time.Time `db:"time" json:"time,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// NaturalKey is the logical identity used for upserts.
func (o Object) NaturalKey() string {
	return o.UserID + "\x00" + o.Concept + "\x00" + o.Type + "\x00" + o.Title
}
