package credentials

import (
	"encoding/json"
	"fmt"
	"time"

	"activity_ingest/internal/domain"
)

const StateTTL = 10 * time.Minute

// State travels through the provider's authorize redirect and back.
type State struct {
	GroupID  string    `json:"g"`
	UserID   string    `json:"u"`
	CSRF     string    `json:"c"`
	Verifier string    `json:"v"`
	IssuedAt time.Time `json:"t"`
}

func (s *Sealer) SealState(st State) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return s.Seal(data)
}

// OpenState decrypts a state blob and rejects it once it is older than StateTTL.
func (s *Sealer) OpenState(text string, now time.Time) (*State, error) {
	data, err := s.Open(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: decode state: %w", domain.ErrInvalidState, err)
	}
	if now.Sub(st.IssuedAt) > StateTTL {
		return nil, fmt.Errorf("%w: state expired", domain.ErrInvalidState)
	}
	return &st, nil
}
