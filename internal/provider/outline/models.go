package outline

import "encoding/json"

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	UpdatedAt string `json:"updatedAt"`
	CreatedAt string `json:"createdAt"`
	UpdatedBy *User  `json:"updatedBy"`
	CreatedBy *User  `json:"createdBy"`
}

type delivery struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt string `json:"createdAt"`
	Payload   struct {
		ID    string          `json:"id"`
		Model json.RawMessage `json:"model"`
	} `json:"payload"`
}

// change is the unit a delivery is split into: one document and what happened to it.
type change struct {
	Event      string          `json:"event"`
	DeliveryID string          `json:"delivery_id"`
	Document   json.RawMessage `json:"document"`
}
