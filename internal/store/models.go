package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMessage is one entry of a chat's append-only log.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "ai"
	Content string `json:"content"`
}

type Chat struct {
	ID           string                     `json:"id"` // UUID
	UserID       int64                      `json:"user_id"`
	ChatType     string                     `json:"chat_type"`
	Title        string                     `json:"title"`
	Messages     []ChatMessage              `json:"messages,omitempty"`
	Metadata     map[string]json.RawMessage `json:"metadata,omitempty"`
	MessageCount int                        `json:"message_count"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

type Investor struct {
	ID            int64     `json:"-"`
	Name          string    `json:"name"`
	Sectors       []string  `json:"sectors"`
	TicketMin     float64   `json:"ticket_min"`
	TicketMax     float64   `json:"ticket_max"`
	Portfolio     []string  `json:"portfolio,omitempty"`
	Description   string    `json:"description,omitempty"`
	Website       string    `json:"website,omitempty"`
	Embedding     []float32 `json:"-"` // internal, used for matching
	EmbeddingJSON string    `json:"-"` // Store as JSON string for DB
}

// Profile is the text that gets embedded for an investor.
func (i Investor) Profile() string {
	b, _ := json.Marshal(struct {
		Name        string   `json:"name"`
		Sectors     []string `json:"sectors"`
		TicketMin   float64  `json:"ticket_min"`
		TicketMax   float64  `json:"ticket_max"`
		Portfolio   []string `json:"portfolio,omitempty"`
		Description string   `json:"description,omitempty"`
	}{i.Name, i.Sectors, i.TicketMin, i.TicketMax, i.Portfolio, i.Description})
	return string(b)
}
