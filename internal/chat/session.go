// Package chat keeps the open conversation, the session list and the
// persisted chat records consistent with each other.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindInvestors Kind = "investors"
	KindFinancial Kind = "financial"
)

const (
	investorsGreeting = "Hello! I am your AI Investment Assistant. Tell me about your startup idea."
	financialGreeting = "Hello! I'm your Financial Projection Assistant. Let's build a detailed 3-year financial model for your startup. What type of business model do you have?"

	apologyMessage = "Sorry, I'm having trouble connecting to the server."
)

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown chat kind %q", ErrInvalid, s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	return k == KindInvestors || k == KindFinancial
}

// Greeting is the scripted first message of a fresh conversation.
func (k Kind) Greeting() string {
	if k == KindFinancial {
		return financialGreeting
	}
	return investorsGreeting
}

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Well-known metadata keys written by the assistant engine.
const (
	KeyMatchedInvestors = "matchedInvestors"
	KeyNoMatchesFound   = "noMatchesFound"
	KeyProjections      = "projections"
	KeyFinancialData    = "financialData"
	KeyWarnings         = "warnings"
)

// Metadata holds kind-specific results as raw JSON so that values survive a
// round trip through the store byte for byte.
type Metadata map[string]json.RawMessage

func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns a copy of m with every key of other added or overwritten.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (m Metadata) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", key, err)
	}
	m[key] = raw
	return nil
}

// Decode unmarshals the value stored under key into dst. It reports false
// when the key is absent or null.
func (m Metadata) Decode(key string, dst any) (bool, error) {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode metadata %s: %w", key, err)
	}
	return true, nil
}

func (m Metadata) HasMatches() bool {
	var matches []json.RawMessage
	ok, err := m.Decode(KeyMatchedInvestors, &matches)
	return ok && err == nil && len(matches) > 0
}

func (m Metadata) NoMatchesFound() bool {
	var flag bool
	ok, err := m.Decode(KeyNoMatchesFound, &flag)
	return ok && err == nil && flag
}

func (m Metadata) HasProjections() bool {
	var rows []json.RawMessage
	ok, err := m.Decode(KeyProjections, &rows)
	return ok && err == nil && len(rows) > 0
}

func (m Metadata) MatchedInvestors() ([]Investor, error) {
	var out []Investor
	_, err := m.Decode(KeyMatchedInvestors, &out)
	return out, err
}

func (m Metadata) Projections() ([]Projection, error) {
	var out []Projection
	_, err := m.Decode(KeyProjections, &out)
	return out, err
}

func (m Metadata) Warnings() []string {
	var out []string
	if _, err := m.Decode(KeyWarnings, &out); err != nil {
		return nil
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type Investor struct {
	Name        string   `json:"name"`
	Sectors     []string `json:"sectors"`
	TicketMin   float64  `json:"ticket_min"`
	TicketMax   float64  `json:"ticket_max"`
	Portfolio   []string `json:"portfolio,omitempty"`
	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
}

type Projection struct {
	Month         int     `json:"month"`
	Revenue       float64 `json:"revenue"`
	TotalExpenses float64 `json:"totalExpenses"`
	Cash          float64 `json:"cash"`
	Customers     int     `json:"customers"`
}

// Session is a full chat record. An empty ID means it has never been saved.
type Session struct {
	ID           string
	Kind         Kind
	Messages     []Message
	Metadata     Metadata
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary is the list view of a session. Messages is nil unless the record
// was fetched in full.
type Summary struct {
	ID           string
	Kind         Kind
	Title        string
	MessageCount int
	UpdatedAt    time.Time
	Messages     []Message
	Metadata     Metadata
}

func (s Summary) Full() bool {
	return s.Messages != nil
}

// SummaryOf converts a full session into a summary that carries its log.
func SummaryOf(s *Session) Summary {
	return Summary{
		ID:           s.ID,
		Kind:         s.Kind,
		Title:        s.Title,
		MessageCount: s.MessageCount,
		UpdatedAt:    s.UpdatedAt,
		Messages:     s.Messages,
		Metadata:     s.Metadata,
	}
}

// Handle identifies one attempt at a conversation. Correlation changes on
// every StartNew or Load, EngineSession is the token the assistant engine
// uses to thread the conversation.
type Handle struct {
	ID            string
	Kind          Kind
	Correlation   string
	EngineSession string
}

func (h Handle) Saved() bool {
	return h.ID != ""
}

type State int

const (
	StateEmpty State = iota
	StateAwaitingReply
	StateIdle
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateIdle:
		return "idle"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reply is one assistant engine answer.
type Reply struct {
	Content  string
	Complete bool
	Metadata Metadata
}
