package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"gwi.com/venture-assistant/internal/auth"
	"gwi.com/venture-assistant/internal/chat"
)

type chatPayload struct {
	ChatType string         `json:"chatType,omitempty"`
	Messages []chat.Message `json:"messages"`
	Metadata chat.Metadata  `json:"metadata"`
}

type chatRecord struct {
	ObjectID     string         `json:"_id"`
	ID           string         `json:"id"`
	ChatType     string         `json:"chatType"`
	Title        string         `json:"title"`
	MessageCount int            `json:"messageCount"`
	Messages     []chat.Message `json:"messages"`
	Metadata     chat.Metadata  `json:"metadata"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (r chatRecord) id() string {
	if r.ObjectID != "" {
		return r.ObjectID
	}
	return r.ID
}

var _ chat.RecordStore = (*RecordClient)(nil)

// RecordClient implements chat.RecordStore against the persistence API.
// It neither retries nor caches.
type RecordClient struct {
	t     transport
	creds auth.Credentials
}

func NewRecordClient(baseURL string, hc *http.Client, creds auth.Credentials, logger *slog.Logger) *RecordClient {
	return &RecordClient{t: newTransport(baseURL, hc, logger), creds: creds}
}

func (c *RecordClient) token(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", fmt.Errorf("%w: %w", chat.ErrUnauthorized, auth.ErrNoCredentials)
	}
	tok, err := c.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", chat.ErrUnauthorized, err)
	}
	return tok, nil
}

func payload(kind chat.Kind, messages []chat.Message, metadata chat.Metadata) chatPayload {
	if messages == nil {
		messages = []chat.Message{}
	}
	if metadata == nil {
		metadata = chat.Metadata{}
	}
	return chatPayload{ChatType: string(kind), Messages: messages, Metadata: metadata}
}

func (c *RecordClient) Create(ctx context.Context, kind chat.Kind, messages []chat.Message, metadata chat.Metadata) (string, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	var rec chatRecord
	if err := c.t.do(ctx, http.MethodPost, "/api/chats", tok, payload(kind, messages, metadata), &rec); err != nil {
		return "", err
	}
	id := rec.id()
	if id == "" {
		return "", fmt.Errorf("%w: create response carries no id", chat.ErrUnavailable)
	}
	return id, nil
}

func (c *RecordClient) Update(ctx context.Context, id string, messages []chat.Message, metadata chat.Metadata) error {
	if id == "" {
		return fmt.Errorf("%w: empty chat id", chat.ErrInvalid)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.t.do(ctx, http.MethodPut, "/api/chats/"+url.PathEscape(id), tok, payload("", messages, metadata), nil)
}

func (c *RecordClient) Get(ctx context.Context, id string) (*chat.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty chat id", chat.ErrInvalid)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	var rec chatRecord
	if err := c.t.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id), tok, nil, &rec); err != nil {
		return nil, err
	}
	s := &chat.Session{
		ID:           rec.id(),
		Kind:         chat.Kind(rec.ChatType),
		Messages:     rec.Messages,
		Metadata:     rec.Metadata,
		Title:        rec.Title,
		MessageCount: rec.MessageCount,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if s.ID == "" {
		s.ID = id
	}
	if s.Messages == nil {
		s.Messages = []chat.Message{}
	}
	if s.Metadata == nil {
		s.Metadata = chat.Metadata{}
	}
	return s, nil
}

// List returns the summaries of one kind, in server order.
func (c *RecordClient) List(ctx context.Context, kind chat.Kind) ([]chat.Summary, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	var recs []chatRecord
	path := "/api/chats?chatType=" + url.QueryEscape(string(kind))
	if err := c.t.do(ctx, http.MethodGet, path, tok, nil, &recs); err != nil {
		return nil, err
	}
	out := make([]chat.Summary, 0, len(recs))
	for _, rec := range recs {
		if chat.Kind(rec.ChatType) != kind {
			continue
		}
		out = append(out, chat.Summary{
			ID:           rec.id(),
			Kind:         kind,
			Title:        rec.Title,
			MessageCount: rec.MessageCount,
			UpdatedAt:    rec.UpdatedAt,
			Messages:     rec.Messages,
			Metadata:     rec.Metadata,
		})
	}
	return out, nil
}

// Delete treats a record that is already gone as deleted.
func (c *RecordClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty chat id", chat.ErrInvalid)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	err = c.t.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(id), tok, nil, nil)
	if errors.Is(err, chat.ErrNotFound) {
		return nil
	}
	return err
}
