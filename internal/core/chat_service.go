package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gwi.com/venture-assistant/internal/chat"
	"gwi.com/venture-assistant/internal/store"
)

const (
	placeholderTitleRunes = 50
	titleTimeout          = 30 * time.Second
)

type ChatStore interface {
	GetUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error)
	CreateUser(ctx context.Context, externalUserID, passwordHash string) (*store.User, error)
	CreateChat(ctx context.Context, chat *store.Chat) error
	UpdateChat(ctx context.Context, chat *store.Chat) error
	GetChatByID(ctx context.Context, chatID string, userID int64) (*store.Chat, error)
	GetChatsByUserID(ctx context.Context, userID int64, chatType string) ([]store.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) error
	DeleteChat(ctx context.Context, chatID string, userID int64) error
}

// ChatService is the store of record behind the persistence API.
type ChatService struct {
	dbStore ChatStore
	titler  Titler // optional; titles fall back to the first user message

	titles sync.WaitGroup
}

func NewChatService(db ChatStore, titler Titler) *ChatService {
	return &ChatService{dbStore: db, titler: titler}
}

func (s *ChatService) GetUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error) {
	return s.dbStore.GetUserByExternalID(ctx, externalUserID)
}

func (s *ChatService) CreateUser(ctx context.Context, externalUserID, passwordHash string) (*store.User, error) {
	return s.dbStore.CreateUser(ctx, externalUserID, passwordHash)
}

func (s *ChatService) CreateChat(ctx context.Context, userID int64, chatType string, messages []store.ChatMessage, metadata map[string]json.RawMessage) (*store.Chat, error) {
	if _, err := chat.ParseKind(chatType); err != nil {
		return nil, err
	}
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	c := &store.Chat{
		UserID:   userID,
		ChatType: chatType,
		Title:    placeholderTitle(messages),
		Messages: messages,
		Metadata: metadata,
	}
	if err := s.dbStore.CreateChat(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create chat in DB: %w", err)
	}
	if c.Title != "" {
		s.generateTitleAsync(c.ID, userID, firstUserMessage(messages))
	}
	return c, nil
}

// UpdateChat replaces the whole log of an existing chat. The title is derived
// once, the first time a user message shows up.
func (s *ChatService) UpdateChat(ctx context.Context, userID int64, chatID string, messages []store.ChatMessage, metadata map[string]json.RawMessage) (*store.Chat, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	existing, err := s.dbStore.GetChatByID(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	c := &store.Chat{
		ID:       chatID,
		UserID:   userID,
		ChatType: existing.ChatType,
		Messages: messages,
		Metadata: metadata,
	}
	untitled := existing.Title == ""
	if untitled {
		c.Title = placeholderTitle(messages)
	}
	if err := s.dbStore.UpdateChat(ctx, c); err != nil {
		return nil, err
	}
	if c.Title == "" {
		c.Title = existing.Title
	}
	c.CreatedAt = existing.CreatedAt
	if untitled && c.Title != "" {
		s.generateTitleAsync(chatID, userID, firstUserMessage(messages))
	}
	return c, nil
}

func (s *ChatService) GetChats(ctx context.Context, userID int64, chatType string) ([]store.Chat, error) {
	if chatType != "" {
		if _, err := chat.ParseKind(chatType); err != nil {
			return nil, err
		}
	}
	return s.dbStore.GetChatsByUserID(ctx, userID, chatType)
}

func (s *ChatService) GetChatDetails(ctx context.Context, chatID string, userID int64) (*store.Chat, error) {
	return s.dbStore.GetChatByID(ctx, chatID, userID)
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	return s.dbStore.DeleteChat(ctx, chatID, userID)
}

// WaitForTitles blocks until background title generation has finished.
func (s *ChatService) WaitForTitles() {
	s.titles.Wait()
}

func (s *ChatService) generateTitleAsync(chatID string, userID int64, basis string) {
	if s.titler == nil || basis == "" {
		return
	}
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		s.generateAndSaveChatTitle(ctx, chatID, userID, basis)
	}()
}

func (s *ChatService) generateAndSaveChatTitle(ctx context.Context, chatID string, userID int64, basis string) {
	title, err := s.titler.Title(ctx, basis)
	if err != nil {
		slog.Warn("failed to generate chat title", "chat_id", chatID, "error", err)
		return
	}
	title = strings.Trim(title, "\"'\n\r\t .")
	if title == "" {
		return
	}
	if err := s.dbStore.UpdateChatTitle(ctx, chatID, userID, title); err != nil {
		slog.Warn("failed to save generated chat title", "chat_id", chatID, "title", title, "error", err)
		return
	}
	slog.Debug("saved generated chat title", "chat_id", chatID, "title", title)
}

func validateMessages(messages []store.ChatMessage) error {
	for i, m := range messages {
		if m.Role != string(chat.RoleUser) && m.Role != string(chat.RoleAI) {
			return fmt.Errorf("%w: message %d has unknown role %q", chat.ErrInvalid, i, m.Role)
		}
	}
	return nil
}

func firstUserMessage(messages []store.ChatMessage) string {
	for _, m := range messages {
		if m.Role == string(chat.RoleUser) {
			if text := strings.TrimSpace(m.Content); text != "" {
				return text
			}
		}
	}
	return ""
}

// placeholderTitle is the first user message cut to a fixed number of runes.
func placeholderTitle(messages []store.ChatMessage) string {
	text := strings.Join(strings.Fields(firstUserMessage(messages)), " ")
	if utf8.RuneCountInString(text) <= placeholderTitleRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:placeholderTitleRunes])) + "…"
}
