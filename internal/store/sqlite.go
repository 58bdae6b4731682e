package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        chat_type TEXT NOT NULL CHECK (chat_type IN ('investors', 'financial')),
        title TEXT NOT NULL DEFAULT '',
        messages_json TEXT NOT NULL DEFAULT '[]',
        metadata_json TEXT NOT NULL DEFAULT '{}',
        message_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats (user_id, updated_at DESC);

    CREATE TABLE IF NOT EXISTS investors (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        profile_json TEXT NOT NULL,
        embedding_json TEXT -- Storing as JSON string of []float32
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", externalUserID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (external_user_id, password_hash, created_at) VALUES (?, ?, ?)", externalUserID, passwordHash, s.now())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("user %s: %w", externalUserID, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(ctx, id)
}

func (s *SQLiteStore) getUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	messagesJSON, metadataJSON, err := encodeLog(chat)
	if err != nil {
		return err
	}
	now := s.now()
	chat.ID = uuid.NewString()
	chat.MessageCount = len(chat.Messages)
	chat.CreatedAt = now
	chat.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, chat_type, title, messages_json, metadata_json, message_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.ChatType, chat.Title, messagesJSON, metadataJSON, chat.MessageCount, now, now)
	if err != nil {
		return fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return nil
}

// UpdateChat replaces the message log and metadata of a chat owned by
// chat.UserID. The title is only written when non-empty.
func (s *SQLiteStore) UpdateChat(ctx context.Context, chat *Chat) error {
	messagesJSON, metadataJSON, err := encodeLog(chat)
	if err != nil {
		return err
	}
	chat.MessageCount = len(chat.Messages)
	chat.UpdatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE chats
         SET messages_json = ?, metadata_json = ?, message_count = ?, updated_at = ?,
             title = CASE WHEN ? = '' THEN title ELSE ? END
         WHERE id = ? AND user_id = ?`,
		messagesJSON, metadataJSON, chat.MessageCount, chat.UpdatedAt, chat.Title, chat.Title, chat.ID, chat.UserID)
	if err != nil {
		return fmt.Errorf("failed to execute chat update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("chat %s: %w", chat.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetChatByID(ctx context.Context, chatID string, userID int64) (*Chat, error) {
	var chat Chat
	var messagesJSON, metadataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, chat_type, title, messages_json, metadata_json, message_count, created_at, updated_at
         FROM chats WHERE id = ? AND user_id = ?`, chatID, userID).
		Scan(&chat.ID, &chat.UserID, &chat.ChatType, &chat.Title, &messagesJSON, &metadataJSON, &chat.MessageCount, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &chat.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of chat %s: %w", chatID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &chat.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of chat %s: %w", chatID, err)
	}
	if chat.Messages == nil {
		chat.Messages = []ChatMessage{}
	}
	return &chat, nil
}

// GetChatsByUserID lists summaries, most recently updated first. Messages and
// metadata are left empty. An empty chatType lists every kind.
func (s *SQLiteStore) GetChatsByUserID(ctx context.Context, userID int64, chatType string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_type, title, message_count, created_at, updated_at
         FROM chats WHERE user_id = ? AND (? = '' OR chat_type = ?)
         ORDER BY updated_at DESC`, userID, chatType, chatType)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.ChatType, &chat.Title, &chat.MessageCount, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET title = ? WHERE id = ? AND user_id = ?", title, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute chat title update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

func encodeLog(chat *Chat) (string, string, error) {
	if chat.Messages == nil {
		chat.Messages = []ChatMessage{}
	}
	if chat.Metadata == nil {
		chat.Metadata = map[string]json.RawMessage{}
	}
	messagesJSON, err := json.Marshal(chat.Messages)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal messages: %w", err)
	}
	metadataJSON, err := json.Marshal(chat.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(messagesJSON), string(metadataJSON), nil
}

// Investor methods (for matching)
func (s *SQLiteStore) createInvestor(ctx context.Context, inv *Investor) error {
	embeddingBytes, err := json.Marshal(inv.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	inv.EmbeddingJSON = string(embeddingBytes)
	profileBytes, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to marshal investor: %w", err)
	}

	res, err := s.db.ExecContext(ctx, "INSERT INTO investors (name, profile_json, embedding_json) VALUES (?, ?, ?)", inv.Name, string(profileBytes), inv.EmbeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to execute investor insert: %w", err)
	}
	inv.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetAllInvestors(ctx context.Context) ([]Investor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, profile_json, embedding_json FROM investors ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query investors: %w", err)
	}
	defer rows.Close()

	var investors []Investor
	for rows.Next() {
		var inv Investor
		var id int64
		var profileJSON string
		var embeddingJSON sql.NullString
		if err := rows.Scan(&id, &profileJSON, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan investor row: %w", err)
		}
		if err := json.Unmarshal([]byte(profileJSON), &inv); err != nil {
			slog.Warn("skipping investor with unreadable profile", "investor_id", id, "error", err)
			continue
		}
		inv.ID = id
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &inv.Embedding); err != nil {
				slog.Warn("failed to unmarshal investor embedding", "investor_id", id, "error", err)
				inv.Embedding = nil
			}
		}
		investors = append(investors, inv)
	}
	return investors, rows.Err()
}

func (s *SQLiteStore) ClearInvestors(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM investors"); err != nil {
		return fmt.Errorf("failed to delete investors: %w", err)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name='investors'")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		slog.Warn("could not reset sequence for investors", "error", err)
	}
	return nil
}

// Embedder turns text into a vector. A nil Embedder stores investors without
// embeddings; matching then falls back to keyword overlap.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// IngestInvestorsFromFile reads a JSON array of investors, embeds each
// profile and replaces the stored investors with them.
func (s *SQLiteStore) IngestInvestorsFromFile(ctx context.Context, filePath string, embed Embedder, pace time.Duration) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read investors file %s: %w", filePath, err)
	}
	var investors []Investor
	if err := json.Unmarshal(contentBytes, &investors); err != nil {
		return 0, fmt.Errorf("failed to parse investors file %s: %w", filePath, err)
	}
	if len(investors) == 0 {
		slog.Warn("no investors found in file", "path", filePath)
		return 0, nil
	}

	if err := s.ClearInvestors(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear existing investors: %w", err)
	}

	var tick <-chan time.Time
	if pace > 0 && embed != nil {
		ticker := time.NewTicker(pace) // delay to not hit the embedding rate limit
		defer ticker.Stop()
		tick = ticker.C
	}

	count := 0
	for i := range investors {
		inv := &investors[i]
		if strings.TrimSpace(inv.Name) == "" {
			slog.Warn("skipping investor without a name", "index", i)
			continue
		}
		if embed != nil {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return count, ctx.Err()
				}
			}
			embedding, err := embed(ctx, inv.Profile())
			if err != nil {
				slog.Warn("failed to embed investor, storing without embedding", "name", inv.Name, "error", err)
			} else {
				inv.Embedding = embedding
			}
		}
		if err := s.createInvestor(ctx, inv); err != nil {
			slog.Warn("failed to store investor", "name", inv.Name, "error", err)
			continue
		}
		count++
	}
	slog.Info("ingested investors", "count", count, "total", len(investors))
	return count, nil
}
