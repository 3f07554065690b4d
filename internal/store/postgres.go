package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

// PostgresStore persists chats and messages in Postgres. Citations are
// stored as a JSONB array of {title, url} alongside the assistant message.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error) {
	chat := &domain.Chat{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  title,
	}

	query := `
		INSERT INTO chats (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, chat.ID, chat.UserID, chat.Title).
		Scan(&chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	return chat, nil
}

func (s *PostgresStore) FindChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chats
		WHERE id = $1 AND user_id = $2
	`

	var chat domain.Chat
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(
		&chat.ID,
		&chat.UserID,
		&chat.Title,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}

	return &chat, nil
}

func (s *PostgresStore) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chats
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var chat domain.Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *PostgresStore) DeleteChat(ctx context.Context, chatID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = $2, updated_at = now() WHERE id = $1`, chatID, title)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, chatID, role, content string, sources []domain.Source) (*domain.Message, error) {
	msg := &domain.Message{
		ID:      uuid.New().String(),
		ChatID:  chatID,
		Role:    role,
		Content: content,
		Sources: sources,
	}

	var sourcesJSON any
	if sources != nil {
		data, err := json.Marshal(sources)
		if err != nil {
			return nil, fmt.Errorf("marshal sources: %w", err)
		}
		sourcesJSON = data
	}

	query := `
		INSERT INTO messages (id, chat_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query, msg.ID, msg.ChatID, msg.Role, msg.Content, sourcesJSON).
		Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, chatID string) ([]domain.Message, error) {
	// Equal timestamps order user before assistant before system so a
	// turn's prompt always precedes its answer.
	query := `
		SELECT id, chat_id, role, content, sources, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at,
			CASE role WHEN 'user' THEN 0 WHEN 'assistant' THEN 1 ELSE 2 END
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var sourcesJSON []byte
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &sourcesJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &msg.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// PostgresSessionStore resolves session tokens against the auth service's
// sessions table.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (s *PostgresSessionStore) UserFromToken(ctx context.Context, token string) (string, error) {
	query := `
		SELECT user_id FROM sessions
		WHERE token = $1 AND expires_at > now()
	`

	var userID string
	err := s.db.QueryRowContext(ctx, query, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", domain.ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("query session: %w", err)
	}
	return userID, nil
}

// DB exposes the underlying handle so the session store can share it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}
