// Package store defines the persistence boundary the chat core consumes:
// chat/message records and session lookup. The core never talks SQL
// directly; it sees these interfaces only.
package store

import (
	"context"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

// ChatStore persists chats and their messages.
type ChatStore interface {
	CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error)

	// FindChat returns the chat only when it belongs to userID;
	// domain.ErrChatNotFound otherwise.
	FindChat(ctx context.Context, chatID, userID string) (*domain.Chat, error)

	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
	UpdateChatTitle(ctx context.Context, chatID, title string) error

	AppendMessage(ctx context.Context, chatID, role, content string, sources []domain.Source) (*domain.Message, error)

	// ListHistory returns messages oldest first. Messages sharing a
	// timestamp order user before assistant before system.
	ListHistory(ctx context.Context, chatID string) ([]domain.Message, error)
}

// SessionStore resolves a bearer session token to a user ID, or
// domain.ErrUnauthenticated.
type SessionStore interface {
	UserFromToken(ctx context.Context, token string) (string, error)
}
