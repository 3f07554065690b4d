package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

// InMemoryStore keeps chats and messages in process memory. Used when no
// DATABASE_URL is configured and throughout the test suite.
type InMemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*domain.Chat
	messages map[string][]storedMessage
	seq      int
}

type storedMessage struct {
	msg domain.Message
	seq int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chats:    make(map[string]*domain.Chat),
		messages: make(map[string][]storedMessage),
	}
}

func (s *InMemoryStore) CreateChat(ctx context.Context, userID, title string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	chat := &domain.Chat{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[chat.ID] = chat

	out := *chat
	return &out, nil
}

func (s *InMemoryStore) FindChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return nil, domain.ErrChatNotFound
	}

	out := *chat
	return &out, nil
}

func (s *InMemoryStore) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			out = append(out, *chat)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) DeleteChat(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return domain.ErrChatNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *InMemoryStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return domain.ErrChatNotFound
	}
	chat.Title = title
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, chatID, role, content string, sources []domain.Source) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, domain.ErrChatNotFound
	}

	s.seq++
	msg := domain.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Sources:   sources,
		CreatedAt: time.Now(),
	}
	s.messages[chatID] = append(s.messages[chatID], storedMessage{msg: msg, seq: s.seq})

	out := msg
	return &out, nil
}

func (s *InMemoryStore) ListHistory(ctx context.Context, chatID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[chatID]
	sorted := make([]storedMessage, len(stored))
	copy(sorted, stored)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		if ra, rb := roleRank(a.msg.Role), roleRank(b.msg.Role); ra != rb {
			return ra < rb
		}
		return a.seq < b.seq
	})

	out := make([]domain.Message, len(sorted))
	for i, m := range sorted {
		out[i] = m.msg
	}
	return out, nil
}

func roleRank(role string) int {
	switch role {
	case domain.RoleUser:
		return 0
	case domain.RoleAssistant:
		return 1
	default:
		return 2
	}
}

// InMemorySessionStore maps bearer tokens to user IDs. The real deployment
// fronts an external auth service; this stands in for dev and tests.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]string)}
}

func (s *InMemorySessionStore) AddSession(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = userID
}

func (s *InMemorySessionStore) UserFromToken(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.sessions[token]
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	return userID, nil
}
