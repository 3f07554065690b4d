package store

import (
	"context"
	"errors"
	"testing"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

func TestChatOwnership(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	chat, err := s.CreateChat(ctx, "alice", "Consulta legal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := s.FindChat(ctx, chat.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.Title != "Consulta legal" {
		t.Fatalf("title = %q", found.Title)
	}

	// Another user must not see the chat.
	if _, err := s.FindChat(ctx, chat.ID, "bob"); !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if _, err := s.FindChat(ctx, "missing", "alice"); !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	chat, _ := s.CreateChat(ctx, "alice", "t")
	if _, err := s.AppendMessage(ctx, chat.ID, domain.RoleUser, "hola", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.DeleteChat(ctx, chat.ID, "bob"); !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound for foreign delete, got %v", err)
	}
	if err := s.DeleteChat(ctx, chat.ID, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.FindChat(ctx, chat.ID, "alice"); !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatal("chat should be gone")
	}

	messages, _ := s.ListHistory(ctx, chat.ID)
	if len(messages) != 0 {
		t.Fatalf("messages should be gone, got %d", len(messages))
	}
}

func TestAppendMessageUnknownChat(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.AppendMessage(context.Background(), "missing", domain.RoleUser, "hola", nil)
	if !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestListHistoryOrder(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	chat, _ := s.CreateChat(ctx, "alice", "t")
	s.AppendMessage(ctx, chat.ID, domain.RoleUser, "pregunta 1", nil)
	s.AppendMessage(ctx, chat.ID, domain.RoleAssistant, "respuesta 1", nil)
	s.AppendMessage(ctx, chat.ID, domain.RoleUser, "pregunta 2", nil)

	messages, err := s.ListHistory(ctx, chat.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	want := []string{"pregunta 1", "respuesta 1", "pregunta 2"}
	for i, w := range want {
		if messages[i].Content != w {
			t.Fatalf("message %d = %q, want %q", i, messages[i].Content, w)
		}
	}
}

func TestListHistoryTieBreakByRole(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	chat, _ := s.CreateChat(ctx, "alice", "t")

	// Appended fast enough that timestamps may collide; order must still
	// put the user's prompt before the assistant's answer.
	assistant, _ := s.AppendMessage(ctx, chat.ID, domain.RoleAssistant, "respuesta", nil)
	user, _ := s.AppendMessage(ctx, chat.ID, domain.RoleUser, "pregunta", nil)

	// Force identical timestamps to exercise the tie-break.
	s.mu.Lock()
	ts := s.messages[chat.ID][0].msg.CreatedAt
	for i := range s.messages[chat.ID] {
		s.messages[chat.ID][i].msg.CreatedAt = ts
	}
	s.mu.Unlock()

	messages, err := s.ListHistory(ctx, chat.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if messages[0].ID != user.ID || messages[1].ID != assistant.ID {
		t.Fatalf("expected user before assistant on equal timestamps, got %q then %q",
			messages[0].Role, messages[1].Role)
	}
}

func TestUpdateChatTitle(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	chat, _ := s.CreateChat(ctx, "alice", "")
	if err := s.UpdateChatTitle(ctx, chat.ID, "Nueva consulta"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, _ := s.FindChat(ctx, chat.ID, "alice")
	if found.Title != "Nueva consulta" {
		t.Fatalf("title = %q", found.Title)
	}

	if err := s.UpdateChatTitle(ctx, "missing", "x"); !errors.Is(err, domain.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestAppendMessageWithSources(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	chat, _ := s.CreateChat(ctx, "alice", "t")
	sources := []domain.Source{{Title: "BOE", URL: "https://example.org/boe"}}
	if _, err := s.AppendMessage(ctx, chat.ID, domain.RoleAssistant, "respuesta", sources); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages, _ := s.ListHistory(ctx, chat.ID)
	if len(messages[0].Sources) != 1 || messages[0].Sources[0].Title != "BOE" {
		t.Fatalf("sources = %+v", messages[0].Sources)
	}
}

func TestSessionStore(t *testing.T) {
	s := NewInMemorySessionStore()
	ctx := context.Background()

	s.AddSession("tok-1", "alice")

	userID, err := s.UserFromToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("userID = %q", userID)
	}

	if _, err := s.UserFromToken(ctx, "unknown"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
