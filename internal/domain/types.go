package domain

import "time"

// Mode is a (language, domain) pair a backend claims to serve. Empty or
// "any" fields act as wildcards during capability matching; the original
// casing is preserved for display and predict calls.
type Mode struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
}

// Capability is a display-ready entry from the discovery service's
// capability map. Language and Domain are empty when wildcarded.
type Capability struct {
	Language string `json:"language,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Label    string `json:"label"`
	Endpoint string `json:"-"`
}

// Citation is one retrieved passage attached to a backend response. The
// core treats it as opaque beyond Title and URL, which are the only fields
// persisted with the assistant message.
type Citation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Passage   string         `json:"passage"`
	Timestamp string         `json:"timestamp,omitempty"`
	URL       string         `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Chunk is one decoded event from a backend predict stream. On the wire
// Response carries the cumulative text; the capability client converts it
// to a suffix delta before the chunk leaves internal/rag.
type Chunk struct {
	Response string     `json:"response"`
	Contexts []Citation `json:"contexts"`
}

// StatusCode classifies a status stream event.
type StatusCode string

const (
	StatusRetrying StatusCode = "STATUS_RETRYING"
	StatusSuccess  StatusCode = "STATUS_SUCCESS"
	StatusError    StatusCode = "STATUS_ERROR"
)

// StreamEvent is the discriminated union relayed to a chat-turn caller:
// either a status event (Code set) or a content event (Delta/Contexts set).
type StreamEvent struct {
	Type     string     `json:"type"`
	Code     StatusCode `json:"code,omitempty"`
	Attempt  int        `json:"attempt,omitempty"`
	Message  string     `json:"message,omitempty"`
	Delta    string     `json:"response,omitempty"`
	Contexts []Citation `json:"contexts,omitempty"`
}

const (
	EventStatus  = "status"
	EventContent = "content"
)

func StatusEvent(code StatusCode, attempt int, message string) StreamEvent {
	return StreamEvent{Type: EventStatus, Code: code, Attempt: attempt, Message: message}
}

func ContentEvent(delta string, contexts []Citation) StreamEvent {
	return StreamEvent{Type: EventContent, Delta: delta, Contexts: contexts}
}

// Message roles as stored and as sent in predict history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is the persisted projection of a Citation.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one prior turn sent to a backend with a predict call.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
