package conversations

import (
	"time"

	"github.com/kiara-intelligence/kiara/memory"
)

// DefaultChatTitle is the title given to chats created implicitly.
const DefaultChatTitle = "New Chat"

// Chat is a conversation thread owned by one user.
type Chat struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Message is one persisted turn of a chat.
type Message struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chat_id"`
	UserID      string      `json:"user_id"`
	Role        memory.Role `json:"role"`
	Content     string      `json:"content"`
	ImageURL    string      `json:"image_url,omitempty"`
	IsStreaming bool        `json:"is_streaming"`
	IsError     bool        `json:"is_error"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NoteKind is the list a chat note belongs to.
type NoteKind string

const (
	NoteFacts       NoteKind = "facts"
	NotePreferences NoteKind = "preferences"
	NoteContext     NoteKind = "context"
)
