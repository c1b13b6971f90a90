package memory

import "time"

// MemoryType describes the kind of memory item.
type MemoryType string

const (
	MemoryTypeFact        MemoryType = "fact"
	MemoryTypePreference  MemoryType = "preference"
	MemoryTypeContext     MemoryType = "context"
	MemoryTypePersonality MemoryType = "personality"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source values recorded on memories.
const (
	SourceUser   = "user"
	SourceSystem = "system"
)

// CategorySystem marks bookkeeping memories that are never surfaced to prompts.
const CategorySystem = "system"

// MemoryItem is a single structured statement about a user.
type MemoryItem struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ChatID     *string        `json:"chat_id,omitempty"` // nil for global memories
	Content    string         `json:"content"`
	Type       MemoryType     `json:"type"`
	Category   string         `json:"category,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"`
	IsActive   bool           `json:"is_active"`
	Context    map[string]any `json:"memory_context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Timestamp is the last time the memory was written.
func (m MemoryItem) Timestamp() time.Time { return m.UpdatedAt }

// IsGlobal reports whether the memory is shared across all chats of the user.
func (m MemoryItem) IsGlobal() bool { return m.ChatID == nil }

// ShortTermEntry is a time-bounded scratch entry.
type ShortTermEntry struct {
	Content any       `json:"content"`
	Expiry  time.Time `json:"expiry"`
}

// GlobalEntry is one slot of a user's global memory.
type GlobalEntry struct {
	MemoryID   string     `json:"memory_id"`
	Content    string     `json:"content"`
	Type       MemoryType `json:"type"`
	Category   string     `json:"category,omitempty"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
}

// GlobalMemory is the deduplicated, category-bucketed view of a user's
// active memories. Keys are normalized content, except the reserved
// "name" slot in Facts.
type GlobalMemory struct {
	Facts       map[string]GlobalEntry `json:"facts"`
	Preferences map[string]GlobalEntry `json:"preferences"`
	Context     map[string]GlobalEntry `json:"context"`
}

func newGlobalMemory() GlobalMemory {
	return GlobalMemory{
		Facts:       make(map[string]GlobalEntry),
		Preferences: make(map[string]GlobalEntry),
		Context:     make(map[string]GlobalEntry),
	}
}

// bucket returns the bucket a memory type is filed under.
func (g GlobalMemory) bucket(t MemoryType) map[string]GlobalEntry {
	switch t {
	case MemoryTypeFact:
		return g.Facts
	case MemoryTypePreference:
		return g.Preferences
	default:
		return g.Context
	}
}

func (g GlobalMemory) clone() GlobalMemory {
	out := newGlobalMemory()
	for k, v := range g.Facts {
		out.Facts[k] = v
	}
	for k, v := range g.Preferences {
		out.Preferences[k] = v
	}
	for k, v := range g.Context {
		out.Context[k] = v
	}
	return out
}

// Candidate is an extractor result that has not been stored yet.
type Candidate struct {
	Content    string
	Type       MemoryType
	Category   string
	Confidence float64
	Rule       string
	Slot       string // reserved slot the candidate fills, e.g. "name"
}

// AddOptions describes a memory write.
type AddOptions struct {
	UserID     string
	ChatID     *string
	Content    string
	Type       MemoryType
	Category   string
	Confidence float64
	Source     string
	Context    map[string]any
}
