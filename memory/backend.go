package memory

import (
	"context"
	"time"
)

// Filter selects memories from a Backend.
type Filter struct {
	UserID          string
	ID              string
	ChatID          *string // restrict to one chat
	GlobalOnly      bool    // restrict to memories without a chat
	ActiveOnly      bool
	Type            MemoryType
	Category        string
	ExcludeCategory string
	MinConfidence   float64
	Limit           int
}

// MemoryStoreRecord is the per-user bookkeeping row.
type MemoryStoreRecord struct {
	UserID        string    `json:"user_id"`
	MemoryCount   int       `json:"memory_count"`
	LastProcessed time.Time `json:"last_processed"`
}

// Backend is the durable side of the memory subsystem. Results of Query are
// ordered by confidence, highest first.
type Backend interface {
	Insert(ctx context.Context, item MemoryItem) error
	Update(ctx context.Context, item MemoryItem) error
	Query(ctx context.Context, f Filter) ([]MemoryItem, error)
	// FindActiveByContent returns the active memory whose content equals
	// content case-insensitively, or nil.
	FindActiveByContent(ctx context.Context, userID, content string) (*MemoryItem, error)

	// EnsureStore creates the bookkeeping row if missing and reports whether it did.
	EnsureStore(ctx context.Context, userID string, now time.Time) (bool, error)
	GetStore(ctx context.Context, userID string) (*MemoryStoreRecord, error)
	// TouchStore adds delta to the memory count and stamps last_processed.
	TouchStore(ctx context.Context, userID string, delta int, now time.Time) error
	// StoreUsers lists every user with a bookkeeping row.
	StoreUsers(ctx context.Context) ([]string, error)
}
