package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/personality"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrSessionNotFound is returned when no session exists for a (user, chat) pair.
var ErrSessionNotFound = errors.New("agent session not found")

const (
	DefaultPreloadLimit = 10
	recentContextSize   = 3
)

// SessionConfig identifies a session and the personality it uses.
type SessionConfig struct {
	Variant personality.Variant
	UserID  string
	ChatID  string
}

// Session is an active (user, chat) binding.
type Session struct {
	SessionConfig
	CreatedAt time.Time
}

type sessionKey struct {
	userID string
	chatID string
}

// Option configures a Manager.
type Option func(*Manager)

// WithUserLevel sets the expertise level used for response guidelines.
func WithUserLevel(level string) Option {
	return func(m *Manager) {
		if level != "" {
			m.userLevel = level
		}
	}
}

// WithPreloadLimit sets how many memories are copied to short-term memory
// when a session starts.
func WithPreloadLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.preloadLimit = n
		}
	}
}

// WithExtractor replaces the session extraction rules.
func WithExtractor(e *memory.Extractor) Option {
	return func(m *Manager) { m.extractor = e }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager orchestrates memory and personality for agent sessions. A session
// is either absent or active; it stays active until RemoveAgent.
type Manager struct {
	memories      *memory.Manager
	personalities *personality.Manager
	extractor     *memory.Extractor
	userLevel     string
	preloadLimit  int
	logger        zerolog.Logger
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

// NewManager creates a Manager.
func NewManager(memories *memory.Manager, personalities *personality.Manager, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		memories:      memories,
		personalities: personalities,
		userLevel:     personality.LevelIntermediate,
		preloadLimit:  DefaultPreloadLimit,
		logger:        logger.With().Str("component", "agentManager").Logger(),
		now:           time.Now,
		sessions:      make(map[sessionKey]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extractor == nil {
		m.extractor = memory.NewExtractor(memory.SessionRules(), logger)
	}
	return m
}

// InitializeAgent activates the session for cfg. The variant's adapter is
// seeded with the user's profile overlay and the most relevant memories are
// copied into short-term memory. Re-initializing replaces the session.
func (m *Manager) InitializeAgent(ctx context.Context, cfg SessionConfig) error {
	variant, err := personality.ParseVariant(string(cfg.Variant))
	if err != nil {
		return err
	}
	cfg.Variant = variant
	adapter, err := m.personalities.Adapter(variant)
	if err != nil {
		return err
	}
	if cfg.UserID == "" || cfg.ChatID == "" {
		return fmt.Errorf("user and chat IDs are required")
	}

	m.mu.Lock()
	m.sessions[sessionKey{cfg.UserID, cfg.ChatID}] = &Session{SessionConfig: cfg, CreatedAt: m.now()}
	m.mu.Unlock()

	m.memories.InitializeMemoryStore(ctx, cfg.UserID)

	if profile, ok := m.personalities.GetUserProfile(cfg.UserID); ok {
		for k, v := range profile {
			adapter.UpdateUserPreference(k, v)
		}
	}

	preloaded := m.memories.GetRelevantMemories(ctx, cfg.UserID, "", m.preloadLimit)
	for _, item := range preloaded {
		m.memories.AddToShortTermMemory(cfg.UserID, item.Content)
	}

	m.logger.Info().
		Str("method", "InitializeAgent").
		Str("user_id", cfg.UserID).
		Str("chat_id", cfg.ChatID).
		Str("variant", string(variant)).
		Int("preloaded", len(preloaded)).
		Msg("Agent session initialized")
	return nil
}

// ProcessMessage records a conversation turn. User turns are mined for a
// name, a preference and a background clause, which are stored as global
// memories. Turns for unknown sessions are ignored.
func (m *Manager) ProcessMessage(ctx context.Context, userID, chatID, message string, isUser bool) {
	session, err := m.Session(userID, chatID)
	if err != nil {
		m.logger.Debug().
			Str("method", "ProcessMessage").
			Str("user_id", userID).
			Str("chat_id", chatID).
			Msg("No active session; message ignored")
		return
	}

	if isUser {
		candidates := m.extractor.Extract(message, memory.RoleUser)
		stored := m.memories.AddCandidates(ctx, userID, nil, memory.RoleUser, candidates, nil)
		if len(stored) > 0 {
			m.logger.Debug().
				Str("method", "ProcessMessage").
				Str("user_id", userID).
				Int("memories", len(stored)).
				Msg("Stored session memories")
		}
	}

	now := m.now()
	if adapter, err := m.personalities.Adapter(session.Variant); err == nil {
		adapter.AddInteraction(personality.Interaction{
			UserID:    userID,
			ChatID:    chatID,
			Message:   message,
			IsUser:    isUser,
			Timestamp: now,
		})
	}
	m.memories.AddToShortTermMemory(userID, message)

	m.personalities.UpdateUserProfile(userID, map[string]any{
		"lastMessage":     message,
		"lastInteraction": now.UTC().Format(time.RFC3339),
	})

	m.memories.RecordMessage(ctx, userID)
}

// GetEnhancedPrompt appends the user's memories, the latest short-term
// entries and response guidelines to basePrompt. Without an active session
// basePrompt is returned unchanged.
func (m *Manager) GetEnhancedPrompt(ctx context.Context, userID, chatID, basePrompt string) string {
	session, err := m.Session(userID, chatID)
	if err != nil {
		return basePrompt
	}
	adapter, err := m.personalities.Adapter(session.Variant)
	if err != nil {
		return basePrompt
	}

	memories := m.memories.GetRelevantMemories(ctx, userID, basePrompt, 0)
	recent := m.memories.GetShortTermMemories(userID)
	style := adapter.AdaptResponseStyle(m.userLevel, basePrompt)

	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n")

	if len(memories) > 0 {
		sb.WriteString("User Context:\n")
		for _, item := range memories {
			fmt.Fprintf(&sb, "- %s\n", item.Content)
		}
	}

	if len(recent) > 0 {
		sb.WriteString("\nRecent Context:\n")
		for _, entry := range lo.Subset(recent, -recentContextSize, recentContextSize) {
			fmt.Fprintf(&sb, "- %v\n", entry.Content)
		}
	}

	sb.WriteString("\nResponse Guidelines:\n")
	fmt.Fprintf(&sb, "- Detail Level: %s\n", style.DetailLevel)
	fmt.Fprintf(&sb, "- Technical Terms: %s\n", style.TechnicalTerms)
	fmt.Fprintf(&sb, "- Step by Step: %t\n", style.StepByStep)

	return sb.String()
}

// RemoveAgent ends a session. Memories and shared adapter state are kept.
func (m *Manager) RemoveAgent(userID, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey{userID, chatID})
	m.logger.Info().
		Str("method", "RemoveAgent").
		Str("user_id", userID).
		Str("chat_id", chatID).
		Msg("Agent session removed")
}

// Session returns the active session for (userID, chatID).
func (m *Manager) Session(userID, chatID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey{userID, chatID}]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// ActiveSessions lists active sessions ordered by user then chat.
func (m *Manager) ActiveSessions() []Session {
	m.mu.RLock()
	out := lo.MapToSlice(m.sessions, func(_ sessionKey, s *Session) Session { return *s })
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out
}
