package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrEmptyContent is returned when a memory write has no content.
var ErrEmptyContent = errors.New("memory content is empty")

const (
	DefaultShortTermTTL     = 30 * time.Minute
	DefaultRelevantLimit    = 5
	DefaultConsolidateEvery = 10

	chatRelevantLimit      = 5
	chatMinConfidence      = 0.6
	globalRelevantLimit    = 3
	globalMinConfidence    = 0.7
	maxRelevantForChat     = 7
	seedMemoryContent      = "User preferences and context will be stored here"
	nameSlot               = "name"
	profileKeyLastMemory   = "lastMemory"
	profileKeyMemoryType   = "memoryType"
)

// ProfileUpdater receives per-user profile overlay updates whenever a
// memory is written.
type ProfileUpdater interface {
	UpdateUserProfile(userID string, data map[string]any)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithShortTermTTL sets the default lifetime of short-term entries.
func WithShortTermTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.shortTermTTL = ttl
		}
	}
}

// WithProfileUpdater registers the profile overlay that is told about each write.
func WithProfileUpdater(p ProfileUpdater) Option {
	return func(m *Manager) { m.profiles = p }
}

// WithPendingLog captures failed backend writes for later replay.
func WithPendingLog(p *PendingLog) Option {
	return func(m *Manager) { m.pending = p }
}

// WithConsolidateEvery sets how many processed messages trigger a
// consolidation pass. Zero disables the trigger.
func WithConsolidateEvery(n int) Option {
	return func(m *Manager) { m.consolidateEvery = n }
}

// WithRelevantLimit sets the default backend limit of GetRelevantMemories.
func WithRelevantLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.relevantLimit = n
		}
	}
}

type userState struct {
	memories  []MemoryItem // active long-term memories seen by this process
	global    GlobalMemory
	shortTerm []ShortTermEntry
	processed int
}

func (s *userState) indexOf(id string) int {
	for i := range s.memories {
		if s.memories[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *userState) findByContent(content string) int {
	for i := range s.memories {
		if s.memories[i].IsActive && strings.EqualFold(s.memories[i].Content, content) {
			return i
		}
	}
	return -1
}

// index files item into the global buckets. Only global memories are
// bucketed; a name fact fills the reserved name slot whatever its scope.
func (s *userState) index(item MemoryItem) {
	entry := GlobalEntry{
		MemoryID:   item.ID,
		Content:    item.Content,
		Type:       item.Type,
		Category:   item.Category,
		Confidence: item.Confidence,
		Timestamp:  item.UpdatedAt,
	}
	if item.Type == MemoryTypeFact {
		if _, ok := ParseNameFact(item.Content); ok {
			s.global.Facts[nameSlot] = entry
		}
	}
	if item.IsGlobal() {
		s.global.bucket(item.Type)[normalizeKey(item.Content)] = entry
	}
}

func (s *userState) unindex(id string) {
	for _, bucket := range []map[string]GlobalEntry{s.global.Facts, s.global.Preferences, s.global.Context} {
		for key, entry := range bucket {
			if entry.MemoryID == id {
				delete(bucket, key)
			}
		}
	}
}

// refillNameSlot points an empty name slot at the newest active name fact
// still cached.
func (s *userState) refillNameSlot() {
	if _, ok := s.global.Facts[nameSlot]; ok {
		return
	}
	var newest *MemoryItem
	for i := range s.memories {
		item := &s.memories[i]
		if !item.IsActive || item.Type != MemoryTypeFact {
			continue
		}
		if _, ok := ParseNameFact(item.Content); !ok {
			continue
		}
		if newest == nil || !item.UpdatedAt.Before(newest.UpdatedAt) {
			newest = item
		}
	}
	if newest != nil {
		s.index(*newest)
	}
}

// Manager owns per-user memory state: the long-term cache, the global
// buckets and short-term memory. It writes through to a Backend.
type Manager struct {
	backend          Backend
	logger           zerolog.Logger
	now              func() time.Time
	shortTermTTL     time.Duration
	consolidateEvery int
	relevantLimit    int
	profiles         ProfileUpdater
	pending          *PendingLog

	mu    sync.Mutex
	users map[string]*userState
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		backend:          backend,
		logger:           logger.With().Str("component", "memoryManager").Logger(),
		now:              time.Now,
		shortTermTTL:     DefaultShortTermTTL,
		consolidateEvery: DefaultConsolidateEvery,
		relevantLimit:    DefaultRelevantLimit,
		users:            make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the durable store behind the manager.
func (m *Manager) Backend() Backend { return m.backend }

// Pending returns the pending mutation log, or nil.
func (m *Manager) Pending() *PendingLog { return m.pending }

// state returns the user's state, creating it. Callers hold m.mu.
func (m *Manager) state(userID string) *userState {
	st, ok := m.users[userID]
	if !ok {
		st = &userState{global: newGlobalMemory()}
		m.users[userID] = st
	}
	return st
}

// AddMemory stores a global memory authored by the user.
func (m *Manager) AddMemory(ctx context.Context, userID, content string, typ MemoryType, confidence float64) (MemoryItem, error) {
	return m.AddMemoryWithOptions(ctx, AddOptions{
		UserID:     userID,
		Content:    content,
		Type:       typ,
		Confidence: confidence,
	})
}

// AddMemoryWithOptions stores a memory. An active memory with the same
// content (case-insensitive) is reused and keeps the higher confidence;
// otherwise a new active memory is inserted. Backend failures are logged
// and queued on the pending log; only empty content is an error.
func (m *Manager) AddMemoryWithOptions(ctx context.Context, opts AddOptions) (MemoryItem, error) {
	content := strings.TrimSpace(opts.Content)
	if content == "" {
		return MemoryItem{}, ErrEmptyContent
	}
	if opts.Type == "" {
		opts.Type = MemoryTypeContext
	}
	if opts.Source == "" {
		opts.Source = SourceUser
	}
	confidence := lo.Clamp(opts.Confidence, 0, 1)
	now := m.now()

	m.mu.Lock()
	st := m.state(opts.UserID)

	idx := st.findByContent(content)
	if idx < 0 {
		found, err := m.backend.FindActiveByContent(ctx, opts.UserID, content)
		if err != nil {
			m.logger.Warn().
				Str("method", "AddMemoryWithOptions").
				Str("user_id", opts.UserID).
				Err(err).
				Msg("Duplicate lookup failed; treating memory as new")
		}
		if found != nil {
			st.memories = append(st.memories, *found)
			idx = len(st.memories) - 1
		}
	}

	var item MemoryItem
	if idx >= 0 {
		existing := &st.memories[idx]
		if confidence > existing.Confidence {
			existing.Confidence = confidence
			existing.UpdatedAt = now
			if opts.Context != nil {
				existing.Context = opts.Context
			}
			m.persistUpdate(ctx, *existing)
			m.logger.Debug().
				Str("method", "AddMemoryWithOptions").
				Str("user_id", opts.UserID).
				Str("memory_id", existing.ID).
				Float64("confidence", confidence).
				Msg("Raised confidence of existing memory")
		}
		item = *existing
	} else {
		item = MemoryItem{
			ID:         uuid.NewString(),
			UserID:     opts.UserID,
			ChatID:     opts.ChatID,
			Content:    content,
			Type:       opts.Type,
			Category:   opts.Category,
			Confidence: confidence,
			Source:     opts.Source,
			IsActive:   true,
			Context:    opts.Context,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.persistInsert(ctx, item)
		st.memories = append(st.memories, item)
		m.logger.Info().
			Str("method", "AddMemoryWithOptions").
			Str("user_id", opts.UserID).
			Str("chat_id", derefString(opts.ChatID)).
			Str("memory_id", item.ID).
			Str("type", string(item.Type)).
			Str("content", truncateString(content, 40)).
			Msg("Memory added")
	}
	st.index(item)
	m.mu.Unlock()

	if m.profiles != nil {
		m.profiles.UpdateUserProfile(opts.UserID, map[string]any{
			profileKeyLastMemory: item.Content,
			profileKeyMemoryType: string(item.Type),
		})
	}
	return item, nil
}

// AddCandidates stores extractor output. Failures are logged; the stored
// items are returned.
func (m *Manager) AddCandidates(ctx context.Context, userID string, chatID *string, role Role, candidates []Candidate, memCtx map[string]any) []MemoryItem {
	source := SourceUser
	if role == RoleAssistant {
		source = SourceSystem
	}
	out := make([]MemoryItem, 0, len(candidates))
	for _, c := range candidates {
		item, err := m.AddMemoryWithOptions(ctx, AddOptions{
			UserID:     userID,
			ChatID:     chatID,
			Content:    c.Content,
			Type:       c.Type,
			Category:   c.Category,
			Confidence: c.Confidence,
			Source:     source,
			Context:    memCtx,
		})
		if err != nil {
			m.logger.Warn().
				Str("method", "AddCandidates").
				Str("user_id", userID).
				Str("rule", c.Rule).
				Err(err).
				Msg("Skipping memory candidate")
			continue
		}
		out = append(out, item)
	}
	return out
}

func (m *Manager) persistInsert(ctx context.Context, item MemoryItem) {
	if err := m.backend.Insert(ctx, item); err != nil {
		m.logger.Error().
			Str("method", "persistInsert").
			Str("user_id", item.UserID).
			Str("memory_id", item.ID).
			Err(err).
			Msg("Backend insert failed; queued for replay")
		m.enqueue(MutationInsert, item)
		return
	}
	if err := m.backend.TouchStore(ctx, item.UserID, 1, m.now()); err != nil {
		m.logger.Warn().
			Str("method", "persistInsert").
			Str("user_id", item.UserID).
			Err(err).
			Msg("Failed to update memory store counters")
	}
}

func (m *Manager) persistUpdate(ctx context.Context, item MemoryItem) {
	if err := m.backend.Update(ctx, item); err != nil {
		m.logger.Error().
			Str("method", "persistUpdate").
			Str("user_id", item.UserID).
			Str("memory_id", item.ID).
			Err(err).
			Msg("Backend update failed; queued for replay")
		m.enqueue(MutationUpdate, item)
	}
}

func (m *Manager) enqueue(kind MutationKind, item MemoryItem) {
	if m.pending != nil {
		m.pending.Enqueue(kind, item)
	}
}

// GetGlobalMemories returns a copy of the user's global buckets, or false
// when nothing is known about the user.
func (m *Manager) GetGlobalMemories(userID string) (GlobalMemory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		return GlobalMemory{}, false
	}
	return st.global.clone(), true
}

// GetUserName returns the name recorded in the reserved name slot.
func (m *Manager) GetUserName(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		return "", false
	}
	entry, ok := st.global.Facts[nameSlot]
	if !ok {
		return "", false
	}
	return ParseNameFact(entry.Content)
}

// GetRelevantMemories returns the user's global bucket entries plus up to
// limit active memories from the backend, deduplicated by normalized
// content and ordered by confidence. There is no query-dependent ranking;
// contextText is only logged. Inactive and bookkeeping memories are never
// returned.
func (m *Manager) GetRelevantMemories(ctx context.Context, userID, contextText string, limit int) []MemoryItem {
	if limit <= 0 {
		limit = m.relevantLimit
	}

	var items []MemoryItem
	m.mu.Lock()
	if st, ok := m.users[userID]; ok {
		for _, bucket := range []map[string]GlobalEntry{st.global.Facts, st.global.Preferences, st.global.Context} {
			for _, entry := range bucket {
				items = append(items, MemoryItem{
					ID:         entry.MemoryID,
					UserID:     userID,
					Content:    entry.Content,
					Type:       entry.Type,
					Category:   entry.Category,
					Confidence: entry.Confidence,
					IsActive:   true,
					CreatedAt:  entry.Timestamp,
					UpdatedAt:  entry.Timestamp,
				})
			}
		}
	}
	m.mu.Unlock()

	stored, err := m.backend.Query(ctx, Filter{
		UserID:          userID,
		ActiveOnly:      true,
		ExcludeCategory: CategorySystem,
		Limit:           limit,
	})
	if err != nil {
		m.logger.Error().
			Str("method", "GetRelevantMemories").
			Str("user_id", userID).
			Err(err).
			Msg("Backend query failed; using cached memories only")
	}
	items = append(items, stored...)

	items = lo.Filter(items, func(item MemoryItem, _ int) bool {
		return item.IsActive && item.Category != CategorySystem
	})
	items = lo.UniqBy(sortByConfidence(items), func(item MemoryItem) string {
		return normalizeKey(item.Content)
	})

	m.logger.Debug().
		Str("method", "GetRelevantMemories").
		Str("user_id", userID).
		Str("context", truncateString(contextText, 40)).
		Int("results", len(items)).
		Msg("Collected relevant memories")
	return items
}

// RelevantForChat combines the best chat-scoped and global memories for a
// message, deduplicated by lowercased content, at most seven.
func (m *Manager) RelevantForChat(ctx context.Context, userID, chatID, message string) []MemoryItem {
	var items []MemoryItem

	chatItems, err := m.backend.Query(ctx, Filter{
		UserID:          userID,
		ChatID:          &chatID,
		ActiveOnly:      true,
		ExcludeCategory: CategorySystem,
		MinConfidence:   chatMinConfidence,
		Limit:           chatRelevantLimit,
	})
	if err != nil {
		m.logger.Error().Str("method", "RelevantForChat").Str("chat_id", chatID).Err(err).Msg("Chat memory query failed")
	}
	items = append(items, chatItems...)

	globalItems, err := m.backend.Query(ctx, Filter{
		UserID:          userID,
		GlobalOnly:      true,
		ActiveOnly:      true,
		ExcludeCategory: CategorySystem,
		MinConfidence:   globalMinConfidence,
		Limit:           globalRelevantLimit,
	})
	if err != nil {
		m.logger.Error().Str("method", "RelevantForChat").Str("user_id", userID).Err(err).Msg("Global memory query failed")
	}
	items = append(items, globalItems...)

	items = lo.UniqBy(items, func(item MemoryItem) string {
		return strings.ToLower(item.Content)
	})
	items = sortByConfidence(items)
	if len(items) > maxRelevantForChat {
		items = items[:maxRelevantForChat]
	}

	m.logger.Debug().
		Str("method", "RelevantForChat").
		Str("user_id", userID).
		Str("chat_id", chatID).
		Str("message", truncateString(message, 40)).
		Int("results", len(items)).
		Msg("Collected chat memories")
	return items
}

func sortByConfidence(items []MemoryItem) []MemoryItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Confidence > items[j].Confidence
	})
	return items
}

// lookup returns the cached memory, loading it from the backend on a miss.
// Callers hold m.mu.
func (m *Manager) lookup(ctx context.Context, st *userState, userID, id string) int {
	if idx := st.indexOf(id); idx >= 0 {
		return idx
	}
	found, err := m.backend.Query(ctx, Filter{UserID: userID, ID: id, Limit: 1})
	if err != nil {
		m.logger.Error().Str("method", "lookup").Str("memory_id", id).Err(err).Msg("Failed to load memory")
		return -1
	}
	if len(found) == 0 {
		return -1
	}
	st.memories = append(st.memories, found[0])
	return len(st.memories) - 1
}

// UpdateMemoryConfidence sets the confidence of a memory.
func (m *Manager) UpdateMemoryConfidence(ctx context.Context, userID, id string, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(userID)
	idx := m.lookup(ctx, st, userID, id)
	if idx < 0 {
		m.logger.Warn().Str("method", "UpdateMemoryConfidence").Str("memory_id", id).Msg("Memory not found")
		return
	}
	item := &st.memories[idx]
	item.Confidence = lo.Clamp(confidence, 0, 1)
	item.UpdatedAt = m.now()
	m.persistUpdate(ctx, *item)
	if item.IsActive {
		st.index(*item)
	}
}

// InvalidateMemory soft-deletes a memory locally and in the backend.
func (m *Manager) InvalidateMemory(ctx context.Context, userID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked(ctx, m.state(userID), userID, id)
}

func (m *Manager) invalidateLocked(ctx context.Context, st *userState, userID, id string) {
	idx := m.lookup(ctx, st, userID, id)
	if idx < 0 {
		m.logger.Warn().Str("method", "InvalidateMemory").Str("memory_id", id).Msg("Memory not found")
		return
	}
	item := st.memories[idx]
	item.IsActive = false
	item.UpdatedAt = m.now()
	m.persistUpdate(ctx, item)

	st.memories = append(st.memories[:idx], st.memories[idx+1:]...)
	st.unindex(id)
	st.refillNameSlot()

	m.logger.Info().
		Str("method", "InvalidateMemory").
		Str("user_id", userID).
		Str("memory_id", id).
		Msg("Memory invalidated")
}

// InitializeMemoryStore ensures the user's bookkeeping record. A new store
// is seeded with a system memory that retrieval never returns.
func (m *Manager) InitializeMemoryStore(ctx context.Context, userID string) {
	now := m.now()
	created, err := m.backend.EnsureStore(ctx, userID, now)
	if err != nil {
		m.logger.Error().Str("method", "InitializeMemoryStore").Str("user_id", userID).Err(err).Msg("Failed to ensure memory store")
		return
	}
	if !created {
		return
	}

	seed := MemoryItem{
		ID:         uuid.NewString(),
		UserID:     userID,
		Content:    seedMemoryContent,
		Type:       MemoryTypeContext,
		Category:   CategorySystem,
		Confidence: 1.0,
		Source:     SourceSystem,
		IsActive:   true,
		Context:    map[string]any{"system": true, "timestamp": now.UTC().Format(time.RFC3339)},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.persistInsert(ctx, seed)
	m.logger.Info().Str("method", "InitializeMemoryStore").Str("user_id", userID).Msg("Memory store created")
}

// RecordMessage counts a processed message and runs consolidation every
// consolidateEvery messages. It reports whether consolidation ran.
func (m *Manager) RecordMessage(ctx context.Context, userID string) bool {
	if m.consolidateEvery <= 0 {
		return false
	}
	m.mu.Lock()
	st := m.state(userID)
	st.processed++
	due := st.processed%m.consolidateEvery == 0
	m.mu.Unlock()

	if !due {
		return false
	}
	if _, err := m.ConsolidateMemories(ctx, userID); err != nil {
		m.logger.Error().Str("method", "RecordMessage").Str("user_id", userID).Err(err).Msg("Consolidation failed")
	}
	return true
}

// Users returns the IDs of users with in-process state, sorted.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := lo.Keys(m.users)
	sort.Strings(ids)
	return ids
}
