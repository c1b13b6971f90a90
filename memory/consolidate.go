package memory

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// ConsolidateMemories collapses near-duplicate active memories. Memories are
// grouped by the first three words of their content; in every group with
// more than one member the highest-confidence memory survives and the rest
// are invalidated. Confidence ties go to the most recently updated memory. It returns the number of memories invalidated, and a
// second run without new writes invalidates nothing.
func (m *Manager) ConsolidateMemories(ctx context.Context, userID string) (int, error) {
	stored, err := m.backend.Query(ctx, Filter{
		UserID:          userID,
		ActiveOnly:      true,
		ExcludeCategory: CategorySystem,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load memories for consolidation: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(userID)

	// Cached copies are at least as fresh as stored rows.
	byID := make(map[string]MemoryItem, len(stored)+len(st.memories))
	order := make([]string, 0, len(stored)+len(st.memories))
	for _, item := range append(stored, st.memories...) {
		if !item.IsActive || item.Category == CategorySystem {
			continue
		}
		if _, seen := byID[item.ID]; !seen {
			order = append(order, item.ID)
		}
		byID[item.ID] = item
	}
	items := lo.Map(order, func(id string, _ int) MemoryItem { return byID[id] })

	groups := lo.GroupBy(items, func(item MemoryItem) string { return groupKey(item.Content) })

	invalidated := 0
	for _, key := range lo.Uniq(lo.Map(items, func(item MemoryItem, _ int) string { return groupKey(item.Content) })) {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		keep := lo.MaxBy(group, supersedes)
		if st.indexOf(keep.ID) < 0 {
			st.memories = append(st.memories, keep)
		}
		for _, item := range group {
			if item.ID == keep.ID {
				continue
			}
			if st.indexOf(item.ID) < 0 {
				st.memories = append(st.memories, item)
			}
			m.invalidateLocked(ctx, st, userID, item.ID)
			invalidated++
		}
		st.index(keep)
	}

	m.logger.Info().
		Str("method", "ConsolidateMemories").
		Str("user_id", userID).
		Int("examined", len(items)).
		Int("invalidated", invalidated).
		Msg("Memory consolidation finished")
	return invalidated, nil
}

// ConsolidateAll consolidates every user known in process or in the
// backend. Failures are logged and do not stop the pass.
func (m *Manager) ConsolidateAll(ctx context.Context) int {
	users := m.Users()
	if stored, err := m.backend.StoreUsers(ctx); err != nil {
		m.logger.Warn().Str("method", "ConsolidateAll").Err(err).Msg("Failed to list stored users")
	} else {
		users = lo.Uniq(append(users, stored...))
	}

	total := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		n, err := m.ConsolidateMemories(ctx, userID)
		if err != nil {
			m.logger.Error().Str("method", "ConsolidateAll").Str("user_id", userID).Err(err).Msg("Consolidation failed")
			continue
		}
		total += n
	}
	return total
}

// supersedes reports whether a should survive over b.
func supersedes(a, b MemoryItem) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}
