package memory

import "time"

// AddToShortTermMemory records a scratch entry that expires after the
// manager's short-term TTL.
func (m *Manager) AddToShortTermMemory(userID string, content any) {
	m.AddToShortTermMemoryFor(userID, content, m.shortTermTTL)
}

// AddToShortTermMemoryFor records a scratch entry with an explicit lifetime.
func (m *Manager) AddToShortTermMemoryFor(userID string, content any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.shortTermTTL
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(userID)
	st.shortTerm = append(purgeExpired(st.shortTerm, now), ShortTermEntry{
		Content: content,
		Expiry:  now.Add(ttl),
	})
}

// GetShortTermMemories returns the unexpired entries, oldest first. Expired
// entries are dropped as a side effect.
func (m *Manager) GetShortTermMemories(userID string) []ShortTermEntry {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		return nil
	}
	st.shortTerm = purgeExpired(st.shortTerm, now)
	out := make([]ShortTermEntry, len(st.shortTerm))
	copy(out, st.shortTerm)
	return out
}

// purgeExpired drops entries whose expiry is before now. An entry is still
// live at the instant it expires.
func purgeExpired(entries []ShortTermEntry, now time.Time) []ShortTermEntry {
	kept := entries[:0]
	for _, e := range entries {
		if !now.After(e.Expiry) {
			kept = append(kept, e)
		}
	}
	return kept
}
