package personality

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const profileKeyLastUpdated = "lastUpdated"

// Manager owns one shared Adapter per variant and the per-user profile
// overlay.
type Manager struct {
	adapters map[Variant]*Adapter
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	profiles map[string]map[string]any
}

// NewManager loads every variant profile, preferring overrides in
// profilesDir. A profile that fails to load is fatal.
func NewManager(profilesDir string, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		adapters: make(map[Variant]*Adapter),
		logger:   logger.With().Str("component", "personalityManager").Logger(),
		now:      time.Now,
		profiles: make(map[string]map[string]any),
	}
	for _, v := range Variants() {
		profile, err := LoadProfile(v, profilesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s personality: %w", v, err)
		}
		m.adapters[v] = NewAdapter(v, profile, logger)
		m.logger.Debug().
			Str("variant", string(v)).
			Str("profile", profile.Name).
			Str("version", profile.Version).
			Msg("Personality profile loaded")
	}
	return m, nil
}

// Adapter returns the shared adapter for variant.
func (m *Manager) Adapter(variant Variant) (*Adapter, error) {
	a, ok := m.adapters[variant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	return a, nil
}

// UpdateUserProfile merges data into the user's profile overlay and stamps
// lastUpdated.
func (m *Manager) UpdateUserProfile(userID string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[userID]
	if !ok {
		profile = make(map[string]any, len(data)+1)
		m.profiles[userID] = profile
	}
	for k, v := range data {
		profile[k] = v
	}
	profile[profileKeyLastUpdated] = m.now().UTC().Format(time.RFC3339)
}

// GetUserProfile returns a copy of the user's overlay.
func (m *Manager) GetUserProfile(userID string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[userID]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(profile))
	for k, v := range profile {
		out[k] = v
	}
	return out, true
}

// EnhancePrompt appends the variant's traits, the user's overlay and the
// memory weights to basePrompt. Keys are listed in sorted order.
func (m *Manager) EnhancePrompt(basePrompt, userID string, variant Variant) string {
	adapter, err := m.Adapter(variant)
	if err != nil {
		m.logger.Warn().Str("method", "EnhancePrompt").Err(err).Msg("Returning base prompt")
		return basePrompt
	}

	var sb strings.Builder
	sb.WriteString(basePrompt)

	sb.WriteString("\n\nPersonality Traits:")
	writeSorted(&sb, adapter.PersonalityTraits())

	if profile, ok := m.GetUserProfile(userID); ok {
		delete(profile, profileKeyLastUpdated)
		if len(profile) > 0 {
			sb.WriteString("\n\nUser Context:")
			writeSorted(&sb, profile)
		}
	}

	sb.WriteString("\n\nMemory Importance:")
	writeSorted(&sb, adapter.MemoryWeights())

	return sb.String()
}

func writeSorted[V any](sb *strings.Builder, values map[string]V) {
	keys := lo.Keys(values)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "\n- %s: %v", k, values[k])
	}
}
