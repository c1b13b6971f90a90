package personality

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// MaxInteractions bounds the interaction history of an adapter.
const MaxInteractions = 50

const defaultExpertise = 0.5

// User levels accepted by AdaptResponseStyle.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelExpert       = "expert"
)

// Context types returned by ClassifyContext.
const (
	ContextTechnical   = "technical"
	ContextEducational = "educational"
	ContextCasual      = "casual"
)

// ResponseStyle is the set of directives injected into prompts.
type ResponseStyle struct {
	DetailLevel    string  `json:"detail_level"`
	TechnicalTerms string  `json:"technical_terms"`
	StepByStep     bool    `json:"step_by_step"`
	Formality      float64 `json:"formality"`
}

// Guidelines combines the profile's response guidelines with the
// communication style adapted to a context type.
type Guidelines struct {
	ContextType  string         `json:"context_type"`
	Base         map[string]any `json:"base"`
	AdaptedStyle map[string]any `json:"adapted_style"`
}

// Interaction is one recorded conversation turn.
type Interaction struct {
	UserID    string    `json:"user_id,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	Message   string    `json:"message"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// Adapter derives response style from a static profile. One adapter serves
// every session of a variant, so its history and preferences are shared.
type Adapter struct {
	variant Variant
	profile *Profile
	logger  zerolog.Logger
	now     func() time.Time

	mu           sync.RWMutex
	preferences  map[string]any
	interactions []Interaction
}

// NewAdapter creates an adapter over profile.
func NewAdapter(variant Variant, profile *Profile, logger zerolog.Logger) *Adapter {
	return &Adapter{
		variant:     variant,
		profile:     profile,
		logger:      logger.With().Str("component", "behaviorAdapter").Str("variant", string(variant)).Logger(),
		now:         time.Now,
		preferences: make(map[string]any),
	}
}

// Variant returns the adapter's model variant.
func (a *Adapter) Variant() Variant { return a.variant }

// Profile returns the static profile.
func (a *Adapter) Profile() *Profile { return a.profile }

// AdaptResponseStyle returns the directives for userLevel, falling back to
// the quick-help bucket for unknown levels.
func (a *Adapter) AdaptResponseStyle(userLevel, contextText string) ResponseStyle {
	rules := a.profile.AdaptationRules
	d, ok := rules.UserExpertise[userLevel]
	if !ok {
		d = rules.UserNeeds["quick_help"]
		a.logger.Debug().
			Str("method", "AdaptResponseStyle").
			Str("user_level", userLevel).
			Msg("No rules for user level; using quick help")
	}

	detail := d.ExplanationDetail
	if detail == "" {
		detail = d.DetailLevel
	}
	return ResponseStyle{
		DetailLevel:    detail,
		TechnicalTerms: d.TechnicalTerms,
		StepByStep:     d.StepByStep || d.StepBreakdown,
		Formality:      a.profile.CommunicationStyle["formality_level"],
	}
}

// ClassifyContext buckets free text into a context type by keyword.
func ClassifyContext(text string) string {
	switch {
	case strings.Contains(text, "code") || strings.Contains(text, "programming"):
		return ContextTechnical
	case strings.Contains(text, "learn") || strings.Contains(text, "explain"):
		return ContextEducational
	default:
		return ContextCasual
	}
}

// GetResponseGuidelines classifies contextText and overlays the matching
// context rules on the base communication style.
func (a *Adapter) GetResponseGuidelines(contextText string) Guidelines {
	contextType := ClassifyContext(contextText)

	style := make(map[string]any, len(a.profile.CommunicationStyle))
	for k, v := range a.profile.CommunicationStyle {
		style[k] = v
	}
	overrides, ok := a.profile.AdaptationRules.ConversationContext[contextType]
	if !ok {
		overrides = a.profile.AdaptationRules.ImageContext[contextType]
	}
	for k, v := range overrides {
		style[k] = v
	}

	base := make(map[string]any, len(a.profile.ResponseGuidelines))
	for k, v := range a.profile.ResponseGuidelines {
		base[k] = v
	}
	return Guidelines{ContextType: contextType, Base: base, AdaptedStyle: style}
}

// GetExpertiseLevel returns the proficiency of the first expertise area,
// in name order, that lists domain. Unknown domains score 0.5.
func (a *Adapter) GetExpertiseLevel(domain string) float64 {
	names := lo.Keys(a.profile.ExpertiseAreas)
	sort.Strings(names)
	for _, name := range names {
		if area := a.profile.ExpertiseAreas[name]; area.covers(domain) {
			return area.Proficiency
		}
	}
	return defaultExpertise
}

// AddInteraction appends to the bounded history, evicting the oldest entry
// once MaxInteractions is exceeded.
func (a *Adapter) AddInteraction(in Interaction) {
	if in.Timestamp.IsZero() {
		in.Timestamp = a.now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interactions = append(a.interactions, in)
	if over := len(a.interactions) - MaxInteractions; over > 0 {
		a.interactions = append(a.interactions[:0:0], a.interactions[over:]...)
	}
}

// Interactions returns a copy of the history, oldest first.
func (a *Adapter) Interactions() []Interaction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Interaction, len(a.interactions))
	copy(out, a.interactions)
	return out
}

// UpdateUserPreference sets a shared preference value.
func (a *Adapter) UpdateUserPreference(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.preferences[key] = value
}

// UserPreferences returns a copy of the shared preferences.
func (a *Adapter) UserPreferences() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]any, len(a.preferences))
	for k, v := range a.preferences {
		out[k] = v
	}
	return out
}

// PersonalityTraits returns the profile's core traits.
func (a *Adapter) PersonalityTraits() map[string]float64 { return a.profile.CoreTraits }

// MemoryWeights returns the profile's memory importance weights.
func (a *Adapter) MemoryWeights() map[string]float64 { return a.profile.MemoryWeights }
