package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one entry of an extraction table. Each rule is evaluated
// independently against the input text.
type Rule struct {
	Name       string
	Pattern    *regexp.Regexp
	Type       MemoryType
	Category   string
	Confidence float64

	Roles          []Role            // empty means every role
	MinLength      int               // text must be longer than this
	MaxMatches     int               // 0 means every match
	MinMatchLength int               // matches must be longer than this
	Unique         bool              // drop repeated contents
	Requires       func(string) bool // cheap precondition on the raw text
	Format         func(match []string) string
	Slot           string
}

func (r Rule) appliesTo(role Role) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// The trigger phrase is case-insensitive while the captured name must be
// capitalized, so "I'm Maria and I love hiking" yields "Maria".
const namePattern = `([A-Z][a-z]+(?: [A-Z][a-z]+)*)`

var (
	nameRe           = regexp.MustCompile(`(?i:i am|i'm|my name is|call me) ` + namePattern)
	likesRe          = regexp.MustCompile(`(?i)I (?:really )?(?:like|love|enjoy|prefer) (.+?)(?:\.|\n|$)`)
	dislikesRe       = regexp.MustCompile(`(?i)I (?:really )?(?:dislike|hate|don't like|don't enjoy) (.+?)(?:\.|\n|$)`)
	backgroundRe     = regexp.MustCompile(`(?i)(?:I am|I'm) (?:a|an) ([^.,!?]+)`)
	personalityRe    = regexp.MustCompile(`(?i)(?:I tend to|I usually|I often|I always) ([^.,!?]+)`)
	workRe           = regexp.MustCompile(`(?i)(?:we|I) (?:worked on|developed|created|built|implemented) ([^.,!?]+)`)
	technicalRe      = regexp.MustCompile(`(?i)(?:using|with|in) (?:React|Vue|Angular|Node\.js|Python|JavaScript|TypeScript|SQL|Supabase)([^.,!?]*)`)
	questionRe       = regexp.MustCompile(`[^.!?]+\?`)
	answerRe         = regexp.MustCompile(`(?:The|This|It is|There are) [^.!?]+(\.)`)
	entityRe         = regexp.MustCompile(`\b(?:the|a|an) ([A-Z][a-z]+(?: [A-Z][a-z]+)*)`)
	imageDescRe      = regexp.MustCompile(`(?i)(?:image|picture|photo) (?:shows|displays|contains|depicts) ([^.!?]+)`)
	sessionLikeRe    = regexp.MustCompile(`(?i)I (?:like|love|enjoy|prefer) (.+?)(?:\.|\n|$)`)
	sessionContextRe = regexp.MustCompile(`(?i)I am (?:a|an) (.+?)(?:\.|\n|$)`)
	nameCorrectionRe = regexp.MustCompile(`(?i:(?:no,?\s+)?(?:actually,?\s+)?my (?:real |actual )?name is not )` + namePattern + `,? (?i:it'?s|it is) ` + namePattern)
	directNameRe     = regexp.MustCompile(`(?i:(?:no,?\s+)?(?:actually,?\s+)?my (?:real |actual )?name is )` + namePattern)
	userNameRe       = regexp.MustCompile(`(?i:user's name is) ` + namePattern)
)

// NameFact renders the canonical content of a name memory.
func NameFact(name string) string {
	return fmt.Sprintf("User's name is %s", name)
}

// ParseNameFact extracts the name from a memory produced by NameFact.
func ParseNameFact(content string) (string, bool) {
	m := userNameRe.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func trimMatch(match []string) string {
	return strings.TrimRight(strings.TrimSpace(match[0]), ".\n ")
}

func formatName(match []string) string {
	return NameFact(match[1])
}

func prefixed(prefix string) func([]string) string {
	return func(match []string) string {
		return prefix + strings.TrimSpace(match[0])
	}
}

func containsAny(subs ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range subs {
			if strings.Contains(text, s) {
				return true
			}
		}
		return false
	}
}

// DefaultRules is the full extraction table applied to every chat turn.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "name", Pattern: nameRe,
			Type: MemoryTypeFact, Category: "personal", Confidence: 0.9,
			MaxMatches: 1, Format: formatName, Slot: "name",
		},
		{
			Name: "likes", Pattern: likesRe,
			Type: MemoryTypePreference, Category: "interests", Confidence: 0.8,
			Format: trimMatch,
		},
		{
			Name: "dislikes", Pattern: dislikesRe,
			Type: MemoryTypePreference, Category: "dislikes", Confidence: 0.8,
			Format: trimMatch,
		},
		{
			Name: "background", Pattern: backgroundRe,
			Type: MemoryTypeContext, Category: "background", Confidence: 0.7,
			Format: trimMatch,
		},
		{
			Name: "personality", Pattern: personalityRe,
			Type: MemoryTypePersonality, Category: "traits", Confidence: 0.6,
			Format: trimMatch,
		},
		{
			Name: "work", Pattern: workRe,
			Type: MemoryTypeContext, Category: "work", Confidence: 0.85,
			Format: trimMatch,
		},
		{
			Name: "technical", Pattern: technicalRe,
			Type: MemoryTypeContext, Category: "technical", Confidence: 0.9,
			Format: trimMatch,
		},
		{
			Name: "questions", Pattern: questionRe,
			Type: MemoryTypeContext, Category: "questions", Confidence: 0.85,
			Roles: []Role{RoleUser}, Requires: containsAny("?"),
			Format: prefixed("User asked: "),
		},
		{
			Name: "answers", Pattern: answerRe,
			Type: MemoryTypeContext, Category: "answers", Confidence: 0.75,
			Roles: []Role{RoleAssistant}, MinLength: 50, MaxMatches: 2, MinMatchLength: 20,
			Format: prefixed("Assistant provided information: "),
		},
		{
			Name: "entities", Pattern: entityRe,
			Type: MemoryTypeContext, Category: "entities", Confidence: 0.6,
			MaxMatches: 3, Unique: true,
			Format: prefixed("Mentioned "),
		},
		{
			Name: "image_description", Pattern: imageDescRe,
			Type: MemoryTypeContext, Category: "visual", Confidence: 0.9,
			MaxMatches: 1,
			Requires: func(text string) bool {
				return strings.Contains(text, "image") && containsAny("shows", "displays", "contains")(text)
			},
			Format: func(match []string) string {
				return "Image described as: " + strings.TrimSpace(match[1])
			},
		},
	}
}

// SessionRules is the narrow table used when an agent session processes a
// user turn: at most one name, one preference and one background clause.
func SessionRules() []Rule {
	return []Rule{
		{
			Name: "name", Pattern: nameRe,
			Type: MemoryTypeFact, Category: "personal", Confidence: 0.9,
			Roles: []Role{RoleUser}, MaxMatches: 1, Format: formatName, Slot: "name",
		},
		{
			Name: "preference", Pattern: sessionLikeRe,
			Type: MemoryTypePreference, Category: "interests", Confidence: 0.8,
			Roles: []Role{RoleUser}, MaxMatches: 1,
			Format: func(match []string) string {
				return "User likes " + strings.TrimSpace(match[1])
			},
		},
		{
			Name: "context", Pattern: sessionContextRe,
			Type: MemoryTypeContext, Category: "background", Confidence: 0.7,
			Roles: []Role{RoleUser}, MaxMatches: 1,
			Format: func(match []string) string {
				return "User is " + strings.TrimSpace(match[1])
			},
		},
	}
}

// NoteRules is the table used for chat-local notes. Name corrections come
// first so that "my name is not X, it's Y" records Y.
func NoteRules() []Rule {
	return []Rule{
		{
			Name: "name_correction", Pattern: nameCorrectionRe,
			Type: MemoryTypeFact, Category: "personal", Confidence: 0.95,
			Roles: []Role{RoleUser}, MaxMatches: 1, Slot: "name",
			Format: func(match []string) string { return NameFact(match[2]) },
		},
		{
			Name: "direct_name", Pattern: directNameRe,
			Type: MemoryTypeFact, Category: "personal", Confidence: 0.9,
			Roles: []Role{RoleUser}, MaxMatches: 1, Slot: "name",
			Requires: func(text string) bool { return !nameCorrectionRe.MatchString(text) },
			Format:   formatName,
		},
		{
			Name: "name", Pattern: nameRe,
			Type: MemoryTypeFact, Category: "personal", Confidence: 0.9,
			Roles: []Role{RoleUser}, MaxMatches: 1, Slot: "name",
			Requires: func(text string) bool {
				return !nameCorrectionRe.MatchString(text) && !directNameRe.MatchString(text)
			},
			Format: formatName,
		},
		{
			Name: "likes", Pattern: likesRe,
			Type: MemoryTypePreference, Category: "interests", Confidence: 0.8,
			Roles: []Role{RoleUser}, Format: trimMatch,
		},
		{
			Name: "background", Pattern: backgroundRe,
			Type: MemoryTypeContext, Category: "background", Confidence: 0.7,
			Roles: []Role{RoleUser}, Format: trimMatch,
		},
	}
}
