package memory

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Extractor turns free text into memory candidates by running a rule table.
type Extractor struct {
	rules  []Rule
	logger zerolog.Logger
}

// NewExtractor creates an Extractor over rules. A nil table means DefaultRules.
func NewExtractor(rules []Rule, logger zerolog.Logger) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{
		rules:  rules,
		logger: logger.With().Str("component", "memoryExtractor").Logger(),
	}
}

// Extract applies every rule to text in table order. Rules are independent,
// so one clause may produce overlapping candidates. Extraction never fails;
// an empty result means nothing matched.
func (e *Extractor) Extract(text string, role Role) []Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Candidate
	for _, rule := range e.rules {
		out = append(out, e.apply(rule, text, role)...)
	}

	e.logger.Debug().
		Str("method", "Extract").
		Str("role", string(role)).
		Int("text_len", len(text)).
		Int("candidates", len(out)).
		Msg("Extracted memory candidates")
	return out
}

func (e *Extractor) apply(rule Rule, text string, role Role) (out []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("method", "Extract").
				Str("rule", rule.Name).
				Interface("panic", r).
				Msg("Extraction rule failed")
			out = nil
		}
	}()

	if !rule.appliesTo(role) {
		return nil
	}
	if rule.MinLength > 0 && len(text) <= rule.MinLength {
		return nil
	}
	if rule.Requires != nil && !rule.Requires(text) {
		return nil
	}

	format := rule.Format
	if format == nil {
		format = trimMatch
	}

	limit := -1
	if rule.MaxMatches > 0 && rule.MinMatchLength == 0 && !rule.Unique {
		limit = rule.MaxMatches
	}
	matches := rule.Pattern.FindAllStringSubmatch(text, limit)
	if rule.MaxMatches > 0 && rule.MinMatchLength > 0 {
		// Length filtering applies to the leading matches only.
		matches = lo.Slice(matches, 0, rule.MaxMatches)
	}

	seen := make(map[string]struct{})
	for _, match := range matches {
		if rule.MinMatchLength > 0 && len(match[0]) <= rule.MinMatchLength {
			continue
		}
		content := format(match)
		if content == "" {
			continue
		}
		if rule.Unique {
			if _, dup := seen[content]; dup {
				continue
			}
			seen[content] = struct{}{}
		}
		out = append(out, Candidate{
			Content:    content,
			Type:       rule.Type,
			Category:   rule.Category,
			Confidence: rule.Confidence,
			Rule:       rule.Name,
			Slot:       rule.Slot,
		})
		if rule.MaxMatches > 0 && len(out) >= rule.MaxMatches {
			break
		}
	}
	return out
}
