package memory

import (
	"strings"

	"github.com/samber/lo"
)

var summaryPrefixes = []string{
	"User's name is ",
	"User asked: ",
	"Assistant provided information: ",
	"Mentioned ",
	"Image described as: ",
}

// Summarize renders memories as prompt lines, one line per type/category
// group in order of first appearance. A group with a single memory keeps
// its content verbatim; larger groups are stripped of their extraction
// prefixes and joined under a label.
func Summarize(items []MemoryItem) string {
	if len(items) == 0 {
		return ""
	}

	keyOf := func(item MemoryItem) string {
		return string(item.Type) + ":" + categoryOrGeneral(item.Category)
	}
	groups := lo.GroupBy(items, keyOf)
	keys := lo.Uniq(lo.Map(items, func(item MemoryItem, _ int) string { return keyOf(item) }))

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		if len(group) == 1 {
			lines = append(lines, group[0].Content)
			continue
		}
		parts := lo.Map(group, func(item MemoryItem, _ int) string { return stripPrefix(item.Content) })
		lines = append(lines, summaryLabel(group[0])+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

func categoryOrGeneral(category string) string {
	if category == "" {
		return "general"
	}
	return category
}

func stripPrefix(content string) string {
	for _, prefix := range summaryPrefixes {
		if strings.HasPrefix(content, prefix) {
			return strings.TrimPrefix(content, prefix)
		}
	}
	return content
}

func summaryLabel(item MemoryItem) string {
	switch {
	case item.Type == MemoryTypeFact && item.Category == "personal":
		return "Personal facts: "
	case item.Type == MemoryTypePreference:
		return "Preferences: "
	case item.Type == MemoryTypeContext && item.Category == "questions":
		return "Previous questions: "
	case item.Type == MemoryTypeContext && item.Category == "visual":
		return "Visual context: "
	case item.Category != "":
		return item.Category + " information: "
	default:
		return string(item.Type) + " information: "
	}
}
