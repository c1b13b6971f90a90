package chat

import (
	"sort"
	"strings"

	"github.com/kiara-intelligence/kiara/config"
	"github.com/kiara-intelligence/kiara/llm"
	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/personality"
)

// PromptInput is everything the composer folds into a system prompt.
type PromptInput struct {
	Variant  personality.Variant
	Base     string
	Summary  string
	UserName string
	Global   *memory.GlobalMemory
}

// ComposeSystemPrompt renders the per-turn system prompt. The dominator
// variant appends the memory summary and the user's name; the vision
// variant additionally lists global preferences and facts.
func ComposeSystemPrompt(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString(in.Base)

	if in.Variant == personality.VariantVision {
		if in.UserName != "" {
			sb.WriteString("\n\nUser's name: ")
			sb.WriteString(in.UserName)
		}
		if in.Global != nil {
			writeBucket(&sb, "User Preferences:", in.Global.Preferences)
			writeBucket(&sb, "User Facts:", in.Global.Facts)
		}
		if in.Summary != "" {
			sb.WriteString("\n\nConversation Context:\n")
			sb.WriteString(in.Summary)
		}
		return sb.String()
	}

	if in.Summary != "" {
		sb.WriteString("\n\nUser Context and Memory:\n")
		sb.WriteString(in.Summary)
	}
	if in.UserName != "" {
		sb.WriteString("\n\nUser's name: ")
		sb.WriteString(in.UserName)
	}
	return sb.String()
}

func writeBucket(sb *strings.Builder, title string, bucket map[string]memory.GlobalEntry) {
	if len(bucket) == 0 {
		return
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("\n\n")
	sb.WriteString(title)
	for _, k := range keys {
		sb.WriteString("\n- ")
		sb.WriteString(bucket[k].Content)
	}
}

// BuildRequest assembles a completion request from model settings, the
// system prompt and the conversation history.
func BuildRequest(model config.ModelConfig, system string, history []llm.Message) *llm.Request {
	messages := make([]llm.Message, len(history))
	copy(messages, history)
	return &llm.Request{
		Model:            model.Model,
		System:           system,
		Messages:         messages,
		MaxTokens:        int64(model.MaxTokens),
		Temperature:      model.Temperature,
		TopP:             model.TopP,
		PresencePenalty:  model.PresencePenalty,
		FrequencyPenalty: model.FrequencyPenalty,
	}
}
