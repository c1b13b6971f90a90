package openrouter

import (
	"strings"

	"github.com/kiara-intelligence/kiara/llm"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAIMessages converts llm.Messages to the OpenAI chat message format.
func ToOpenAIMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	return lo.Map(msgs, func(msg llm.Message, _ int) openai.ChatCompletionMessage {
		return ToOpenAIMessage(msg)
	})
}

// ToOpenAIMessage converts a single llm.Message. Messages that carry an
// image are sent as multi-part content; text-only messages use the plain
// content field.
func ToOpenAIMessage(msg llm.Message) openai.ChatCompletionMessage {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	default:
		role = openai.ChatMessageRoleUser
	}

	hasImage := false
	for _, block := range msg.Content {
		if block.Type == llm.ContentBlockTypeImage {
			hasImage = true
			break
		}
	}

	if !hasImage {
		texts := make([]string, 0, len(msg.Content))
		for _, block := range msg.Content {
			if block.Type == llm.ContentBlockTypeText {
				texts = append(texts, block.Text)
			}
		}
		return openai.ChatCompletionMessage{Role: role, Content: strings.Join(texts, "\n")}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: block.Text,
			})
		case llm.ContentBlockTypeImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    block.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}
