package chat

import (
	"testing"

	"github.com/kiara-intelligence/kiara/config"
	"github.com/kiara-intelligence/kiara/llm"
	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/personality"
	"github.com/stretchr/testify/assert"
)

func TestComposeSystemPromptDominator(t *testing.T) {
	got := ComposeSystemPrompt(PromptInput{
		Variant:  personality.VariantDominator,
		Base:     "BASE",
		Summary:  "User Facts: User's name is Maria",
		UserName: "Maria",
	})
	assert.Equal(t, "BASE\n\nUser Context and Memory:\nUser Facts: User's name is Maria\n\nUser's name: Maria", got)

	assert.Equal(t, "BASE", ComposeSystemPrompt(PromptInput{Variant: personality.VariantDominator, Base: "BASE"}))
}

func TestComposeSystemPromptVision(t *testing.T) {
	global := memory.GlobalMemory{
		Facts: map[string]memory.GlobalEntry{
			"name": {Content: "User's name is Anna"},
		},
		Preferences: map[string]memory.GlobalEntry{
			"i like tea":     {Content: "I like tea"},
			"i enjoy poetry": {Content: "I enjoy poetry"},
		},
	}
	got := ComposeSystemPrompt(PromptInput{
		Variant:  personality.VariantVision,
		Base:     "BASE",
		Summary:  "Recent Conversation:",
		UserName: "Anna",
		Global:   &global,
	})

	want := "BASE" +
		"\n\nUser's name: Anna" +
		"\n\nUser Preferences:\n- I enjoy poetry\n- I like tea" +
		"\n\nUser Facts:\n- User's name is Anna" +
		"\n\nConversation Context:\nRecent Conversation:"
	assert.Equal(t, want, got)
}

func TestBuildRequest(t *testing.T) {
	model := config.Defaults().Models["vision"]
	history := []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}

	req := BuildRequest(model, "SYSTEM", history)
	history[0] = llm.NewTextMessage(llm.RoleUser, "changed")

	assert.Equal(t, "google/gemini-2.0-flash-001", req.Model)
	assert.Equal(t, "SYSTEM", req.System)
	assert.Equal(t, int64(4096), req.MaxTokens)
	if assert.NotNil(t, req.Temperature) {
		assert.InDelta(t, 0.8, *req.Temperature, 1e-9)
	}
	assert.Equal(t, "hi", req.Messages[0].Text())
}
