package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/migrations"
	"github.com/kiara-intelligence/kiara/personality"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	memories      *memory.Manager
	personalities *personality.Manager
	agents        *Manager
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	db, err := migrations.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	personalities, err := personality.NewManager("", zerolog.Nop())
	require.NoError(t, err)
	memories := memory.NewManager(memory.NewSQLBackend(db, zerolog.Nop()), zerolog.Nop(),
		memory.WithProfileUpdater(personalities))

	return testEnv{
		memories:      memories,
		personalities: personalities,
		agents:        NewManager(memories, personalities, zerolog.Nop(), opts...),
	}
}

func startSession(t *testing.T, env testEnv, userID, chatID string) {
	t.Helper()
	require.NoError(t, env.agents.InitializeAgent(context.Background(), SessionConfig{
		Variant: personality.VariantDominator,
		UserID:  userID,
		ChatID:  chatID,
	}))
}

func TestEnhancedPromptWithoutMemories(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, "u1", "c1")

	got := env.agents.GetEnhancedPrompt(context.Background(), "u1", "c1", "BASE")

	want := "BASE\n\n" +
		"\nResponse Guidelines:\n" +
		"- Detail Level: moderate\n" +
		"- Technical Terms: balanced\n" +
		"- Step by Step: true\n"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "User Context")
	assert.NotContains(t, got, "Recent Context")
}

func TestProcessMessageStoresSessionMemories(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	startSession(t, env, "u1", "c1")

	env.agents.ProcessMessage(ctx, "u1", "c1", "Hi, I'm Maria and I love hiking", true)

	name, ok := env.memories.GetUserName("u1")
	require.True(t, ok)
	assert.Equal(t, "Maria", name)

	global, ok := env.memories.GetGlobalMemories("u1")
	require.True(t, ok)
	assert.Contains(t, global.Preferences, "user_likes_hiking")

	adapter, err := env.personalities.Adapter(personality.VariantDominator)
	require.NoError(t, err)
	history := adapter.Interactions()
	require.NotEmpty(t, history)
	assert.Equal(t, "Hi, I'm Maria and I love hiking", history[len(history)-1].Message)

	profile, ok := env.personalities.GetUserProfile("u1")
	require.True(t, ok)
	assert.Equal(t, "Hi, I'm Maria and I love hiking", profile["lastMessage"])
	assert.Contains(t, profile, "lastInteraction")

	prompt := env.agents.GetEnhancedPrompt(ctx, "u1", "c1", "BASE")
	assert.Contains(t, prompt, "User Context:\n")
	assert.Contains(t, prompt, "- User's name is Maria\n")
	assert.Contains(t, prompt, "- User likes hiking\n")
	assert.Contains(t, prompt, "\nRecent Context:\n- Hi, I'm Maria and I love hiking\n")
}

func TestProcessMessageAssistantTurnsAreNotMined(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	startSession(t, env, "u1", "c1")

	env.agents.ProcessMessage(ctx, "u1", "c1", "I'm Kiara and I love helping", false)

	_, ok := env.memories.GetUserName("u1")
	assert.False(t, ok)
}

func TestProcessMessageWithoutSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.agents.ProcessMessage(ctx, "u1", "c1", "I'm Maria", true)

	_, ok := env.memories.GetUserName("u1")
	assert.False(t, ok)
	assert.Equal(t, "BASE", env.agents.GetEnhancedPrompt(ctx, "u1", "c1", "BASE"))
}

func TestRecentContextKeepsLastThree(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	startSession(t, env, "u1", "c1")

	for i := 1; i <= 5; i++ {
		env.agents.ProcessMessage(ctx, "u1", "c1", fmt.Sprintf("turn %d", i), true)
	}

	prompt := env.agents.GetEnhancedPrompt(ctx, "u1", "c1", "BASE")
	assert.Contains(t, prompt, "\nRecent Context:\n- turn 3\n- turn 4\n- turn 5\n")
	assert.NotContains(t, prompt, "turn 2")
}

func TestInitializeAgentPreloadsMemories(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.memories.AddMemory(ctx, "u1", "User likes chess", memory.MemoryTypePreference, 0.8)
	require.NoError(t, err)
	startSession(t, env, "u1", "c1")

	entries := env.memories.GetShortTermMemories("u1")
	require.Len(t, entries, 1)
	assert.Equal(t, "User likes chess", entries[0].Content)

	adapter, err := env.personalities.Adapter(personality.VariantDominator)
	require.NoError(t, err)
	assert.Equal(t, "User likes chess", adapter.UserPreferences()["lastMemory"])
}

func TestInitializeAgentValidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.agents.InitializeAgent(ctx, SessionConfig{Variant: "oracle", UserID: "u1", ChatID: "c1"})
	assert.ErrorIs(t, err, personality.ErrUnknownVariant)

	err = env.agents.InitializeAgent(ctx, SessionConfig{Variant: personality.VariantVision, UserID: "u1"})
	assert.Error(t, err)
	assert.Empty(t, env.agents.ActiveSessions())
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	startSession(t, env, "u2", "c1")
	startSession(t, env, "u1", "c2")
	startSession(t, env, "u1", "c1")

	sessions := env.agents.ActiveSessions()
	require.Len(t, sessions, 3)
	assert.Equal(t, "u1", sessions[0].UserID)
	assert.Equal(t, "c1", sessions[0].ChatID)
	assert.Equal(t, "c2", sessions[1].ChatID)
	assert.Equal(t, "u2", sessions[2].UserID)

	s, err := env.agents.Session("u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, personality.VariantDominator, s.Variant)

	env.agents.RemoveAgent("u1", "c1")
	_, err = env.agents.Session("u1", "c1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Len(t, env.agents.ActiveSessions(), 2)
}

func TestUserLevelOption(t *testing.T) {
	env := newTestEnv(t, WithUserLevel(personality.LevelExpert))
	startSession(t, env, "u1", "c1")

	prompt := env.agents.GetEnhancedPrompt(context.Background(), "u1", "c1", "BASE")
	assert.Contains(t, prompt, "- Detail Level: concise\n")
	assert.Contains(t, prompt, "- Step by Step: false\n")
}
