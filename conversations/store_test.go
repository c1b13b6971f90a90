package conversations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/migrations"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances a millisecond per call so rows get distinct timestamps.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := migrations.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(db, zerolog.Nop(), WithStoreClock(clock.Now))
}

func TestEnsureChat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	chat, err := s.EnsureChat(ctx, "u1", "c1", "vision")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatTitle, chat.Title)
	assert.Equal(t, "vision", chat.Model)

	again, err := s.EnsureChat(ctx, "u1", "c1", "dominator")
	require.NoError(t, err)
	assert.Equal(t, "vision", again.Model, "existing chats are not modified")

	_, err = s.GetChat(ctx, "u2", "c1")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestAddMessageAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.AddMessage(ctx, "u1", "c1", memory.RoleUser, "hello", "data:image/png;base64,AAAA")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "u1", "c1", memory.RoleAssistant, "hi there", "")
	require.NoError(t, err)

	history, err := s.GetChatHistory(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleUser, history[0].Role)
	assert.Equal(t, "data:image/png;base64,AAAA", history[0].ImageURL)
	assert.Equal(t, "hi there", history[1].Content)
	assert.Empty(t, history[1].ImageURL)
}

func TestStreamingMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msg, err := s.CreateStreamingMessage(ctx, "u1", "c1", "Thinking...")
	require.NoError(t, err)
	assert.True(t, msg.IsStreaming)

	require.NoError(t, s.UpdateStreamingMessage(ctx, msg.ID, "Partial", false, false))
	history, err := s.GetChatHistory(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Partial", history[0].Content)
	assert.True(t, history[0].IsStreaming)

	require.NoError(t, s.UpdateStreamingMessage(ctx, msg.ID, "Done", true, true))
	history, err = s.GetChatHistory(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, history[0].IsStreaming)
	assert.True(t, history[0].IsError)

	assert.Error(t, s.UpdateStreamingMessage(ctx, "missing", "x", true, false))
}

func TestNotesFromUserTurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	chatID := "c1"

	_, err := s.AddMessage(ctx, "u1", chatID, memory.RoleUser, "Hi, I'm Maria and I love hiking. I'm a developer", "")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "u1", chatID, memory.RoleUser, "Actually, my name is Sarah. I love hiking.", "")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "u1", chatID, memory.RoleAssistant, "I'm Kiara and I love helping.", "")
	require.NoError(t, err)

	facts, err := s.Notes(ctx, "u1", nil, NoteFacts)
	require.NoError(t, err)
	assert.Equal(t, []string{"User's name is Sarah"}, facts)

	chatFacts, err := s.Notes(ctx, "u1", &chatID, NoteFacts)
	require.NoError(t, err)
	assert.Equal(t, []string{"User's name is Sarah"}, chatFacts)

	prefs, err := s.Notes(ctx, "u1", nil, NotePreferences)
	require.NoError(t, err)
	assert.Equal(t, []string{"I love hiking"}, prefs)

	chatContext, err := s.Notes(ctx, "u1", &chatID, NoteContext)
	require.NoError(t, err)
	assert.Equal(t, []string{"I'm a developer"}, chatContext)

	globalContext, err := s.Notes(ctx, "u1", nil, NoteContext)
	require.NoError(t, err)
	assert.Empty(t, globalContext)
}

func TestNameCorrection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.AddMessage(ctx, "u1", "c1", memory.RoleUser, "Call me John", "")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "u1", "c2", memory.RoleUser, "No, my name is not John, it's Peter", "")
	require.NoError(t, err)

	facts, err := s.Notes(ctx, "u1", nil, NoteFacts)
	require.NoError(t, err)
	assert.Equal(t, []string{"User's name is Peter"}, facts)
}

func TestGetMemorySummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	summary, err := s.GetMemorySummary(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, summary)

	_, err = s.AddMessage(ctx, "u1", "c1", memory.RoleUser, "Hi, I'm Maria and I love hiking. I'm a developer", "")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "u1", "c1", memory.RoleAssistant, strings.Repeat("a", 120), "")
	require.NoError(t, err)
	require.NoError(t, s.AddImageDescription(ctx, "u1", "c1", "a red bicycle"))
	require.NoError(t, s.AddImageDescription(ctx, "u1", "c1", "a red bicycle"))

	summary, err = s.GetMemorySummary(ctx, "u1", "c1")
	require.NoError(t, err)
	want := strings.Join([]string{
		"User Facts: User's name is Maria",
		"User Preferences: I love hiking",
		"Chat Context: I'm a developer, Image described as: a red bicycle",
		"Recent Conversation:",
		"User: Hi, I'm Maria and I love hiking. I'm a developer",
		"Assistant: " + strings.Repeat("a", 100) + "...",
	}, "\n")
	assert.Equal(t, want, summary)
}

func TestGetMemorySummaryKeepsLastFiveMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 1; i <= 7; i++ {
		_, err := s.AddMessage(ctx, "u1", "c1", memory.RoleAssistant, fmt.Sprintf("reply %d", i), "")
		require.NoError(t, err)
	}

	summary, err := s.GetMemorySummary(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "Recent Conversation:\nAssistant: reply 3\n"))
	assert.NotContains(t, summary, "reply 2")
	assert.True(t, strings.HasSuffix(summary, "Assistant: reply 7"))
}

func TestImageDescriptionForUnknownChat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.AddImageDescription(ctx, "u1", "nope", "a cat"))

	chatID := "nope"
	notes, err := s.Notes(ctx, "u1", &chatID, NoteContext)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestListRenameAndDeleteChats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.AddMessage(ctx, "u1", "c1", memory.RoleUser, "I'm Maria and I love tea", "")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, "u1", "c2", memory.RoleUser, "hello", "")
	require.NoError(t, err)

	chats, err := s.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "c2", chats[0].ID, "most recent first")

	require.NoError(t, s.UpdateChatTitle(ctx, "u1", "c1", "Tea talk"))
	chat, err := s.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Tea talk", chat.Title)

	require.NoError(t, s.DeleteChat(ctx, "u1", "c1"))
	_, err = s.GetChat(ctx, "u1", "c1")
	assert.ErrorIs(t, err, ErrChatNotFound)

	history, err := s.GetChatHistory(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, history)

	chatID := "c1"
	chatNotes, err := s.Notes(ctx, "u1", &chatID, NoteFacts)
	require.NoError(t, err)
	assert.Empty(t, chatNotes)

	facts, err := s.Notes(ctx, "u1", nil, NoteFacts)
	require.NoError(t, err)
	assert.Equal(t, []string{"User's name is Maria"}, facts, "global notes survive chat deletion")
}
