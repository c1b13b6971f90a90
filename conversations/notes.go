package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/kiara-intelligence/kiara/memory"
	"github.com/samber/lo"
)

const (
	recentMessages     = 5
	summaryContentSize = 100
	imageNotePrefix    = "Image described as: "
)

// noteScope selects global notes (chatID nil) or the notes of one chat.
func noteScope(userID string, chatID *string) sq.Eq {
	return sq.Eq{"user_id": userID, "chat_id": nullableString(chatID)}
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// extractNotes mines a user turn. Names replace the earlier name both
// globally and in the chat, preferences are kept globally and per chat,
// and background clauses stay with the chat.
func (s *Store) extractNotes(ctx context.Context, userID, chatID, content string) {
	for _, c := range s.extractor.Extract(content, memory.RoleUser) {
		var err error
		switch {
		case c.Slot != "":
			if err = s.replaceSlotNote(ctx, userID, nil, NoteFacts, c.Slot, c.Content); err == nil {
				err = s.replaceSlotNote(ctx, userID, &chatID, NoteFacts, c.Slot, c.Content)
			}
		case c.Type == memory.MemoryTypePreference:
			if err = s.addNote(ctx, userID, nil, NotePreferences, c.Content); err == nil {
				err = s.addNote(ctx, userID, &chatID, NotePreferences, c.Content)
			}
		default:
			err = s.addNote(ctx, userID, &chatID, NoteContext, c.Content)
		}
		if err != nil {
			s.logger.Error().
				Str("method", "extractNotes").
				Str("user_id", userID).
				Str("chat_id", chatID).
				Str("rule", c.Rule).
				Err(err).
				Msg("Failed to store chat note")
		}
	}
}

// addNote appends a note unless the same note already exists in scope.
func (s *Store) addNote(ctx context.Context, userID string, chatID *string, kind NoteKind, content string) error {
	existing, err := s.Notes(ctx, userID, chatID, kind)
	if err != nil {
		return err
	}
	if lo.Contains(existing, content) {
		return nil
	}
	queryStr, args, err := sq.Insert("memory_notes").
		Columns("user_id", "chat_id", "kind", "slot", "content", "created_at").
		Values(userID, nullableString(chatID), string(kind), "", content, toMillis(s.now())).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// replaceSlotNote drops the notes filling slot in scope and stores content.
func (s *Store) replaceSlotNote(ctx context.Context, userID string, chatID *string, kind NoteKind, slot, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	scope := noteScope(userID, chatID)
	scope["kind"] = string(kind)
	scope["slot"] = slot
	delQuery, delArgs, err := sq.Delete("memory_notes").Where(scope).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("delete slot note: %w", err)
	}

	insQuery, insArgs, err := sq.Insert("memory_notes").
		Columns("user_id", "chat_id", "kind", "slot", "content", "created_at").
		Values(userID, nullableString(chatID), string(kind), slot, content, toMillis(s.now())).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
		return fmt.Errorf("insert slot note: %w", err)
	}
	return tx.Commit()
}

// Notes returns the notes of one kind in scope, oldest first. A nil chatID
// selects the user's global notes.
func (s *Store) Notes(ctx context.Context, userID string, chatID *string, kind NoteKind) ([]string, error) {
	scope := noteScope(userID, chatID)
	scope["kind"] = string(kind)
	queryStr, args, err := sq.Select("content").
		From("memory_notes").
		Where(scope).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// AddImageDescription records what an image showed as chat context.
// Unknown chats are ignored.
func (s *Store) AddImageDescription(ctx context.Context, userID, chatID, description string) error {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return nil
		}
		return err
	}
	return s.addNote(ctx, userID, &chatID, NoteContext, imageNotePrefix+description)
}

// GetMemorySummary renders the user's notes and the chat's latest messages
// for the system prompt. It is empty for unknown chats.
func (s *Store) GetMemorySummary(ctx context.Context, userID, chatID string) (string, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return "", nil
		}
		return "", err
	}

	facts, err := s.Notes(ctx, userID, nil, NoteFacts)
	if err != nil {
		return "", err
	}
	prefs, err := s.Notes(ctx, userID, nil, NotePreferences)
	if err != nil {
		return "", err
	}
	chatContext, err := s.Notes(ctx, userID, &chatID, NoteContext)
	if err != nil {
		return "", err
	}
	history, err := s.GetChatHistory(ctx, userID, chatID)
	if err != nil {
		return "", err
	}

	var lines []string
	if len(facts) > 0 {
		lines = append(lines, "User Facts: "+strings.Join(facts, ", "))
	}
	if len(prefs) > 0 {
		lines = append(lines, "User Preferences: "+strings.Join(prefs, ", "))
	}
	if len(chatContext) > 0 {
		lines = append(lines, "Chat Context: "+strings.Join(chatContext, ", "))
	}
	if recent := lo.Subset(history, -recentMessages, recentMessages); len(recent) > 0 {
		lines = append(lines, "Recent Conversation:")
		for _, m := range recent {
			speaker := "Assistant"
			if m.Role == memory.RoleUser {
				speaker = "User"
			}
			lines = append(lines, speaker+": "+truncate(m.Content, summaryContentSize))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
