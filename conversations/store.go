package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/kiara-intelligence/kiara/memory"
	"github.com/rs/zerolog"
)

// ErrChatNotFound is returned for operations on a chat that does not exist.
var ErrChatNotFound = errors.New("chat not found")

// Store persists chats, their messages and the lightweight notes mined from
// user turns.
type Store struct {
	db        *sql.DB
	logger    zerolog.Logger
	extractor *memory.Extractor
	now       func() time.Time

	// appendMu serializes message appends so sequence numbers stay dense.
	appendMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock replaces time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store over a migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		db:        db,
		logger:    logger.With().Str("component", "conversationStore").Logger(),
		extractor: memory.NewExtractor(memory.NoteRules(), logger),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EnsureChat returns the chat, creating it with the default title when it
// does not exist yet. An empty model means dominator.
func (s *Store) EnsureChat(ctx context.Context, userID, chatID, model string) (Chat, error) {
	if model == "" {
		model = "dominator"
	}
	now := toMillis(s.now())
	queryStr, args, err := sq.Insert("chats").
		Options("OR IGNORE").
		Columns("id", "user_id", "title", "model", "created_at", "last_updated").
		Values(chatID, userID, DefaultChatTitle, model, now, now).
		ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return Chat{}, fmt.Errorf("ensure chat: %w", err)
	}
	return s.GetChat(ctx, userID, chatID)
}

// GetChat returns one chat of the user.
func (s *Store) GetChat(ctx context.Context, userID, chatID string) (Chat, error) {
	queryStr, args, err := sq.Select("id", "user_id", "title", "model", "created_at", "last_updated").
		From("chats").
		Where(sq.Eq{"id": chatID, "user_id": userID}).
		ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build query: %w", err)
	}
	chat, err := scanChat(s.db.QueryRowContext(ctx, queryStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrChatNotFound
	}
	return chat, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (Chat, error) {
	var (
		c                 Chat
		created, lastUpdt int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &created, &lastUpdt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, err
		}
		return Chat{}, fmt.Errorf("scan chat: %w", err)
	}
	c.CreatedAt = fromMillis(created)
	c.LastUpdated = fromMillis(lastUpdt)
	return c, nil
}

// ListChats returns the user's chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	queryStr, args, err := sq.Select("id", "user_id", "title", "model", "created_at", "last_updated").
		From("chats").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("last_updated DESC", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// UpdateChatTitle renames a chat. Unknown chats are left alone.
func (s *Store) UpdateChatTitle(ctx context.Context, userID, chatID, title string) error {
	queryStr, args, err := sq.Update("chats").
		Set("title", title).
		Set("last_updated", toMillis(s.now())).
		Where(sq.Eq{"id": chatID, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// DeleteChat removes a chat with its messages and chat-scoped notes.
func (s *Store) DeleteChat(ctx context.Context, userID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	deletes := []sq.DeleteBuilder{
		sq.Delete("messages").Where(sq.Eq{"chat_id": chatID, "user_id": userID}),
		sq.Delete("memory_notes").Where(sq.Eq{"chat_id": chatID, "user_id": userID}),
		sq.Delete("chats").Where(sq.Eq{"id": chatID, "user_id": userID}),
	}
	for _, d := range deletes {
		queryStr, args, err := d.ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.logger.Info().Str("method", "DeleteChat").Str("user_id", userID).Str("chat_id", chatID).Msg("Chat deleted")
	return nil
}

// AddMessage appends a finished message to the chat, creating the chat if
// needed. User turns are mined for notes.
func (s *Store) AddMessage(ctx context.Context, userID, chatID string, role memory.Role, content, imageURL string) (Message, error) {
	msg, err := s.appendMessage(ctx, Message{
		ChatID:   chatID,
		UserID:   userID,
		Role:     role,
		Content:  content,
		ImageURL: imageURL,
	})
	if err != nil {
		return Message{}, err
	}
	if role == memory.RoleUser {
		s.extractNotes(ctx, userID, chatID, content)
	}
	return msg, nil
}

// CreateStreamingMessage appends an assistant placeholder that is filled in
// by UpdateStreamingMessage.
func (s *Store) CreateStreamingMessage(ctx context.Context, userID, chatID, placeholder string) (Message, error) {
	return s.appendMessage(ctx, Message{
		ChatID:      chatID,
		UserID:      userID,
		Role:        memory.RoleAssistant,
		Content:     placeholder,
		IsStreaming: true,
	})
}

// UpdateStreamingMessage replaces the content of a streaming message. done
// clears the streaming flag; isError marks a failed response.
func (s *Store) UpdateStreamingMessage(ctx context.Context, messageID, content string, done, isError bool) error {
	queryStr, args, err := sq.Update("messages").
		Set("content", content).
		Set("is_streaming", boolToInt(!done)).
		Set("is_error", boolToInt(isError)).
		Set("updated_at", toMillis(s.now())).
		Where(sq.Eq{"id": messageID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update message %s: no such message", messageID)
	}
	return nil
}

func (s *Store) appendMessage(ctx context.Context, msg Message) (Message, error) {
	if _, err := s.EnsureChat(ctx, msg.UserID, msg.ChatID, ""); err != nil {
		return Message{}, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	seqQuery, seqArgs, err := sq.Select("COALESCE(MAX(seq), 0)").
		From("messages").
		Where(sq.Eq{"chat_id": msg.ChatID}).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build query: %w", err)
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx, seqQuery, seqArgs...).Scan(&seq); err != nil {
		return Message{}, fmt.Errorf("next message sequence: %w", err)
	}

	now := s.now()
	msg.ID = uuid.NewString()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	var imageURL any
	if msg.ImageURL != "" {
		imageURL = msg.ImageURL
	}
	queryStr, args, err := sq.Insert("messages").
		Columns("id", "chat_id", "user_id", "role", "content", "image_url", "is_streaming", "is_error", "created_at", "updated_at", "seq").
		Values(msg.ID, msg.ChatID, msg.UserID, string(msg.Role), msg.Content, imageURL,
			boolToInt(msg.IsStreaming), boolToInt(msg.IsError), toMillis(now), toMillis(now), seq+1).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	touchQuery, touchArgs, err := sq.Update("chats").
		Set("last_updated", toMillis(now)).
		Where(sq.Eq{"id": msg.ChatID}).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, touchQuery, touchArgs...); err != nil {
		s.logger.Warn().Str("method", "appendMessage").Str("chat_id", msg.ChatID).Err(err).Msg("Failed to touch chat")
	}

	s.logger.Debug().
		Str("method", "appendMessage").
		Str("chat_id", msg.ChatID).
		Str("role", string(msg.Role)).
		Str("message_id", msg.ID).
		Msg("Message stored")
	return msg, nil
}

// GetChatHistory returns the chat's messages in order.
func (s *Store) GetChatHistory(ctx context.Context, userID, chatID string) ([]Message, error) {
	queryStr, args, err := sq.Select("id", "chat_id", "user_id", "role", "content", "image_url",
		"is_streaming", "is_error", "created_at", "updated_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID, "user_id": userID}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []Message
	for rows.Next() {
		var (
			m                  Message
			role               string
			imageURL           sql.NullString
			streaming, isErr   int
			created, updatedAt int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &role, &m.Content, &imageURL,
			&streaming, &isErr, &created, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = memory.Role(role)
		m.ImageURL = imageURL.String
		m.IsStreaming = streaming != 0
		m.IsError = isErr != 0
		m.CreatedAt = fromMillis(created)
		m.UpdatedAt = fromMillis(updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
