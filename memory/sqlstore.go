package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// SQLBackend persists memories in SQLite. Timestamps are stored as Unix
// milliseconds.
type SQLBackend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLBackend creates a backend over a migrated database.
func NewSQLBackend(db *sql.DB, logger zerolog.Logger) *SQLBackend {
	return &SQLBackend{
		db:     db,
		logger: logger.With().Str("component", "memory_backend").Logger(),
	}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func encodeContext(ctx map[string]any) (any, error) {
	if ctx == nil {
		return nil, nil
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("marshal memory context: %w", err)
	}
	return string(raw), nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Insert implements Backend.
func (b *SQLBackend) Insert(ctx context.Context, item MemoryItem) error {
	memCtx, err := encodeContext(item.Context)
	if err != nil {
		return err
	}

	query := StatementBuilder().
		Insert("memories").
		Columns(SelectMemoriesColumns()...).
		Values(item.ID, item.UserID, nullableString(item.ChatID), item.Content, string(item.Type),
			item.Category, item.Confidence, item.Source, boolToInt(item.IsActive), memCtx,
			toMillis(item.CreatedAt), toMillis(item.UpdatedAt))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, queryStr, args...); err != nil {
		b.logger.Error().
			Str("method", "Insert").
			Str("memory_id", item.ID).
			Err(err).
			Msg("Failed to insert memory")
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Update implements Backend. It rewrites the mutable columns of the row.
func (b *SQLBackend) Update(ctx context.Context, item MemoryItem) error {
	memCtx, err := encodeContext(item.Context)
	if err != nil {
		return err
	}

	query := StatementBuilder().
		Update("memories").
		Set("content", item.Content).
		Set("category", item.Category).
		Set("confidence", item.Confidence).
		Set("is_active", boolToInt(item.IsActive)).
		Set("memory_context", memCtx).
		Set("updated_at", toMillis(item.UpdatedAt)).
		Where(sq.Eq{"id": item.ID, "user_id": item.UserID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}
	res, err := b.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		b.logger.Error().
			Str("method", "Update").
			Str("memory_id", item.ID).
			Err(err).
			Msg("Failed to update memory")
		return fmt.Errorf("update memory: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update memory %s: no such row", item.ID)
	}
	return nil
}

// Query implements Backend.
func (b *SQLBackend) Query(ctx context.Context, f Filter) ([]MemoryItem, error) {
	query := applyFilter(StatementBuilder().Select(SelectMemoriesColumns()...).From("memories"), f)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []MemoryItem
	for rows.Next() {
		item, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	b.logger.Debug().
		Str("method", "Query").
		Str("user_id", f.UserID).
		Int("results", len(out)).
		Msg("Queried memories")
	return out, nil
}

// FindActiveByContent implements Backend.
func (b *SQLBackend) FindActiveByContent(ctx context.Context, userID, content string) (*MemoryItem, error) {
	query := StatementBuilder().
		Select(SelectMemoriesColumns()...).
		From("memories").
		Where(sq.Eq{"user_id": userID, "is_active": 1}).
		Where(sq.Expr("content = ? COLLATE NOCASE", content)).
		OrderBy("confidence DESC").
		Limit(1)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}
	row := b.db.QueryRowContext(ctx, queryStr, args...)
	item, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(s scanner) (MemoryItem, error) {
	var (
		item      MemoryItem
		chatID    sql.NullString
		typ       string
		active    int
		memCtx    sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := s.Scan(&item.ID, &item.UserID, &chatID, &item.Content, &typ, &item.Category,
		&item.Confidence, &item.Source, &active, &memCtx, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MemoryItem{}, err
		}
		return MemoryItem{}, fmt.Errorf("scan memory: %w", err)
	}
	if chatID.Valid {
		id := chatID.String
		item.ChatID = &id
	}
	item.Type = MemoryType(typ)
	item.IsActive = active != 0
	if memCtx.Valid && memCtx.String != "" {
		if err := json.Unmarshal([]byte(memCtx.String), &item.Context); err != nil {
			return MemoryItem{}, fmt.Errorf("unmarshal memory context: %w", err)
		}
	}
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return item, nil
}

// EnsureStore implements Backend.
func (b *SQLBackend) EnsureStore(ctx context.Context, userID string, now time.Time) (bool, error) {
	queryStr, args, err := StatementBuilder().
		Insert("memory_stores").
		Options("OR IGNORE").
		Columns("user_id", "memory_count", "last_processed").
		Values(userID, 0, toMillis(now)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert query: %w", err)
	}
	res, err := b.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return false, fmt.Errorf("ensure memory store: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure memory store: %w", err)
	}
	return n > 0, nil
}

// GetStore implements Backend. It returns nil when the user has no store.
func (b *SQLBackend) GetStore(ctx context.Context, userID string) (*MemoryStoreRecord, error) {
	queryStr, args, err := StatementBuilder().
		Select("user_id", "memory_count", "last_processed").
		From("memory_stores").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	var (
		rec  MemoryStoreRecord
		last int64
	)
	err = b.db.QueryRowContext(ctx, queryStr, args...).Scan(&rec.UserID, &rec.MemoryCount, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory store: %w", err)
	}
	rec.LastProcessed = fromMillis(last)
	return &rec, nil
}

// TouchStore implements Backend.
func (b *SQLBackend) TouchStore(ctx context.Context, userID string, delta int, now time.Time) error {
	queryStr, args, err := StatementBuilder().
		Update("memory_stores").
		Set("memory_count", sq.Expr("memory_count + ?", delta)).
		Set("last_processed", toMillis(now)).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("touch memory store: %w", err)
	}
	return nil
}

// StoreUsers implements Backend.
func (b *SQLBackend) StoreUsers(ctx context.Context) ([]string, error) {
	queryStr, args, err := StatementBuilder().
		Select("user_id").
		From("memory_stores").
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory stores: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan memory store: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory stores: %w", err)
	}
	return users, nil
}

var _ Backend = (*SQLBackend)(nil)
