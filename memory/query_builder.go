package memory

import (
	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// SelectMemoriesColumns returns the standard column list for memories SELECT queries.
func SelectMemoriesColumns() []string {
	return []string{
		"id", "user_id", "chat_id", "content", "type", "category",
		"confidence", "source", "is_active", "memory_context",
		"created_at", "updated_at",
	}
}

// applyFilter adds the WHERE, ORDER BY and LIMIT clauses for f.
func applyFilter(q sq.SelectBuilder, f Filter) sq.SelectBuilder {
	q = q.Where(sq.Eq{"user_id": f.UserID})
	if f.ID != "" {
		q = q.Where(sq.Eq{"id": f.ID})
	}
	switch {
	case f.ChatID != nil:
		q = q.Where(sq.Eq{"chat_id": *f.ChatID})
	case f.GlobalOnly:
		q = q.Where(sq.Eq{"chat_id": nil})
	}
	if f.ActiveOnly {
		q = q.Where(sq.Eq{"is_active": 1})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": string(f.Type)})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": f.Category})
	}
	if f.ExcludeCategory != "" {
		q = q.Where(sq.NotEq{"category": f.ExcludeCategory})
	}
	if f.MinConfidence > 0 {
		q = q.Where(sq.GtOrEq{"confidence": f.MinConfidence})
	}
	q = q.OrderBy("confidence DESC", "updated_at DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}
