package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kiara-intelligence/kiara/migrations"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *SQLBackend {
	t.Helper()
	db, err := migrations.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLBackend(db, zerolog.Nop())
}

func strPtr(s string) *string { return &s }

func testItem(id, userID, content string, conf float64) MemoryItem {
	now := time.UnixMilli(1_700_000_000_000)
	return MemoryItem{
		ID:         id,
		UserID:     userID,
		Content:    content,
		Type:       MemoryTypeFact,
		Category:   "personal",
		Confidence: conf,
		Source:     SourceUser,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSQLBackendInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	global := testItem("m1", "u1", "User's name is Maria", 0.9)
	global.Context = map[string]any{"source": "test"}
	scoped := testItem("m2", "u1", "I love hiking", 0.8)
	scoped.ChatID = strPtr("c1")
	scoped.Type = MemoryTypePreference
	other := testItem("m3", "u2", "User's name is Bob", 0.9)

	for _, item := range []MemoryItem{global, scoped, other} {
		require.NoError(t, b.Insert(ctx, item))
	}

	all, err := b.Query(ctx, Filter{UserID: "u1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m1", all[0].ID, "ordered by confidence")
	assert.Equal(t, "test", all[0].Context["source"])
	assert.True(t, all[0].CreatedAt.Equal(global.CreatedAt))

	chat, err := b.Query(ctx, Filter{UserID: "u1", ChatID: strPtr("c1")})
	require.NoError(t, err)
	require.Len(t, chat, 1)
	assert.Equal(t, "m2", chat[0].ID)
	require.NotNil(t, chat[0].ChatID)
	assert.Equal(t, "c1", *chat[0].ChatID)

	globals, err := b.Query(ctx, Filter{UserID: "u1", GlobalOnly: true})
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Nil(t, globals[0].ChatID)

	byID, err := b.Query(ctx, Filter{UserID: "u1", ID: "m2"})
	require.NoError(t, err)
	require.Len(t, byID, 1)

	confident, err := b.Query(ctx, Filter{UserID: "u1", MinConfidence: 0.85})
	require.NoError(t, err)
	assert.Len(t, confident, 1)
}

func TestSQLBackendUpdate(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	item := testItem("m1", "u1", "User's name is Maria", 0.5)
	require.NoError(t, b.Insert(ctx, item))

	item.Confidence = 0.95
	item.IsActive = false
	require.NoError(t, b.Update(ctx, item))

	active, err := b.Query(ctx, Filter{UserID: "u1", ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := b.Query(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 0.95, all[0].Confidence, 1e-9)
	assert.False(t, all[0].IsActive)

	assert.Error(t, b.Update(ctx, testItem("missing", "u1", "x", 0.1)))
}

func TestSQLBackendFindActiveByContent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Insert(ctx, testItem("m1", "u1", "I love Hiking", 0.8)))

	found, err := b.FindActiveByContent(ctx, "u1", "i love hiking")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "m1", found.ID)

	missing, err := b.FindActiveByContent(ctx, "u2", "i love hiking")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLBackendMemoryStore(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	now := time.UnixMilli(1_700_000_000_000)

	rec, err := b.GetStore(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	created, err := b.EnsureStore(ctx, "u1", now)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.EnsureStore(ctx, "u1", now)
	require.NoError(t, err)
	assert.False(t, created)

	later := now.Add(time.Minute)
	require.NoError(t, b.TouchStore(ctx, "u1", 2, later))

	rec, err = b.GetStore(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.MemoryCount)
	assert.True(t, rec.LastProcessed.Equal(later))
}

func TestSQLBackendStoreUsers(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	now := time.UnixMilli(1_700_000_000_000)

	users, err := b.StoreUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	for _, id := range []string{"zoe", "adam"} {
		_, err := b.EnsureStore(ctx, id, now)
		require.NoError(t, err)
	}
	users, err = b.StoreUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"adam", "zoe"}, users)
}
