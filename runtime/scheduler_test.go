package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiara-intelligence/kiara/memory"
	"github.com/kiara-intelligence/kiara/migrations"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreliableBackend rejects inserts while offline is set.
type unreliableBackend struct {
	*memory.SQLBackend
	mu      sync.Mutex
	offline bool
}

func (b *unreliableBackend) setOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

func (b *unreliableBackend) Insert(ctx context.Context, item memory.MemoryItem) error {
	b.mu.Lock()
	offline := b.offline
	b.mu.Unlock()
	if offline {
		return errors.New("database is locked")
	}
	return b.SQLBackend.Insert(ctx, item)
}

func newTestBackend(t *testing.T) *memory.SQLBackend {
	t.Helper()
	db, err := migrations.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return memory.NewSQLBackend(db, zerolog.Nop())
}

func newTestMemories(t *testing.T) *memory.Manager {
	t.Helper()
	pending := memory.NewPendingLog(0, time.Millisecond, zerolog.Nop())
	return memory.NewManager(newTestBackend(t), zerolog.Nop(), memory.WithPendingLog(pending))
}

func TestNewSchedulerValidates(t *testing.T) {
	_, err := NewScheduler(nil, "@every 1m", "", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewScheduler(newTestMemories(t), "bogus", "", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewScheduler(newTestMemories(t), "", "bogus", zerolog.Nop())
	assert.Error(t, err)
}

func TestRunConsolidation(t *testing.T) {
	ctx := context.Background()
	memories := newTestMemories(t)
	for _, user := range []string{"u1", "u2"} {
		_, err := memories.AddMemory(ctx, user, "User likes hiking a lot", memory.MemoryTypePreference, 0.6)
		require.NoError(t, err)
		_, err = memories.AddMemory(ctx, user, "User likes hiking trips", memory.MemoryTypePreference, 0.9)
		require.NoError(t, err)
	}

	s, err := NewScheduler(memories, "@every 15m", "@every 30s", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 2, s.RunConsolidation(ctx))
	assert.Equal(t, 0, s.RunConsolidation(ctx))
}

func TestFlushPendingWithNothingQueued(t *testing.T) {
	s, err := NewScheduler(newTestMemories(t), "", "@every 30s", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, s.FlushPending(context.Background()))
}

func TestStartStopsOnCancel(t *testing.T) {
	s, err := NewScheduler(newTestMemories(t), "@every 1h", "@every 1h", zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunShutdownReplaysFailedWrites(t *testing.T) {
	ctx := context.Background()
	backend := &unreliableBackend{SQLBackend: newTestBackend(t), offline: true}
	pending := memory.NewPendingLog(0, time.Millisecond, zerolog.Nop())
	memories := memory.NewManager(backend, zerolog.Nop(), memory.WithPendingLog(pending))

	s, err := NewScheduler(memories, "", "@every 1h", zerolog.Nop())
	require.NoError(t, err)
	shutdown := s.Run(ctx)

	item, err := memories.AddMemory(ctx, "u1", "User's name is Maria", memory.MemoryTypeFact, 0.9)
	require.NoError(t, err)
	require.Equal(t, 1, pending.Len())

	backend.setOffline(false)
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.Equal(t, 1, shutdown(flushCtx))
	assert.Zero(t, pending.Len())

	stored, err := backend.Query(ctx, memory.Filter{UserID: "u1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, item.ID, stored[0].ID)
}

func TestRunShutdownKeepsWritesThatStillFail(t *testing.T) {
	ctx := context.Background()
	backend := &unreliableBackend{SQLBackend: newTestBackend(t), offline: true}
	pending := memory.NewPendingLog(0, time.Millisecond, zerolog.Nop())
	memories := memory.NewManager(backend, zerolog.Nop(), memory.WithPendingLog(pending))

	s, err := NewScheduler(memories, "", "", zerolog.Nop())
	require.NoError(t, err)
	shutdown := s.Run(ctx)

	_, err = memories.AddMemory(ctx, "u1", "User likes tea", memory.MemoryTypePreference, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 0, shutdown(ctx))
	assert.Equal(t, 1, pending.Len())
}
