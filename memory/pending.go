package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// MutationKind is the backend operation a pending entry replays.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
)

// PendingMutation is a backend write that has not been acknowledged.
type PendingMutation struct {
	Kind     MutationKind
	Item     MemoryItem
	Attempts int
	QueuedAt time.Time
}

// PendingLog holds failed backend writes until they can be replayed. Only
// the latest state of each memory is kept.
type PendingLog struct {
	maxRetries      uint64
	initialInterval time.Duration
	logger          zerolog.Logger

	mu      sync.Mutex
	order   []string
	entries map[string]*PendingMutation
}

// NewPendingLog creates an empty log. Each flush retries an entry up to
// maxRetries times with exponential backoff starting at initialInterval.
func NewPendingLog(maxRetries int, initialInterval time.Duration, logger zerolog.Logger) *PendingLog {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}
	return &PendingLog{
		maxRetries:      uint64(maxRetries),
		initialInterval: initialInterval,
		logger:          logger.With().Str("component", "pendingLog").Logger(),
		entries:         make(map[string]*PendingMutation),
	}
}

// Enqueue records a failed write. An update to a memory whose insert is
// still pending stays an insert carrying the newer state.
func (p *PendingLog) Enqueue(kind MutationKind, item MemoryItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.entries[item.ID]; ok {
		if existing.Kind == MutationInsert {
			kind = MutationInsert
		}
		existing.Kind = kind
		existing.Item = item
		return
	}
	p.entries[item.ID] = &PendingMutation{Kind: kind, Item: item, QueuedAt: time.Now()}
	p.order = append(p.order, item.ID)
}

// Len returns the number of pending entries.
func (p *PendingLog) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Snapshot returns the pending entries in queue order.
func (p *PendingLog) Snapshot() []PendingMutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingMutation, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.entries[id])
	}
	return out
}

// Flush replays pending writes against backend in queue order. Entries that
// still fail stay queued. It returns the number of entries applied and the
// last replay error.
func (p *PendingLog) Flush(ctx context.Context, backend Backend) (int, error) {
	pending := p.Snapshot()
	if len(pending) == 0 {
		return 0, nil
	}

	applied := 0
	var lastErr error
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		err := backoff.Retry(func() error {
			return p.replay(ctx, backend, entry)
		}, p.policy(ctx))
		if err != nil {
			lastErr = fmt.Errorf("replay %s of memory %s: %w", entry.Kind, entry.Item.ID, err)
			p.markAttempt(entry.Item.ID)
			p.logger.Warn().
				Str("method", "Flush").
				Str("memory_id", entry.Item.ID).
				Str("kind", string(entry.Kind)).
				Err(err).
				Msg("Pending mutation still failing")
			continue
		}
		p.remove(entry)
		applied++
	}

	p.logger.Info().
		Str("method", "Flush").
		Int("applied", applied).
		Int("remaining", p.Len()).
		Msg("Flushed pending memory mutations")
	return applied, lastErr
}

func (p *PendingLog) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval
	b.MaxInterval = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
}

func (p *PendingLog) replay(ctx context.Context, backend Backend, entry PendingMutation) error {
	switch entry.Kind {
	case MutationInsert:
		if err := backend.Insert(ctx, entry.Item); err != nil {
			return err
		}
		if err := backend.TouchStore(ctx, entry.Item.UserID, 1, time.Now()); err != nil {
			p.logger.Warn().Str("method", "replay").Str("user_id", entry.Item.UserID).Err(err).Msg("Failed to update memory store counters")
		}
		return nil
	case MutationUpdate:
		return backend.Update(ctx, entry.Item)
	default:
		return backoff.Permanent(fmt.Errorf("unknown mutation kind %q", entry.Kind))
	}
}

func (p *PendingLog) markAttempt(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		e.Attempts++
	}
}

// remove drops the entry unless it was replaced by a newer write during
// the flush.
func (p *PendingLog) remove(flushed PendingMutation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.entries[flushed.Item.ID]
	if !ok {
		return
	}
	if current.Kind != flushed.Kind || !current.Item.UpdatedAt.Equal(flushed.Item.UpdatedAt) || current.Item.IsActive != flushed.Item.IsActive || current.Item.Confidence != flushed.Item.Confidence {
		// Newer state arrived; the insert has landed so replay it as an update.
		current.Kind = MutationUpdate
		return
	}
	delete(p.entries, flushed.Item.ID)
	for i, id := range p.order {
		if id == flushed.Item.ID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
