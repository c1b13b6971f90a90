package runtime

import (
	"context"
	"fmt"

	"github.com/kiara-intelligence/kiara/memory"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Scheduler runs the memory maintenance jobs: consolidation across every
// known user and replay of pending backend writes.
type Scheduler struct {
	memories      *memory.Manager
	consolidation cron.Schedule
	flush         cron.Schedule
	logger        zerolog.Logger
}

// NewScheduler creates a scheduler. An empty schedule disables its job.
func NewScheduler(memories *memory.Manager, consolidationSchedule, flushSchedule string, logger zerolog.Logger) (*Scheduler, error) {
	if memories == nil {
		return nil, fmt.Errorf("memory manager cannot be nil")
	}
	s := &Scheduler{
		memories: memories,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
	var err error
	if consolidationSchedule != "" {
		if s.consolidation, err = ParseSchedule(consolidationSchedule); err != nil {
			return nil, fmt.Errorf("invalid consolidation schedule: %w", err)
		}
	}
	if flushSchedule != "" {
		if s.flush, err = ParseSchedule(flushSchedule); err != nil {
			return nil, fmt.Errorf("invalid pending flush schedule: %w", err)
		}
	}
	return s, nil
}

// Start runs the jobs until ctx is cancelled, then waits for running jobs
// to finish.
func (s *Scheduler) Start(ctx context.Context) {
	clog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if s.consolidation != nil {
		c.Schedule(s.consolidation, cron.FuncJob(func() { s.RunConsolidation(ctx) }))
	}
	if s.flush != nil && s.memories.Pending() != nil {
		c.Schedule(s.flush, cron.FuncJob(func() { s.FlushPending(ctx) }))
	}

	s.logger.Info().Int("jobs", len(c.Entries())).Msg("Starting scheduler")
	c.Start()

	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped: context cancelled")
	<-c.Stop().Done()
}

// Run starts the jobs in the background. The returned shutdown stops them
// and makes a final pass over pending writes bounded by its ctx, returning
// how many landed in that pass.
func (s *Scheduler) Run(ctx context.Context) (shutdown func(context.Context) int) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(runCtx)
	}()
	return func(flushCtx context.Context) int {
		cancel()
		<-done
		return s.FlushPending(flushCtx)
	}
}

// RunConsolidation consolidates the memories of every known user and
// returns the number of memories invalidated.
func (s *Scheduler) RunConsolidation(ctx context.Context) int {
	n := s.memories.ConsolidateAll(ctx)
	if n > 0 {
		s.logger.Info().Int("invalidated", n).Msg("Scheduled consolidation finished")
	}
	return n
}

// FlushPending replays queued backend writes and returns how many landed.
func (s *Scheduler) FlushPending(ctx context.Context) int {
	pending := s.memories.Pending()
	if pending == nil || pending.Len() == 0 {
		return 0
	}
	applied, err := pending.Flush(ctx, s.memories.Backend())
	if err != nil {
		s.logger.Warn().Err(err).Int("applied", applied).Int("remaining", pending.Len()).Msg("Pending flush incomplete")
	}
	return applied
}
