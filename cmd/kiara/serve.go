package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/kiara-intelligence/kiara/runtime"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run memory consolidation and pending-write replay on a schedule",
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for db close errors

	scheduler, err := runtime.NewScheduler(a.memories,
		a.cfg.Memory.ConsolidationSchedule, a.cfg.Memory.PendingFlushSchedule, a.logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info().
		Str("consolidation_schedule", a.cfg.Memory.ConsolidationSchedule).
		Str("pending_flush_schedule", a.cfg.Memory.PendingFlushSchedule).
		Msg("Serving")
	scheduler.Start(ctx)
	return nil
}
