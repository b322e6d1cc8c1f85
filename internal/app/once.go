package app

import (
	"context"
	"time"
)

// Once executes a single evaluation run and flushes all queued state before
// returning. Useful for cron-style deployments and smoke testing.
func (a *App) Once(ctx context.Context) error {
	pipe, cache, closer, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer closer()

	stats, err := pipe.Run(ctx)
	if err != nil {
		return err
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	flushed := cache.Flush(flushCtx, 0)
	cancel()

	a.Logger.Info().
		Str("run_id", stats.RunID).
		Int("alerts", stats.Alerts).
		Int("priced", stats.Priced).
		Int("notified", stats.Notified).
		Int("dispatched", stats.Dispatched).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("flushed", stats.Flushed+flushed).
		Bool("aborted", stats.Aborted).
		Msg("single evaluation run completed")
	return nil
}
