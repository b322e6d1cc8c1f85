package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Retry replays a previously recorded delivery attempt by id. The replay goes
// through the same dispatcher as the scheduled pipeline, so retry limits and
// error classification apply unchanged.
func (a *App) Retry(ctx context.Context, opts RetryOptions) error {
	attemptID, err := uuid.Parse(opts.AttemptID)
	if err != nil {
		return fmt.Errorf("invalid attempt id %q: %w", opts.AttemptID, err)
	}

	pipe, _, closer, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer closer()

	outcome, err := pipe.Replay(ctx, attemptID)
	if err != nil {
		return err
	}

	if outcome.Success {
		fmt.Fprintf(os.Stdout, "delivery succeeded after %d attempt(s)\n", outcome.Attempts)
		return nil
	}

	fmt.Fprintf(os.Stdout, "delivery failed after %d attempt(s): [%s] %s\n", outcome.Attempts, outcome.ErrorKind, outcome.FinalError)
	if outcome.CleanupToken {
		fmt.Fprintln(os.Stdout, "push target is defunct; the alert should be re-registered")
	}
	return nil
}
