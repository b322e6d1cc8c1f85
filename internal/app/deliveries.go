package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Deliveries prints recent delivery attempts.
func (a *App) Deliveries(ctx context.Context, opts DeliveriesOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list deliveries")
	}
	if closeStore != nil {
		defer closeStore()
	}

	attempts, err := store.ListRecentDeliveryAttempts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(os.Stdout, "no delivery attempts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tID\tAlert\tSymbol\tPrice\tStatus\tTries\tError")

	for _, attempt := range attempts {
		errMsg := ""
		if attempt.Error != nil {
			errMsg = sanitizeInline(*attempt.Error)
		}
		if attempt.ErrorKind != nil {
			errMsg = fmt.Sprintf("[%s] %s", *attempt.ErrorKind, errMsg)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			attempt.CreatedAt.UTC().Format(time.RFC3339),
			attempt.ID,
			attempt.AlertID,
			attempt.Symbol,
			formatDecimal(attempt.Price, 2),
			attempt.Status,
			attempt.Attempts,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
