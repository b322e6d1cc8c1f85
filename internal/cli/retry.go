package cli

import (
	"github.com/spf13/cobra"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/app"
)

var retryCmd = &cobra.Command{
	Use:   "retry <attempt-id>",
	Short: "Replay a recorded delivery attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Retry(cmd.Context(), app.RetryOptions{AttemptID: args[0]})
	},
}
