package cli

import (
	"github.com/spf13/cobra"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/app"
)

var deliveriesLimit int

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "List recent notification delivery attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Deliveries(cmd.Context(), app.DeliveriesOptions{Limit: deliveriesLimit})
	},
}

func init() {
	deliveriesCmd.Flags().IntVar(&deliveriesLimit, "limit", 20, "Maximum number of attempts to display")
}
