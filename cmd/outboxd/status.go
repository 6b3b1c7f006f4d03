package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and the number of pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.probe(ctx)
		a.ob.Scheduler.RefreshPending(ctx)
		st := a.ob.State()

		dead, err := a.store.CountDeadLetters(ctx)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), struct {
				IsOnline    bool  `json:"isOnline"`
				Pending     int64 `json:"pending"`
				DeadLetters int64 `json:"deadLetters"`
			}{st.IsOnline, st.Pending, dead})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderState(st))
		if a.client == nil {
			fmt.Fprintf(out, "%s backend.url not set; capturing only\n", renderWarn("⚠"))
		}
		if dead > 0 {
			fmt.Fprintf(out, "%s %d dead-lettered job(s); see 'outboxd dead-letters'\n", renderWarn("⚠"), dead)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print machine-readable output")
	rootCmd.AddCommand(statusCmd)
}
