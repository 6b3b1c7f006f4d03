package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the outbox once and report the result",
	Long: `Probe the backend and, if it is reachable, replay pending jobs in
capture order. The pass stops at the first job that fails; that job stays at
the head of the queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if !a.probe(ctx) {
			a.ob.Scheduler.RefreshPending(ctx)
			fmt.Fprintln(out, renderState(a.ob.State()))
			fmt.Fprintf(out, "%s Backend unreachable; nothing synced\n", renderWarn("⚠"))
			return nil
		}

		fmt.Fprintf(out, "%s Syncing...\n", renderAccent("🔄"))
		start := time.Now()
		st, err := a.ob.SyncNow(ctx)
		if err != nil {
			return err
		}

		res := st.LastResult
		switch {
		case res == nil:
		case res.OK:
			fmt.Fprintf(out, "%s Synced %d job(s) in %v\n", renderPass("✓"), res.Processed, time.Since(start).Round(time.Millisecond))
		default:
			fmt.Fprintf(out, "%s Synced %d job(s), stopped: %s\n", renderWarn("⚠"), res.Processed, res.Reason)
		}
		fmt.Fprintln(out, renderState(st))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
