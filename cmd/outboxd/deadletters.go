package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-outbox/pkg/api"
)

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Aliases: []string{"dlq"},
	Short:   "Inspect and resolve dead-lettered jobs",
	Long: `Jobs that fail sync.max_attempts consecutive drain passes move to the
dead-letter store so later jobs can proceed. Dead-lettering is off when
sync.max_attempts is 0.`,
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs, oldest failure first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ob.DeadLetters(ctx, limit)
		if err != nil {
			return err
		}
		views := make([]api.DeadLetterView, 0, len(list))
		for _, d := range list {
			views = append(views, api.NewDeadLetterView(d))
		}

		out := cmd.OutOrStdout()
		switch format {
		case formatJSON:
			return writeJSON(out, views)
		case formatYAML:
			return writeYAML(out, views)
		}

		rows := make([][]string, 0, len(views))
		for _, v := range views {
			rows = append(rows, []string{
				strconv.FormatInt(v.ID, 10),
				string(v.Kind),
				v.Target,
				strconv.Itoa(v.Attempts),
				v.FailedAt.Local().Format(time.DateTime),
				truncate(v.Reason, 48),
			})
		}
		return writeTable(out, []string{"ID", "KIND", "TARGET", "ATTEMPTS", "FAILED", "REASON"}, rows)
	},
}

var deadLettersRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Move a dead-lettered job back to the tail of the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.ob.RequeueDeadLetter(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Requeued as job %d\n", renderPass("✓"), job.ID)
		return nil
	},
}

var deadLettersPurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Delete a dead-lettered job permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ob.PurgeDeadLetter(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Purged dead letter %d\n", renderPass("✓"), id)
		return nil
	},
}

func init() {
	deadLettersListCmd.Flags().StringP("format", "f", formatTable, "output format: table, json or yaml")
	deadLettersListCmd.Flags().Int("limit", 100, "maximum entries to show")

	deadLettersCmd.AddCommand(deadLettersListCmd, deadLettersRequeueCmd, deadLettersPurgeCmd)
	rootCmd.AddCommand(deadLettersCmd)
}
