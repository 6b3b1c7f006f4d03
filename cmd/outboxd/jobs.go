package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-outbox/pkg/api"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List pending jobs in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		jobList, err := a.ob.Jobs(ctx)
		if err != nil {
			return err
		}
		views := make([]api.JobView, 0, len(jobList))
		for _, j := range jobList {
			views = append(views, api.NewJobView(j))
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
				v.CreatedAt.Local().Format(time.DateTime),
				truncate(v.LastError, 48),
			})
		}
		return writeTable(out, []string{"ID", "KIND", "TARGET", "ATTEMPTS", "CAPTURED", "LAST ERROR"}, rows)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Discard a pending job without executing it",
	Long: `Discard a pending job. Use this to unblock the queue when the backend keeps
rejecting the job at its head.`,
	Args: cobra.ExactArgs(1),
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

		job, err := a.ob.Job(ctx, id)
		if err != nil {
			return err
		}
		if err := a.ob.Discard(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed job %d (%s %s)\n", renderPass("✓"), job.ID, job.Kind, job.Target)
		return nil
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func init() {
	jobsCmd.Flags().StringP("format", "f", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(removeCmd)
}
