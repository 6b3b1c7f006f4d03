package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	outbox "github.com/jdziat/durable-outbox"
	"github.com/jdziat/durable-outbox/pkg/queue"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a mutation, capturing it when the backend is unreachable",
	Long: `Submit an RPC call or a record insert.

When the backend is reachable the mutation runs immediately. When it is not,
or with --defer, the mutation is captured and replayed by the next sync.

Examples:
  outboxd enqueue rpc create_batch '{"size": 20}'
  outboxd enqueue insert haccp_cleaning '{"area": "kitchen"}' --defer`,
}

var enqueueRPCCmd = &cobra.Command{
	Use:   "rpc <function> [json-args]",
	Short: "Invoke a remote procedure",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw string
		if len(args) == 2 {
			raw = args[1]
		}
		return submit(cmd, outbox.RPC{Fn: args[0]}, raw)
	},
}

var enqueueInsertCmd = &cobra.Command{
	Use:   "insert <table> <json-payload>",
	Short: "Insert a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, outbox.Insert{Table: args[0]}, args[1])
	},
}

func submit(cmd *cobra.Command, m outbox.Mutation, raw string) error {
	values, err := parseObject(raw)
	if err != nil {
		return err
	}
	switch v := m.(type) {
	case outbox.RPC:
		v.Args = values
		m = v
	case outbox.Insert:
		v.Payload = values
		m = v
	}

	var opts []queue.Option
	deferred, _ := cmd.Flags().GetBool("defer")
	if deferred {
		opts = append(opts, queue.Defer())
	}
	if key, _ := cmd.Flags().GetString("key"); key != "" {
		opts = append(opts, queue.IdempotencyKey(key))
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !deferred {
		a.probe(ctx)
	}

	res, err := a.ob.Submit(ctx, m, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Queued {
		fmt.Fprintf(out, "%s Captured as job %d; it will be replayed on the next sync\n", renderWarn("⏸"), res.JobID)
		return nil
	}
	fmt.Fprintf(out, "%s %s %s executed\n", renderPass("✓"), m.Kind(), m.Target())
	return nil
}

func parseObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return values, nil
}

func init() {
	for _, c := range []*cobra.Command{enqueueRPCCmd, enqueueInsertCmd} {
		c.Flags().Bool("defer", false, "capture without trying the backend")
		c.Flags().String("key", "", "idempotency key (default: generated)")
		enqueueCmd.AddCommand(c)
	}
	rootCmd.AddCommand(enqueueCmd)
}
