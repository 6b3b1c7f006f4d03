// Command outboxd captures backend writes in a local outbox and replays them
// when the backend is reachable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jdziat/durable-outbox/pkg/config"
	"github.com/jdziat/durable-outbox/pkg/logging"
)

var (
	configFile string
	envFile    string

	loader *config.Loader
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "outboxd",
	Short: "Durable write-outbox for a PostgREST backend",
	Long: `outboxd keeps an ordered, durable queue of backend mutations.

Writes made while the backend is unreachable are captured locally and replayed
in capture order once connectivity returns. A job the backend rejects stays at
the head of the queue until it succeeds on a later sync or is removed by hand.

Configuration comes from outboxd.yaml (or --config), a .env file and OUTBOX_*
environment variables, e.g. OUTBOX_BACKEND_URL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		loader, err = config.NewLoader(configFile, config.WithEnvFile(envFile))
		if err != nil {
			return err
		}
		cfg, err = loader.Load()
		if err != nil {
			return err
		}
		logger, err = logging.New(logging.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		}, os.Stderr)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./outboxd.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("✗"), err)
		os.Exit(1)
	}
}
