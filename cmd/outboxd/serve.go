package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/durable-outbox/pkg/api"
	"github.com/jdziat/durable-outbox/pkg/config"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connectivity prober, sync scheduler and status API",
	Long: `Run outboxd in the foreground.

The prober polls the backend every probe.interval. Each offline→online
transition drains the outbox; sync.cron adds a periodic drain. The HTTP API on
http.addr exposes:

  GET    /status                       sync state
  POST   /sync[?wait=true]             request a drain
  GET    /jobs                         pending jobs in replay order
  GET    /jobs/{id}
  DELETE /jobs/{id}                    discard a pending job
  GET    /dead-letters
  POST   /dead-letters/{id}/requeue
  DELETE /dead-letters/{id}

Editing the config file changes log.level without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		loader.Watch(func(c *config.Config) {
			if err := logger.SetLevel(c.Log.Level); err != nil {
				logger.Warn("ignoring log level change", "error", err)
			}
		})

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.NewServer(a.ob.Queue, a.ob.Scheduler, api.WithLogger(logger.Logger)),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		if p := a.prober(); p != nil {
			g.Go(func() error { return ignoreCanceled(p.Start(gctx)) })
		} else {
			logger.Warn("backend.url not set; capturing only")
		}

		g.Go(func() error { return ignoreCanceled(a.ob.Start(gctx)) })

		g.Go(func() error {
			logger.Info("status API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		logger.Info("outboxd stopped")
		return err
	},
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
