package main

import (
	"context"
	"fmt"

	outbox "github.com/jdziat/durable-outbox"
	"github.com/jdziat/durable-outbox/pkg/backend/postgrest"
	"github.com/jdziat/durable-outbox/pkg/connectivity"
	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/scheduler"
	"github.com/jdziat/durable-outbox/pkg/storage"
	"github.com/jdziat/durable-outbox/pkg/syncer"
)

// app holds the components every subcommand works with.
type app struct {
	store  *storage.GormStorage
	client *postgrest.Client // nil in capture-only mode
	ob     *outbox.Outbox
}

func openApp(ctx context.Context) (*app, error) {
	store, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{store: store}
	var backend core.Backend
	if cfg.Backend.URL != "" {
		a.client, err = postgrest.New(cfg.Backend.URL,
			postgrest.WithAPIKey(cfg.Backend.APIKey),
			postgrest.WithTimeout(cfg.Backend.Timeout),
			postgrest.WithLogger(logger.Logger),
		)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		backend = a.client
	}

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger.Logger)}
	if cfg.Sync.Cron != "" {
		schedOpts = append(schedOpts, scheduler.WithCron(cfg.Sync.Cron))
	}

	a.ob = outbox.New(store, backend, outbox.Config{
		Logger: logger.Logger,
		Engine: []syncer.Option{
			syncer.MaxAttempts(cfg.Sync.MaxAttempts),
			syncer.CallTimeout(cfg.Sync.CallTimeout),
		},
		Scheduler: schedOpts,
	})
	return a, nil
}

// prober returns a prober for the backend, nil in capture-only mode.
func (a *app) prober() *connectivity.Prober {
	if a.client == nil {
		return nil
	}
	return connectivity.NewProber(a.client, a.ob.Monitor,
		connectivity.WithInterval(cfg.Probe.Interval),
		connectivity.WithTimeout(cfg.Probe.Timeout),
		connectivity.WithLogger(logger.Logger),
	)
}

// probe checks reachability once and updates the monitor.
func (a *app) probe(ctx context.Context) bool {
	p := a.prober()
	if p == nil {
		return false
	}
	return p.Probe(ctx)
}

func (a *app) Close() error {
	return a.store.Close()
}
