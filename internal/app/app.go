// Package app assembles the resolver, state store, orchestrator and notifiers
// from a configuration and runs one invocation with them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/evanofslack/dnsup/internal/config"
	"github.com/evanofslack/dnsup/internal/metrics"
	"github.com/evanofslack/dnsup/internal/notify"
	"github.com/evanofslack/dnsup/internal/orchestrator"
	"github.com/evanofslack/dnsup/internal/resolver"
	"github.com/evanofslack/dnsup/internal/state"

	_ "github.com/evanofslack/dnsup/internal/provider/all"
)

type App struct {
	cfg      *config.Config
	store    state.Store
	engine   *orchestrator.Engine
	notifier notify.Notifier
}

// Loader returns the effective configuration for one invocation.
type Loader func() (*config.Config, error)

// New validates cfg and builds every component. The caller must Close the
// returned App to release the state store.
func New(cfg *config.Config, m *metrics.Metrics) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New(false)
	}

	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Resolver.Timeout.Std()

	specs := make([]resolver.Spec, 0, len(cfg.Resolver.Sources))
	for _, s := range cfg.Resolver.Sources {
		specs = append(specs, resolver.Spec{Kind: s.Kind, Value: s.Value})
	}
	sources, err := resolver.NewSources(specs, hc, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("build ip sources: %w", err)
	}
	res := resolver.New(sources, resolver.Options{
		Timeout:      cfg.Resolver.Timeout.Std(),
		TotalTimeout: cfg.Resolver.TotalTimeout.Std(),
		Metrics:      m,
	})

	store, err := state.Open(cfg.State.Backend, cfg.State.Path, m)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	engine := orchestrator.New(orchestrator.Options{
		Store:            store,
		Resolver:         res,
		Metrics:          m,
		Override:         cfg.Override(),
		Force:            cfg.Force,
		DryRun:           cfg.DryRun,
		MinInterval:      cfg.MinInterval.Std(),
		MaxInterval:      cfg.MaxInterval.Std(),
		MinErrorInterval: cfg.MinErrorInterval.Std(),
		Concurrency:      cfg.Concurrency,
	})

	notifyClient := cleanhttp.DefaultPooledClient()
	notifyClient.Timeout = cfg.ProviderTimeout.Std()

	return &App{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		notifier: notify.New(cfg.Notify, notifyClient, cfg.UserAgent),
	}, nil
}

// Jobs turns the configured targets into orchestrator jobs.
func Jobs(cfg *config.Config) []orchestrator.Job {
	jobs := make([]orchestrator.Job, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		jobs = append(jobs, orchestrator.Job{
			Protocol: t.Protocol,
			Settings: t.Settings(cfg.UserAgent, cfg.ProviderTimeout.Std()),
			Hosts:    t.Hosts,
		})
	}
	return jobs
}

// RunOnce performs one invocation and notifies about its result. Notification
// failures are logged and do not affect the report.
func (a *App) RunOnce(ctx context.Context) orchestrator.Report {
	report := a.engine.Run(ctx, Jobs(a.cfg))
	if a.notifier != nil {
		if err := a.notifier.Notify(ctx, report); err != nil {
			slog.Warn("Failed to send notification", "run", report.RunID, "error", err)
		}
	}
	return report
}

func (a *App) Close() error {
	return a.store.Close()
}

// Invoke loads the configuration, runs once and releases every resource.
func Invoke(ctx context.Context, load Loader, m *metrics.Metrics) (orchestrator.Report, error) {
	cfg, err := load()
	if err != nil {
		return orchestrator.Report{}, err
	}
	a, err := New(cfg, m)
	if err != nil {
		return orchestrator.Report{}, err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close state store", "error", err)
		}
	}()
	return a.RunOnce(ctx), nil
}
