package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/evanofslack/dnsup/internal/app"
	"github.com/evanofslack/dnsup/internal/config"
	"github.com/evanofslack/dnsup/internal/daemon"
	"github.com/evanofslack/dnsup/internal/logger"
	"github.com/evanofslack/dnsup/internal/metrics"
	"github.com/evanofslack/dnsup/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if flags.Version {
		config.ShowVersion()
		return 0
	}

	if flags.Password == "-" {
		password, err := promptPassword()
		if err != nil {
			fmt.Fprintln(os.Stderr, "read password:", err)
			return 1
		}
		flags.Password = password
	}

	load := func() (*config.Config, error) {
		cfg, err := config.Load(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		if err := flags.Apply(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// Loaded once up front for logging and mode selection. Every invocation
	// loads again so edits take effect without a restart.
	cfg, err := load()
	if err != nil {
		logger.Configure("info", "prod")
		slog.Error("Failed to load config", "error", err)
		return 1
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	m := metrics.New(true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Daemon.Enabled() {
		report, err := app.Invoke(ctx, load, m)
		if err != nil {
			slog.Error("Invocation failed", "error", err)
			return 1
		}
		return report.ExitCode()
	}

	var watchPath string
	if cfg.Daemon.Watch == nil || *cfg.Daemon.Watch {
		watchPath = cfg.Path
	}
	d, err := daemon.New(daemon.Options{
		Invoke: func(ctx context.Context) (orchestrator.Report, error) {
			return app.Invoke(ctx, load, m)
		},
		Interval:    cfg.Daemon.Interval.Std(),
		Schedule:    cfg.Daemon.Schedule,
		MetricsAddr: cfg.Daemon.MetricsAddr,
		Metrics:     m,
		ConfigPath:  watchPath,
	})
	if err != nil {
		slog.Error("Failed to start daemon", "error", err)
		return 1
	}
	if err := d.Serve(ctx); err != nil {
		slog.Error("Daemon failed", "error", err)
		return 1
	}
	return 0
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
