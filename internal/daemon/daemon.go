// Package daemon keeps dnsup running: it re-invokes the updater on a
// schedule, serves metrics and health, and reacts to config file edits.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/thejerf/suture/v4"

	"github.com/evanofslack/dnsup/internal/metrics"
	"github.com/evanofslack/dnsup/internal/orchestrator"
)

// InvokeFunc runs one full invocation.
type InvokeFunc func(ctx context.Context) (orchestrator.Report, error)

type Options struct {
	Invoke InvokeFunc
	// Interval runs every interval; Schedule is a cron expression and wins
	// when both are set.
	Interval time.Duration
	Schedule string
	// MetricsAddr serves /metrics and /healthz when set.
	MetricsAddr string
	Metrics     *metrics.Metrics
	// ConfigPath is watched for changes when set.
	ConfigPath string
}

type Daemon struct {
	supervisor *suture.Supervisor
	scheduler  *scheduler
}

func New(opts Options) (*Daemon, error) {
	if opts.Invoke == nil {
		return nil, errors.New("daemon: invoke func is required")
	}
	spec := opts.Schedule
	if spec == "" {
		if opts.Interval <= 0 {
			return nil, errors.New("daemon: interval or schedule is required")
		}
		spec = fmt.Sprintf("@every %s", opts.Interval)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("daemon: invalid schedule %q: %w", spec, err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(false)
	}

	log := slog.With("component", "daemon")
	supervisor := suture.New("dnsup", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Error("Supervisor event", "event", ev.String())
		},
	})

	s := newScheduler(spec, opts.Invoke, log.With("task", "scheduler"))
	supervisor.Add(s)
	if opts.MetricsAddr != "" {
		supervisor.Add(&httpServer{
			addr:    opts.MetricsAddr,
			handler: newMux(opts.Metrics, s),
			log:     log.With("task", "http"),
		})
	}
	if opts.ConfigPath != "" {
		supervisor.Add(&watcher{
			path:     opts.ConfigPath,
			debounce: defaultDebounce,
			trigger:  s.Trigger,
			log:      log.With("task", "watcher"),
		})
	}

	return &Daemon{supervisor: supervisor, scheduler: s}, nil
}

// Serve blocks until ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	slog.Info("Starting daemon")
	err := d.supervisor.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Info("Daemon stopped")
		return nil
	}
	return err
}

// Trigger requests an immediate invocation.
func (d *Daemon) Trigger() { d.scheduler.Trigger() }
