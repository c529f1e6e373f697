// Package orchestrator decides, per host, whether a record needs updating and
// drives the provider call and the state bookkeeping around it.
package orchestrator

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sourcegraph/conc/pool"

	"github.com/evanofslack/dnsup/internal/metrics"
	"github.com/evanofslack/dnsup/internal/provider"
	"github.com/evanofslack/dnsup/internal/resolver"
	"github.com/evanofslack/dnsup/internal/state"
)

const defaultConcurrency = 4

// Job is one target: a protocol, its settings and the hosts it manages.
type Job struct {
	Protocol string
	Settings provider.Settings
	Hosts    []string
}

type IPResolver interface {
	Resolve(ctx context.Context, override netip.Addr) (resolver.ResolvedIP, error)
}

// UpdaterFactory builds the updater for a job. provider.New is the default.
type UpdaterFactory func(protocol string, s provider.Settings) (provider.DnsUpdater, error)

type Options struct {
	Store      state.Store
	Resolver   IPResolver
	NewUpdater UpdaterFactory
	Metrics    *metrics.Metrics

	// Override skips resolution when valid.
	Override netip.Addr
	Force    bool
	DryRun   bool

	// MinInterval is the least time between two attempts for one host.
	MinInterval time.Duration
	// MaxInterval forces an update once the last success is this old.
	MaxInterval time.Duration
	// MinErrorInterval is the least time between attempts after a failure.
	MinErrorInterval time.Duration

	Concurrency int
	Now         func() time.Time
}

type Engine struct {
	store      state.Store
	resolver   IPResolver
	newUpdater UpdaterFactory
	metrics    *metrics.Metrics

	override         netip.Addr
	force            bool
	dryRun           bool
	minInterval      time.Duration
	maxInterval      time.Duration
	minErrorInterval time.Duration
	concurrency      int
	now              func() time.Time

	locks keyLocks
}

func New(opts Options) *Engine {
	if opts.NewUpdater == nil {
		opts.NewUpdater = provider.New
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(false)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:            opts.Store,
		resolver:         opts.Resolver,
		newUpdater:       opts.NewUpdater,
		metrics:          opts.Metrics,
		override:         opts.Override,
		force:            opts.Force,
		dryRun:           opts.DryRun,
		minInterval:      opts.MinInterval,
		maxInterval:      opts.MaxInterval,
		minErrorInterval: opts.MinErrorInterval,
		concurrency:      opts.Concurrency,
		now:              opts.Now,
	}
}

// Run processes every host of every job and returns one outcome per host, in
// job and host order. The public address is resolved at most once per run.
func (e *Engine) Run(ctx context.Context, jobs []Job) Report {
	report := Report{RunID: xid.New().String(), Started: e.now()}
	log := slog.With("run", report.RunID)
	log.Debug("Starting update run", "jobs", len(jobs), "dry_run", e.dryRun, "force", e.force)

	var resolved resolver.ResolvedIP
	resolve := sync.OnceValues(func() (resolver.ResolvedIP, error) {
		ip, err := e.resolver.Resolve(ctx, e.override)
		if err != nil {
			log.Error("Failed to resolve public ip", "error", err)
			return ip, err
		}
		log.Info("Resolved public ip", "ip", ip.IP, "source", ip.Source)
		resolved = ip
		return ip, nil
	})

	total := 0
	for _, job := range jobs {
		total += len(job.Hosts)
	}
	report.Outcomes = make([]Outcome, total)

	p := pool.New().WithMaxGoroutines(e.concurrency)
	idx := 0
	for _, job := range jobs {
		updater, err := e.newUpdater(job.Protocol, job.Settings)
		if err != nil {
			name := strings.ToLower(job.Protocol)
			for _, host := range job.Hosts {
				out := Outcome{Provider: name, Host: host, Status: StatusFailed, Err: err}
				report.Outcomes[idx] = e.finish(log.With("provider", name, "host", host), out)
				idx++
			}
			continue
		}
		for _, host := range job.Hosts {
			host := host
			i := idx
			p.Go(func() {
				report.Outcomes[i] = e.runHost(ctx, log, updater, host, resolve)
			})
			idx++
		}
	}
	p.Wait()

	report.Resolved = resolved
	report.Duration = e.now().Sub(report.Started)
	e.metrics.IncRun(report.ExitCode() == 0)
	e.metrics.SetRunDuration(report.Duration)
	log.Info("Finished update run",
		"updated", report.Count(StatusUpdated),
		"unchanged", report.Count(StatusUnchanged),
		"skipped", report.Count(StatusSkipped),
		"failed", report.Count(StatusFailed),
		"duration", report.Duration)
	return report
}

func (e *Engine) runHost(ctx context.Context, log *slog.Logger, u provider.DnsUpdater, host string, resolve func() (resolver.ResolvedIP, error)) Outcome {
	start := e.now()
	key := state.Key{Provider: u.ProviderName(), Host: host}
	log = log.With("provider", key.Provider, "host", host)
	out := Outcome{Provider: key.Provider, Host: host}

	unlock := e.locks.lock(key)
	defer unlock()

	finish := func(o Outcome) Outcome {
		o.Duration = e.now().Sub(start)
		return e.finish(log, o)
	}

	ip, err := resolve()
	if err != nil {
		out.Status, out.Err = StatusFailed, err
		return finish(out)
	}
	out.IP = ip.IP

	prev, found, err := e.store.Load(ctx, key)
	if err != nil {
		log.Warn("Failed to load state, treating record as absent", "error", err)
		prev, found = state.Record{}, false
	}

	now := e.now()
	why, needed := e.needsUpdate(prev, found, ip.IP, now)
	if !needed {
		out.Status = StatusUnchanged
		return finish(out)
	}
	log.Debug("Update needed", "reason", why, "previous_ip", prev.IP, "ip", ip.IP)

	if !e.force && e.rateLimited(prev, now) {
		out.Status, out.Reason = StatusSkipped, ReasonRateLimited
		return finish(out)
	}

	if e.dryRun {
		log.Info("Would update record", "ip", ip.IP, "reason", why)
		out.Status, out.Reason = StatusSkipped, ReasonDryRun
		return finish(out)
	}

	if err := u.ValidateConfig(); err != nil {
		out.Status, out.Err = StatusFailed, err
		return finish(out)
	}

	err = u.UpdateRecord(ctx, host, ip.IP)
	e.metrics.IncProviderRequest(key.Provider, err == nil)
	attempt := e.now()

	if err != nil {
		rec := prev
		rec.LastAttempt = attempt
		if saveErr := e.store.Save(ctx, key, rec); saveErr != nil {
			log.Warn("Failed to record failed attempt", "error", saveErr)
		}
		out.Status, out.Err = StatusFailed, err
		return finish(out)
	}

	rec := state.Record{IP: ip.IP, LastSuccess: attempt, LastAttempt: attempt}
	if saveErr := e.store.Save(ctx, key, rec); saveErr != nil {
		out.Warning = saveErr
	}
	e.metrics.SetLastSuccess(key.Provider, host, attempt)
	out.Status = StatusUpdated
	return finish(out)
}

// needsUpdate reports whether the record must be pushed, and why.
func (e *Engine) needsUpdate(prev state.Record, found bool, ip netip.Addr, now time.Time) (string, bool) {
	switch {
	case e.force:
		return "forced", true
	case !found:
		return "no previous record", true
	case prev.IP != ip:
		return "ip changed", true
	case e.maxInterval > 0 && now.Sub(prev.LastSuccess) >= e.maxInterval:
		return "max interval elapsed", true
	}
	return "", false
}

func (e *Engine) rateLimited(prev state.Record, now time.Time) bool {
	if prev.LastAttempt.IsZero() {
		return false
	}
	since := now.Sub(prev.LastAttempt)
	if e.minInterval > 0 && since < e.minInterval {
		return true
	}
	return prev.Failed() && e.minErrorInterval > 0 && since < e.minErrorInterval
}

// finish logs the single terminal line for a host and counts it.
func (e *Engine) finish(log *slog.Logger, o Outcome) Outcome {
	e.metrics.IncHostOutcome(o.Provider, o.Status.String())

	attrs := []any{"status", o.Status.String(), "duration", o.Duration}
	if o.IP.IsValid() {
		attrs = append(attrs, "ip", o.IP)
	}
	switch {
	case o.Status == StatusFailed:
		log.Error("Host update failed", append(attrs, "error", o.Err)...)
	case o.Warning != nil:
		log.Warn("Host updated, state not saved", append(attrs, "error", o.Warning)...)
	case o.Status == StatusSkipped:
		log.Info("Host update skipped", append(attrs, "reason", o.Reason)...)
	default:
		log.Info("Host processed", attrs...)
	}
	return o
}
