package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/metrics"
)

const (
	SourceManual = "manual"

	defaultTimeout      = 10 * time.Second
	defaultTotalTimeout = 30 * time.Second
)

// Source is one way of learning the current public address.
type Source interface {
	Name() string
	Lookup(ctx context.Context) (netip.Addr, error)
}

type ResolvedIP struct {
	IP     netip.Addr
	Source string
	At     time.Time
}

type SourceError struct {
	Source string
	Err    error
}

type AllSourcesFailedError struct {
	Failures []SourceError
}

func (e *AllSourcesFailedError) Error() string {
	if len(e.Failures) == 0 {
		return "no ip sources configured"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Source, f.Err))
	}
	return "all ip sources failed: " + strings.Join(parts, "; ")
}

type Options struct {
	// Timeout bounds a single source probe.
	Timeout time.Duration
	// TotalTimeout bounds the whole resolution across every source.
	TotalTimeout time.Duration
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

type Resolver struct {
	sources []Source
	timeout time.Duration
	total   time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(sources []Source, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = defaultTotalTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(false)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		sources: sources,
		timeout: opts.Timeout,
		total:   opts.TotalTimeout,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Resolve returns override when it is valid, otherwise the first address any
// source produces, in declared order.
func (r *Resolver) Resolve(ctx context.Context, override netip.Addr) (ResolvedIP, error) {
	if override.IsValid() {
		slog.Debug("Using manual ip override", "ip", override)
		return ResolvedIP{IP: override.Unmap(), Source: SourceManual, At: r.now()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.total)
	defer cancel()

	failures := make([]SourceError, 0, len(r.sources))
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			failures = append(failures, SourceError{Source: src.Name(), Err: err})
			continue
		}

		ip, err := r.probe(ctx, src)
		r.metrics.IncResolverProbe(src.Name(), err == nil)
		if err != nil {
			slog.Debug("IP source failed", "source", src.Name(), "error", err)
			failures = append(failures, SourceError{Source: src.Name(), Err: err})
			continue
		}

		slog.Debug("Resolved public ip", "source", src.Name(), "ip", ip)
		return ResolvedIP{IP: ip, Source: src.Name(), At: r.now()}, nil
	}
	return ResolvedIP{}, errs.Resolve(&AllSourcesFailedError{Failures: failures})
}

func (r *Resolver) probe(ctx context.Context, src Source) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ip, err := src.Lookup(ctx)
	if err != nil {
		return netip.Addr{}, err
	}
	if !ip.IsValid() {
		return netip.Addr{}, errors.New("source returned no address")
	}
	return ip.Unmap(), nil
}

// ParseIP reads the first line of a source response. Blank input is an error.
func ParseIP(body string) (netip.Addr, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(body), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return netip.Addr{}, errors.New("empty response")
	}
	ip, err := netip.ParseAddr(line)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("'%s' is an invalid IP address", line)
	}
	return ip.Unmap(), nil
}
