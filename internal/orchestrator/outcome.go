package orchestrator

import (
	"net/netip"
	"time"

	"github.com/evanofslack/dnsup/internal/resolver"
)

type Status uint8

const (
	StatusUpdated Status = iota + 1
	StatusUnchanged
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUpdated:
		return "updated"
	case StatusUnchanged:
		return "unchanged"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Skip reasons that still count as a successful run.
const (
	ReasonRateLimited = "rate-limited"
	ReasonDryRun      = "dry-run"
)

// Outcome is the terminal result for one (provider, host) pair.
type Outcome struct {
	Provider string
	Host     string
	Status   Status
	// Reason explains a skip.
	Reason string
	// IP is the address the host was compared against, when one was resolved.
	IP  netip.Addr
	Err error
	// Warning is set on an update whose record could not be persisted.
	Warning  error
	Duration time.Duration
}

// OK reports whether the outcome leaves the run successful.
func (o Outcome) OK() bool {
	switch o.Status {
	case StatusUpdated, StatusUnchanged:
		return true
	case StatusSkipped:
		return o.Reason == ReasonRateLimited || o.Reason == ReasonDryRun
	}
	return false
}

type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	// Resolved is zero when no host needed an address.
	Resolved resolver.ResolvedIP
	Outcomes []Outcome
}

// ExitCode is 0 when every outcome is OK and 1 otherwise.
func (r Report) ExitCode() int {
	for _, o := range r.Outcomes {
		if !o.OK() {
			return 1
		}
	}
	return 0
}

// Count returns the number of outcomes with status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Failures returns the outcomes that make the run unsuccessful.
func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}
