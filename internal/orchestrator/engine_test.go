package orchestrator

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
	"github.com/evanofslack/dnsup/internal/resolver"
	"github.com/evanofslack/dnsup/internal/state"
)

var (
	now     = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oldIP   = netip.MustParseAddr("192.0.2.1")
	newIP   = netip.MustParseAddr("203.0.113.9")
	spyHost = "home.example.com"
	spyKey  = state.Key{Provider: "spy", Host: spyHost}
)

type spyUpdater struct {
	mu          sync.Mutex
	calls       map[string]int
	failHosts   map[string]bool
	validateErr error
}

func newSpy() *spyUpdater {
	return &spyUpdater{calls: make(map[string]int), failHosts: make(map[string]bool)}
}

func (s *spyUpdater) UpdateRecord(ctx context.Context, host string, ip netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[host]++
	if s.failHosts[host] {
		return provider.UpdateError("spy", "update", 401, "bad token", errors.New("unauthorized"))
	}
	return nil
}

func (s *spyUpdater) ValidateConfig() error { return s.validateErr }
func (s *spyUpdater) ProviderName() string  { return "spy" }

func (s *spyUpdater) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

type memStore struct {
	mu      sync.Mutex
	records map[state.Key]state.Record
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[state.Key]state.Record)}
}

func (m *memStore) Load(ctx context.Context, key state.Key) (state.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return state.Record{}, false, m.loadErr
	}
	r, ok := m.records[key]
	return r, ok, nil
}

func (m *memStore) Save(ctx context.Context, key state.Key, rec state.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[key] = rec
	return nil
}

func (m *memStore) Close() error { return nil }

type stubResolver struct {
	ip    netip.Addr
	err   error
	calls atomic.Int32
}

func (r *stubResolver) Resolve(ctx context.Context, override netip.Addr) (resolver.ResolvedIP, error) {
	r.calls.Add(1)
	if override.IsValid() {
		return resolver.ResolvedIP{IP: override, Source: resolver.SourceManual, At: now}, nil
	}
	if r.err != nil {
		return resolver.ResolvedIP{}, r.err
	}
	return resolver.ResolvedIP{IP: r.ip, Source: "static", At: now}, nil
}

func spyFactory(spy *spyUpdater) UpdaterFactory {
	return func(protocol string, s provider.Settings) (provider.DnsUpdater, error) {
		if protocol == "spy" {
			return spy, nil
		}
		return provider.New(protocol, s)
	}
}

func newEngine(store state.Store, spy *spyUpdater, mutate func(*Options)) *Engine {
	opts := Options{
		Store:      store,
		Resolver:   &stubResolver{ip: newIP},
		NewUpdater: spyFactory(spy),
		Now:        func() time.Time { return now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func spyJob(hosts ...string) []Job {
	if len(hosts) == 0 {
		hosts = []string{spyHost}
	}
	return []Job{{Protocol: "spy", Hosts: hosts}}
}

func onlyOutcome(t *testing.T, r Report) Outcome {
	t.Helper()
	if len(r.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(r.Outcomes))
	}
	return r.Outcomes[0]
}

func TestRunDecisions(t *testing.T) {
	tests := []struct {
		name       string
		prev       *state.Record
		opts       func(*Options)
		wantStatus Status
		wantReason string
		wantCalls  int
	}{
		{
			name:       "unchanged ip never calls provider",
			prev:       &state.Record{IP: newIP, LastSuccess: now.Add(-time.Hour), LastAttempt: now.Add(-time.Hour)},
			opts:       func(o *Options) { o.MaxInterval = 24 * time.Hour },
			wantStatus: StatusUnchanged,
		},
		{
			name:       "first run updates",
			wantStatus: StatusUpdated,
			wantCalls:  1,
		},
		{
			name:       "changed ip updates",
			prev:       &state.Record{IP: oldIP, LastSuccess: now.Add(-time.Hour), LastAttempt: now.Add(-time.Hour)},
			wantStatus: StatusUpdated,
			wantCalls:  1,
		},
		{
			name:       "min interval not elapsed",
			prev:       &state.Record{IP: oldIP, LastSuccess: now.Add(-time.Minute), LastAttempt: now.Add(-time.Minute)},
			opts:       func(o *Options) { o.MinInterval = 5 * time.Minute },
			wantStatus: StatusSkipped,
			wantReason: ReasonRateLimited,
		},
		{
			name:       "min interval elapsed",
			prev:       &state.Record{IP: oldIP, LastSuccess: now.Add(-time.Hour), LastAttempt: now.Add(-time.Hour)},
			opts:       func(o *Options) { o.MinInterval = 5 * time.Minute },
			wantStatus: StatusUpdated,
			wantCalls:  1,
		},
		{
			name:       "max interval heartbeat",
			prev:       &state.Record{IP: newIP, LastSuccess: now.Add(-31 * 24 * time.Hour), LastAttempt: now.Add(-31 * 24 * time.Hour)},
			opts:       func(o *Options) { o.MaxInterval = 30 * 24 * time.Hour },
			wantStatus: StatusUpdated,
			wantCalls:  1,
		},
		{
			name: "force bypasses unchanged and min interval",
			prev: &state.Record{IP: newIP, LastSuccess: now.Add(-time.Second), LastAttempt: now.Add(-time.Second)},
			opts: func(o *Options) {
				o.Force = true
				o.MinInterval = time.Hour
			},
			wantStatus: StatusUpdated,
			wantCalls:  1,
		},
		{
			name:       "recent failure within min error interval",
			prev:       &state.Record{IP: oldIP, LastSuccess: now.Add(-48 * time.Hour), LastAttempt: now.Add(-time.Minute)},
			opts:       func(o *Options) { o.MinErrorInterval = 5 * time.Minute },
			wantStatus: StatusSkipped,
			wantReason: ReasonRateLimited,
		},
		{
			name:       "old failure past min error interval",
			prev:       &state.Record{IP: oldIP, LastSuccess: now.Add(-48 * time.Hour), LastAttempt: now.Add(-time.Hour)},
			opts:       func(o *Options) { o.MinErrorInterval = 5 * time.Minute },
			wantStatus: StatusUpdated,
			wantCalls:  1,
		},
		{
			name:       "dry run",
			prev:       &state.Record{IP: oldIP, LastSuccess: now.Add(-time.Hour), LastAttempt: now.Add(-time.Hour)},
			opts:       func(o *Options) { o.DryRun = true },
			wantStatus: StatusSkipped,
			wantReason: ReasonDryRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.prev != nil {
				store.records[spyKey] = *tt.prev
			}
			spy := newSpy()
			report := newEngine(store, spy, tt.opts).Run(context.Background(), spyJob())

			out := onlyOutcome(t, report)
			if out.Status != tt.wantStatus || out.Reason != tt.wantReason {
				t.Errorf("outcome = %s(%q), want %s(%q)", out.Status, out.Reason, tt.wantStatus, tt.wantReason)
			}
			if got := spy.total(); got != tt.wantCalls {
				t.Errorf("provider calls = %d, want %d", got, tt.wantCalls)
			}
			if report.ExitCode() != 0 {
				t.Errorf("exit code = %d", report.ExitCode())
			}
			if tt.wantStatus != StatusUpdated && store.saves != 0 {
				t.Errorf("state written for %s outcome", tt.wantStatus)
			}
		})
	}
}

func TestFirstUpdateStoresRecord(t *testing.T) {
	store := newMemStore()
	report := newEngine(store, newSpy(), nil).Run(context.Background(), spyJob())

	if out := onlyOutcome(t, report); out.Status != StatusUpdated || out.IP != newIP {
		t.Fatalf("unexpected outcome %+v", out)
	}
	rec, ok := store.records[spyKey]
	if !ok {
		t.Fatal("no record stored")
	}
	want := state.Record{IP: newIP, LastSuccess: now, LastAttempt: now}
	if rec != want {
		t.Errorf("record = %+v, want %+v", rec, want)
	}
	if report.Resolved.IP != newIP || report.Resolved.Source != "static" {
		t.Errorf("resolved = %+v", report.Resolved)
	}
	if report.RunID == "" {
		t.Error("empty run id")
	}
}

func TestFirstFailureCreatesRecord(t *testing.T) {
	store := newMemStore()
	spy := newSpy()
	spy.failHosts[spyHost] = true
	eng := newEngine(store, spy, func(o *Options) { o.MinErrorInterval = time.Hour })

	out := onlyOutcome(t, eng.Run(context.Background(), spyJob()))
	if out.Status != StatusFailed {
		t.Fatalf("outcome = %+v", out)
	}
	want := state.Record{LastAttempt: now}
	if got, ok := store.records[spyKey]; !ok || got != want {
		t.Fatalf("record = %+v (found %v), want %+v", got, ok, want)
	}

	out = onlyOutcome(t, eng.Run(context.Background(), spyJob()))
	if out.Status != StatusSkipped || out.Reason != ReasonRateLimited {
		t.Errorf("second run = %+v", out)
	}
	if spy.total() != 1 {
		t.Errorf("calls = %d", spy.total())
	}
}

func TestFailureRecordsAttemptOnly(t *testing.T) {
	earlier := now.Add(-2 * time.Hour)
	store := newMemStore()
	store.records[spyKey] = state.Record{IP: oldIP, LastSuccess: earlier, LastAttempt: earlier}
	spy := newSpy()
	spy.failHosts[spyHost] = true

	report := newEngine(store, spy, nil).Run(context.Background(), spyJob())

	out := onlyOutcome(t, report)
	if out.Status != StatusFailed || !errs.Is(out.Err, errs.KindUpdate) {
		t.Fatalf("outcome = %+v", out)
	}
	want := state.Record{IP: oldIP, LastSuccess: earlier, LastAttempt: now}
	if got := store.records[spyKey]; got != want {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if !store.records[spyKey].Failed() {
		t.Error("record should describe a failed attempt")
	}
	if report.ExitCode() != 1 {
		t.Errorf("exit code = %d", report.ExitCode())
	}
}

func TestValidateConfigFailure(t *testing.T) {
	store := newMemStore()
	spy := newSpy()
	spy.validateErr = errs.Config("spy", "password is required")

	report := newEngine(store, spy, nil).Run(context.Background(), spyJob())

	out := onlyOutcome(t, report)
	if out.Status != StatusFailed || !errs.Is(out.Err, errs.KindConfig) {
		t.Fatalf("outcome = %+v", out)
	}
	if spy.total() != 0 || store.saves != 0 {
		t.Errorf("calls = %d, saves = %d", spy.total(), store.saves)
	}
}

func TestSaveFailureIsWarning(t *testing.T) {
	store := newMemStore()
	store.saveErr = errs.Store("save record", errors.New("disk full"))

	report := newEngine(store, newSpy(), nil).Run(context.Background(), spyJob())

	out := onlyOutcome(t, report)
	if out.Status != StatusUpdated {
		t.Fatalf("status = %s", out.Status)
	}
	if !errs.Is(out.Warning, errs.KindStore) {
		t.Errorf("warning = %v", out.Warning)
	}
	if report.ExitCode() != 0 {
		t.Errorf("exit code = %d", report.ExitCode())
	}
}

func TestLoadErrorTreatedAsAbsent(t *testing.T) {
	store := newMemStore()
	store.loadErr = errs.Store("load record", errors.New("permission denied"))
	spy := newSpy()

	report := newEngine(store, spy, nil).Run(context.Background(), spyJob())

	if out := onlyOutcome(t, report); out.Status != StatusUpdated {
		t.Fatalf("status = %s", out.Status)
	}
	if spy.total() != 1 {
		t.Errorf("calls = %d", spy.total())
	}
}

func TestCorruptedStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsup.state")
	if err := os.WriteFile(path, []byte("spy home.example.com not-an-ip nope\n\x00\x01garbage\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := state.Open(state.BackendFile, path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	spy := newSpy()
	report := newEngine(store, spy, nil).Run(context.Background(), spyJob())

	if out := onlyOutcome(t, report); out.Status != StatusUpdated {
		t.Fatalf("status = %s (%v)", out.Status, out.Err)
	}
	if spy.total() != 1 {
		t.Errorf("calls = %d", spy.total())
	}

	reopened, err := state.Open(state.BackendFile, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	rec, ok, err := reopened.Load(context.Background(), spyKey)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.IP != newIP || !rec.LastSuccess.Equal(now) {
		t.Errorf("record = %+v", rec)
	}
}

func TestOneOutcomePerHost(t *testing.T) {
	store := newMemStore()
	spy := newSpy()
	spy.failHosts["b.example.com"] = true
	res := &stubResolver{ip: newIP}

	jobs := []Job{
		{Protocol: "spy", Hosts: []string{"a.example.com", "b.example.com", "c.example.com"}},
		{Protocol: "nope", Hosts: []string{"d.example.com"}},
	}
	report := newEngine(store, spy, func(o *Options) {
		o.Resolver = res
		o.Concurrency = 2
	}).Run(context.Background(), jobs)

	want := []struct {
		provider, host string
		status         Status
	}{
		{"spy", "a.example.com", StatusUpdated},
		{"spy", "b.example.com", StatusFailed},
		{"spy", "c.example.com", StatusUpdated},
		{"nope", "d.example.com", StatusFailed},
	}
	if len(report.Outcomes) != len(want) {
		t.Fatalf("got %d outcomes, want %d", len(report.Outcomes), len(want))
	}
	for i, w := range want {
		o := report.Outcomes[i]
		if o.Provider != w.provider || o.Host != w.host || o.Status != w.status {
			t.Errorf("outcome %d = %s/%s %s, want %s/%s %s", i, o.Provider, o.Host, o.Status, w.provider, w.host, w.status)
		}
	}
	if !errs.Is(report.Outcomes[3].Err, errs.KindConfig) {
		t.Errorf("unknown protocol error = %v", report.Outcomes[3].Err)
	}
	if n := res.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times", n)
	}
	if report.ExitCode() != 1 {
		t.Errorf("exit code = %d", report.ExitCode())
	}
	if len(report.Failures()) != 2 {
		t.Errorf("failures = %d", len(report.Failures()))
	}
}

func TestDuplicateHostsSerialized(t *testing.T) {
	store := newMemStore()
	spy := newSpy()

	report := newEngine(store, spy, nil).Run(context.Background(), spyJob(spyHost, spyHost))

	if report.Count(StatusUpdated) != 1 || report.Count(StatusUnchanged) != 1 {
		t.Errorf("updated=%d unchanged=%d", report.Count(StatusUpdated), report.Count(StatusUnchanged))
	}
	if spy.calls[spyHost] != 1 {
		t.Errorf("calls = %d", spy.calls[spyHost])
	}
}

func TestResolveFailure(t *testing.T) {
	res := &stubResolver{err: errs.Resolve(&resolver.AllSourcesFailedError{})}
	spy := newSpy()
	store := newMemStore()

	report := newEngine(store, spy, func(o *Options) { o.Resolver = res }).Run(context.Background(), spyJob("a.example.com", "b.example.com"))

	for _, o := range report.Outcomes {
		if o.Status != StatusFailed || !errs.Is(o.Err, errs.KindResolve) {
			t.Errorf("outcome = %+v", o)
		}
	}
	if res.calls.Load() != 1 || spy.total() != 0 || store.saves != 0 {
		t.Errorf("resolver=%d calls=%d saves=%d", res.calls.Load(), spy.total(), store.saves)
	}
	if report.Resolved.IP.IsValid() {
		t.Errorf("resolved = %+v", report.Resolved)
	}
}

func TestOverride(t *testing.T) {
	override := netip.MustParseAddr("198.51.100.7")
	store := newMemStore()

	report := newEngine(store, newSpy(), func(o *Options) { o.Override = override }).Run(context.Background(), spyJob())

	if out := onlyOutcome(t, report); out.IP != override {
		t.Errorf("ip = %s", out.IP)
	}
	if report.Resolved.Source != resolver.SourceManual {
		t.Errorf("source = %s", report.Resolved.Source)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     int
	}{
		{name: "empty", want: 0},
		{name: "updated and unchanged", outcomes: []Outcome{{Status: StatusUpdated}, {Status: StatusUnchanged}}, want: 0},
		{name: "expected skips", outcomes: []Outcome{{Status: StatusSkipped, Reason: ReasonRateLimited}, {Status: StatusSkipped, Reason: ReasonDryRun}}, want: 0},
		{name: "other skip", outcomes: []Outcome{{Status: StatusSkipped, Reason: "disabled"}}, want: 1},
		{name: "one failure", outcomes: []Outcome{{Status: StatusUpdated}, {Status: StatusFailed}}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Report{Outcomes: tt.outcomes}).ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
