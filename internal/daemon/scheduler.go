package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduler runs invocations one at a time: once at start, on every cron
// tick and whenever triggered. Requests arriving during a run coalesce.
type scheduler struct {
	spec    string
	invoke  InvokeFunc
	log     *slog.Logger
	trigger chan struct{}

	mu   sync.RWMutex
	last lastRun
}

type lastRun struct {
	At       time.Time
	RunID    string
	ExitCode int
	Err      error
}

func newScheduler(spec string, invoke InvokeFunc, log *slog.Logger) *scheduler {
	return &scheduler{
		spec:    spec,
		invoke:  invoke,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

func (s *scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *scheduler) Serve(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, s.Trigger); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	s.log.Info("Scheduler started", "schedule", s.spec)
	s.run(ctx)
	for {
		select {
		case <-s.trigger:
			s.run(ctx)
		case <-ctx.Done():
			s.log.Info("Stopping scheduler")
			return ctx.Err()
		}
	}
}

func (s *scheduler) run(ctx context.Context) {
	report, err := s.invoke(ctx)
	last := lastRun{At: time.Now(), RunID: report.RunID, ExitCode: report.ExitCode(), Err: err}
	if err != nil {
		last.ExitCode = 1
		s.log.Error("Invocation failed", "error", err)
	}

	s.mu.Lock()
	s.last = last
	s.mu.Unlock()
}

func (s *scheduler) Last() lastRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *scheduler) String() string { return "scheduler" }
