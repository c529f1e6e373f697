package state

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/evanofslack/dnsup/internal/metrics"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"

	defaultDir  = "/var/cache/dnsup"
	defaultFile = "dnsup.state"
)

// Key identifies one managed record.
type Key struct {
	Provider string
	Host     string
}

func (k Key) String() string {
	return k.Provider + "/" + k.Host
}

// Record is the last known state of a key. IP is only set once an update
// has succeeded.
type Record struct {
	IP          netip.Addr
	LastSuccess time.Time
	LastAttempt time.Time
}

// Failed reports whether the most recent attempt did not succeed.
func (r Record) Failed() bool {
	return !r.LastAttempt.IsZero() && r.LastAttempt.After(r.LastSuccess)
}

// Store persists records across runs. Load reports ok=false for unknown or
// unreadable keys; Save returns only once the record is durable.
type Store interface {
	Load(ctx context.Context, key Key) (Record, bool, error)
	Save(ctx context.Context, key Key, rec Record) error
	Close() error
}

func Open(backend, path string, m *metrics.Metrics) (Store, error) {
	if m == nil {
		m = metrics.New(false)
	}
	if path == "" {
		path = DefaultPath()
	}
	switch backend {
	case "", BackendFile:
		return NewFileStore(path, m)
	case BackendBadger:
		return NewBadgerStore(path, m)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// DefaultPath prefers the system cache directory and falls back to the user
// cache directory when it cannot be created.
func DefaultPath() string {
	if err := os.MkdirAll(defaultDir, 0o755); err == nil {
		return filepath.Join(defaultDir, defaultFile)
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "dnsup", defaultFile)
	}
	return defaultFile
}
