package orchestrator

import (
	"sync"

	"github.com/evanofslack/dnsup/internal/state"
)

// keyLocks hands out one mutex per state key so a record is never read and
// written by two hosts at once.
type keyLocks struct {
	mu    sync.Mutex
	locks map[state.Key]*sync.Mutex
}

func (k *keyLocks) lock(key state.Key) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[state.Key]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
