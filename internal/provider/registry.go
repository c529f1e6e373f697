package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/evanofslack/dnsup/internal/errs"
)

// Factory builds an updater from target settings. It must not touch the
// network; required fields are checked later by ValidateConfig.
type Factory func(s Settings) (DnsUpdater, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
	aliases   = make(map[string]string)
)

// Register is called by adapter packages in their init() to self-register
// under name and any aliases.
func Register(name string, f Factory, alias ...string) {
	mu.Lock()
	defer mu.Unlock()

	name = strings.ToLower(name)
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("provider: %q already registered", name))
	}
	factories[name] = f
	for _, a := range alias {
		a = strings.ToLower(a)
		if _, exists := aliases[a]; exists {
			panic(fmt.Sprintf("provider: alias %q already registered", a))
		}
		aliases[a] = name
	}
}

// Canonical resolves an alias to its registered name.
func Canonical(name string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()

	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := factories[name]; ok {
		return name, true
	}
	if target, ok := aliases[name]; ok {
		return target, true
	}
	return "", false
}

// New builds the updater registered for protocol.
func New(protocol string, s Settings) (DnsUpdater, error) {
	name, ok := Canonical(protocol)
	if !ok {
		return nil, errs.Config(protocol, "unsupported protocol %q (supported: %s)", protocol, strings.Join(Names(), ", "))
	}

	mu.RLock()
	f := factories[name]
	mu.RUnlock()

	u, err := f(s)
	if err != nil {
		return nil, errs.Config(name, "create provider: %w", err)
	}
	return u, nil
}

// Names lists registered protocols with their aliases, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	byName := make(map[string][]string, len(factories))
	for a, n := range aliases {
		byName[n] = append(byName[n], a)
	}
	names := make([]string, 0, len(factories))
	for n := range factories {
		entry := n
		if as := byName[n]; len(as) > 0 {
			sort.Strings(as)
			entry += "/" + strings.Join(as, "/")
		}
		names = append(names, entry)
	}
	sort.Strings(names)
	return names
}
