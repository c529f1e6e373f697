// Package provider defines the contract every DNS provider adapter satisfies
// and the registry the orchestrator selects adapters from.
package provider

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/evanofslack/dnsup/internal/errs"
)

const (
	maxBodyLen = 256
	redacted   = "[REDACTED]"

	defaultTimeout = 30 * time.Second
)

// DnsUpdater sets the address record of a host at one provider.
type DnsUpdater interface {
	// UpdateRecord points hostname at ip, using an A record for IPv4 and an
	// AAAA record for IPv6.
	UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error
	// ValidateConfig checks the settings without touching the network.
	ValidateConfig() error
	// ProviderName is the stable identifier used in logs and state keys.
	ProviderName() string
}

// Settings carries the provider-agnostic fields of a target. Each adapter
// decides which of them it needs.
type Settings struct {
	Login     string
	Password  string
	Server    string
	Zone      string
	Email     string
	TTL       int
	UserAgent string
	Timeout   time.Duration

	HTTPClient *http.Client
}

// Client returns the configured HTTP client or a pooled cleanhttp client
// bounded by Timeout.
func (s Settings) Client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = s.Timeout
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// ServerURL returns Server with an https scheme added when it has none, or
// fallback when Server is empty.
func (s Settings) ServerURL(fallback string) string {
	server := strings.TrimRight(s.Server, "/")
	if server == "" {
		return fallback
	}
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return server
}

// UpdateError builds the error returned for a failed update. The body is
// truncated and every secret is scrubbed from both body and cause.
func UpdateError(provider, op string, status int, body string, cause error, secrets ...string) error {
	e := &errs.Error{
		Kind:     errs.KindUpdate,
		Op:       op,
		Provider: provider,
		Status:   status,
		Body:     truncate(Redact(strings.TrimSpace(body), secrets...)),
	}
	if cause != nil {
		e.Err = redactedError{msg: Redact(cause.Error(), secrets...)}
	}
	return e
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

// Redact replaces each non-empty secret in s, including its URL-escaped form.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
		if esc := url.QueryEscape(secret); esc != secret {
			s = strings.ReplaceAll(s, esc, redacted)
		}
	}
	return s
}

func truncate(s string) string {
	if len(s) <= maxBodyLen {
		return s
	}
	cut := maxBodyLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
