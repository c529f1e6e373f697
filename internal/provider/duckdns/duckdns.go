package duckdns

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const (
	name          = "duckdns"
	defaultServer = "https://www.duckdns.org"
)

func init() {
	provider.Register(name, func(s provider.Settings) (provider.DnsUpdater, error) {
		return New(s), nil
	})
}

type Updater struct {
	token  string
	client *resty.Client
}

// New builds a DuckDNS updater. The token is taken from the password field.
func New(s provider.Settings) *Updater {
	client := resty.NewWithClient(s.Client()).SetBaseURL(s.ServerURL(defaultServer))
	if s.UserAgent != "" {
		client.SetHeader("User-Agent", s.UserAgent)
	}
	return &Updater{token: s.Password, client: client}
}

func (u *Updater) ProviderName() string { return name }

func (u *Updater) ValidateConfig() error {
	if u.token == "" {
		return errs.Config(name, "token (password) is required")
	}
	return nil
}

func (u *Updater) UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error {
	domain := strings.TrimSuffix(strings.TrimSuffix(hostname, "."), ".duckdns.org")
	op := fmt.Sprintf("update %s %s", provider.RecordType(ip), hostname)

	params := map[string]string{
		"domains": domain,
		"token":   u.token,
	}
	if ip.Is4() {
		params["ip"] = ip.String()
	} else {
		params["ipv6"] = ip.String()
	}

	resp, err := u.client.R().SetContext(ctx).SetQueryParams(params).Get("/update")
	if err != nil {
		return provider.UpdateError(name, op, 0, "", err, u.token)
	}

	body := strings.TrimSpace(resp.String())
	if resp.StatusCode() != http.StatusOK {
		return provider.UpdateError(name, op, resp.StatusCode(), body, nil, u.token)
	}
	switch body {
	case "OK":
		return nil
	case "KO":
		return provider.UpdateError(name, op, resp.StatusCode(), body, fmt.Errorf("update rejected, check token and domain"), u.token)
	default:
		return provider.UpdateError(name, op, resp.StatusCode(), body, fmt.Errorf("unexpected response"), u.token)
	}
}
