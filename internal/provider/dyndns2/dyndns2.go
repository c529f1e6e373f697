// Package dyndns2 implements the members.dyndns.org update protocol and the
// providers that speak it unchanged.
package dyndns2

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

type variant struct {
	name   string
	server string
	// hostLogin uses the hostname as the basic auth user, as dyn.dns.he.net does.
	hostLogin bool
}

var (
	dynDNS = variant{name: "dyndns2", server: "https://members.dyndns.org"}
	noIP   = variant{name: "noip", server: "https://dynupdate.no-ip.com"}
	he     = variant{name: "he", server: "https://dyn.dns.he.net", hostLogin: true}
)

func init() {
	provider.Register(dynDNS.name, factory(dynDNS), "dyndns")
	provider.Register(noIP.name, factory(noIP), "no-ip")
	provider.Register(he.name, factory(he), "hurricane", "hurricaneelectric")
}

func factory(v variant) provider.Factory {
	return func(s provider.Settings) (provider.DnsUpdater, error) {
		return newUpdater(v, s), nil
	}
}

type Updater struct {
	variant  variant
	login    string
	password string
	client   *resty.Client
}

func newUpdater(v variant, s provider.Settings) *Updater {
	client := resty.NewWithClient(s.Client()).SetBaseURL(s.ServerURL(v.server))
	if s.UserAgent != "" {
		client.SetHeader("User-Agent", s.UserAgent)
	}
	return &Updater{
		variant:  v,
		login:    s.Login,
		password: s.Password,
		client:   client,
	}
}

func (u *Updater) ProviderName() string { return u.variant.name }

func (u *Updater) ValidateConfig() error {
	if !u.variant.hostLogin && u.login == "" {
		return errs.Config(u.variant.name, "login is required")
	}
	if u.password == "" {
		return errs.Config(u.variant.name, "password is required")
	}
	return nil
}

func (u *Updater) UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error {
	login := u.login
	if u.variant.hostLogin {
		login = hostname
	}
	op := fmt.Sprintf("update %s %s", provider.RecordType(ip), hostname)

	resp, err := u.client.R().
		SetContext(ctx).
		SetBasicAuth(login, u.password).
		SetQueryParams(map[string]string{
			"hostname": hostname,
			"myip":     ip.String(),
		}).
		Get("/nic/update")
	if err != nil {
		return provider.UpdateError(u.variant.name, op, 0, "", err, u.password)
	}

	body := strings.TrimSpace(resp.String())
	slog.Debug("Provider response", "provider", u.variant.name, "status", resp.StatusCode(), "host", hostname)
	if resp.StatusCode() != http.StatusOK {
		return provider.UpdateError(u.variant.name, op, resp.StatusCode(), body, nil, u.password)
	}

	if err := checkStatus(body); err != nil {
		return provider.UpdateError(u.variant.name, op, resp.StatusCode(), body, err, u.password)
	}
	return nil
}

// checkStatus interprets the first word of a dyndns2 response.
func checkStatus(body string) error {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return fmt.Errorf("empty response from server")
	}
	switch fields[0] {
	case "good", "nochg":
		return nil
	case "badauth":
		return fmt.Errorf("bad authorization (username or password)")
	case "notfqdn":
		return fmt.Errorf("not a fully-qualified domain name")
	case "nohost":
		return fmt.Errorf("hostname doesn't exist")
	case "!yours":
		return fmt.Errorf("hostname exists but not under this account")
	case "abuse":
		return fmt.Errorf("hostname blocked for abuse")
	case "!donator":
		return fmt.Errorf("feature requires donator account")
	case "!active":
		return fmt.Errorf("hostname not activated")
	case "dnserr", "911":
		return fmt.Errorf("server side error, retry later")
	default:
		return fmt.Errorf("unknown response")
	}
}
