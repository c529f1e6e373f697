package namecheap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const (
	name          = "namecheap"
	defaultServer = "https://dynamicdns.park-your-domain.com"
)

func init() {
	provider.Register(name, func(s provider.Settings) (provider.DnsUpdater, error) {
		return New(s), nil
	})
}

// Updater speaks the Namecheap dynamic DNS endpoint. Login is the domain and
// password is the dynamic DNS password of that domain.
type Updater struct {
	domain   string
	password string
	client   *resty.Client
}

type response struct {
	ErrCount int `xml:"ErrCount"`
	Errors   struct {
		Err1 string `xml:"Err1"`
	} `xml:"errors"`
}

func New(s provider.Settings) *Updater {
	client := resty.NewWithClient(s.Client()).SetBaseURL(s.ServerURL(defaultServer))
	if s.UserAgent != "" {
		client.SetHeader("User-Agent", s.UserAgent)
	}
	return &Updater{domain: s.Login, password: s.Password, client: client}
}

func (u *Updater) ProviderName() string { return name }

func (u *Updater) ValidateConfig() error {
	if u.domain == "" {
		return errs.Config(name, "login (domain) is required")
	}
	if u.password == "" {
		return errs.Config(name, "password is required")
	}
	return nil
}

func (u *Updater) UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error {
	op := fmt.Sprintf("update %s %s", provider.RecordType(ip), hostname)

	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"host":     provider.RelativeName(hostname, u.domain),
			"domain":   u.domain,
			"password": u.password,
			"ip":       ip.String(),
		}).
		Get("/update")
	if err != nil {
		return provider.UpdateError(name, op, 0, "", err, u.password)
	}

	body := resp.String()
	if resp.StatusCode() != http.StatusOK {
		return provider.UpdateError(name, op, resp.StatusCode(), body, nil, u.password)
	}

	var r response
	if err := decode(body, &r); err != nil {
		return provider.UpdateError(name, op, resp.StatusCode(), body, fmt.Errorf("decode response: %w", err), u.password)
	}
	if r.ErrCount != 0 {
		msg := strings.TrimSpace(r.Errors.Err1)
		if msg == "" {
			msg = "update failed"
		}
		return provider.UpdateError(name, op, resp.StatusCode(), "", fmt.Errorf("%s", msg), u.password)
	}
	return nil
}

// decode ignores the declared charset; the endpoint announces utf-16 but
// sends utf-8.
func decode(body string, r *response) error {
	d := xml.NewDecoder(strings.NewReader(body))
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) {
		return in, nil
	}
	return d.Decode(r)
}
