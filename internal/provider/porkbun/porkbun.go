package porkbun

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const (
	name          = "porkbun"
	defaultServer = "https://api.porkbun.com/api/json/v3"
	defaultTTL    = 600
)

func init() {
	provider.Register(name, func(s provider.Settings) (provider.DnsUpdater, error) {
		return New(s), nil
	})
}

// Updater edits existing records by name and type. Login is the API key and
// password the secret API key.
type Updater struct {
	apiKey    string
	secretKey string
	zone      string
	ttl       int
	client    *resty.Client
}

type editRequest struct {
	APIKey       string `json:"apikey"`
	SecretAPIKey string `json:"secretapikey"`
	Content      string `json:"content"`
	TTL          string `json:"ttl"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func New(s provider.Settings) *Updater {
	client := resty.NewWithClient(s.Client()).SetBaseURL(s.ServerURL(defaultServer))
	if s.UserAgent != "" {
		client.SetHeader("User-Agent", s.UserAgent)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Updater{apiKey: s.Login, secretKey: s.Password, zone: s.Zone, ttl: ttl, client: client}
}

func (u *Updater) ProviderName() string { return name }

func (u *Updater) ValidateConfig() error {
	if u.apiKey == "" {
		return errs.Config(name, "login (API key) is required")
	}
	if u.secretKey == "" {
		return errs.Config(name, "password (secret API key) is required")
	}
	return nil
}

func (u *Updater) UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error {
	zone := u.zone
	if zone == "" {
		zone = provider.GuessZone(hostname)
	}
	rr := provider.Address(hostname, zone, ip, u.ttl).RR()
	op := fmt.Sprintf("update %s %s", rr.Type, hostname)

	path := fmt.Sprintf("/dns/editByNameType/%s/%s", zone, rr.Type)
	if rr.Name != "@" {
		path += "/" + rr.Name
	}

	var result apiResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(editRequest{
			APIKey:       u.apiKey,
			SecretAPIKey: u.secretKey,
			Content:      rr.Data,
			TTL:          strconv.Itoa(u.ttl),
		}).
		SetResult(&result).
		SetError(&result).
		Post(path)
	if err != nil {
		return provider.UpdateError(name, op, 0, "", err, u.apiKey, u.secretKey)
	}

	if !resp.IsSuccess() || result.Status != "SUCCESS" {
		msg := result.Message
		if msg == "" {
			msg = "unexpected response"
		}
		return provider.UpdateError(name, op, resp.StatusCode(), resp.String(), fmt.Errorf("%s", msg), u.apiKey, u.secretKey)
	}
	return nil
}
