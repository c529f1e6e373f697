package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const (
	name = "cloudflare"
	// tokenLogin selects API token auth, as in ddclient's login=token.
	tokenLogin = "token"
)

func init() {
	provider.Register(name, func(s provider.Settings) (provider.DnsUpdater, error) {
		return New(s), nil
	})
}

type CloudflareProvider struct {
	settings provider.Settings

	mu     sync.Mutex
	client *cloudflare.API
	zoneID string
}

func New(s provider.Settings) *CloudflareProvider {
	return &CloudflareProvider{settings: s}
}

func (p *CloudflareProvider) ProviderName() string { return name }

func (p *CloudflareProvider) ValidateConfig() error {
	if p.settings.Login == "" {
		return errs.Config(name, "login is required (account email or %q)", tokenLogin)
	}
	if p.settings.Password == "" {
		return errs.Config(name, "password is required (API token or global API key)")
	}
	if p.settings.Zone == "" {
		return errs.Config(name, "zone is required (e.g. example.com)")
	}
	return nil
}

// api lazily builds the client and caches the zone ID for later hosts.
func (p *CloudflareProvider) api(ctx context.Context) (*cloudflare.API, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.zoneID != "" {
		return p.client, p.zoneID, nil
	}

	opts := []cloudflare.Option{
		cloudflare.HTTPClient(p.settings.Client()),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	}
	if p.settings.UserAgent != "" {
		opts = append(opts, cloudflare.UserAgent(p.settings.UserAgent))
	}
	if p.settings.Server != "" {
		opts = append(opts, cloudflare.BaseURL(p.settings.ServerURL("")))
	}

	var (
		client *cloudflare.API
		err    error
	)
	if p.settings.Login == tokenLogin {
		client, err = cloudflare.NewWithAPIToken(p.settings.Password, opts...)
	} else {
		client, err = cloudflare.New(p.settings.Password, p.settings.Login, opts...)
	}
	if err != nil {
		return nil, "", fmt.Errorf("create cloudflare client: %w", err)
	}

	zoneID, err := client.ZoneIDByName(p.settings.Zone)
	if err != nil {
		return nil, "", fmt.Errorf("get zone id for %s: %w", p.settings.Zone, err)
	}
	slog.Debug("Resolved Cloudflare zone", "zone", p.settings.Zone, "id", zoneID)

	p.client, p.zoneID = client, zoneID
	return client, zoneID, nil
}

func (p *CloudflareProvider) UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error {
	start := time.Now()
	record := provider.Address(hostname, p.settings.Zone, ip, p.settings.TTL).RR()
	fqdn := provider.AbsoluteName(record.Name, p.settings.Zone)
	op := fmt.Sprintf("update %s %s", record.Type, fqdn)

	client, zoneID, err := p.api(ctx)
	if err != nil {
		return p.updateError(op, err)
	}
	rc := cloudflare.ZoneIdentifier(zoneID)

	existing, _, err := client.ListDNSRecords(ctx, rc, cloudflare.ListDNSRecordsParams{
		Type: record.Type,
		Name: fqdn,
		ResultInfo: cloudflare.ResultInfo{
			Page:    1,
			PerPage: 100,
		},
	})
	if err != nil {
		return p.updateError(op, fmt.Errorf("list dns records: %w", err))
	}

	ttl := p.settings.TTL
	if ttl <= 0 {
		ttl = 1 // automatic
	}

	if len(existing) == 0 {
		_, err = client.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
			Type:    record.Type,
			Name:    fqdn,
			Content: record.Data,
			TTL:     ttl,
		})
		if err != nil {
			return p.updateError(op, fmt.Errorf("create dns record: %w", err))
		}
		slog.Debug("Created DNS record", "zone", p.settings.Zone, "name", fqdn, "type", record.Type, "duration", time.Since(start))
		return nil
	}

	for _, r := range existing {
		if r.Content == record.Data {
			slog.Debug("DNS record already current", "zone", p.settings.Zone, "name", fqdn, "type", record.Type)
			continue
		}
		_, err = client.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
			ID:      r.ID,
			Type:    record.Type,
			Name:    fqdn,
			Content: record.Data,
			TTL:     ttl,
		})
		if err != nil {
			return p.updateError(op, fmt.Errorf("update dns record: %w", err))
		}
	}
	slog.Debug("Updated DNS record", "zone", p.settings.Zone, "name", fqdn, "type", record.Type, "duration", time.Since(start))
	return nil
}

func (p *CloudflareProvider) updateError(op string, err error) error {
	status := 0
	var cfErr *cloudflare.Error
	if errors.As(err, &cfErr) {
		status = cfErr.StatusCode
	}
	return provider.UpdateError(name, op, status, "", err, p.settings.Password)
}
