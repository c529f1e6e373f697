// Package route53 upserts address records in an AWS Route 53 hosted zone.
// Login is the access key ID, password the secret access key and zone the
// hosted zone ID.
package route53

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/route53"

	"github.com/evanofslack/dnsup/internal/errs"
	"github.com/evanofslack/dnsup/internal/provider"
)

const (
	name = "route53"
	// Route 53 is a global service signed in us-east-1.
	region     = "us-east-1"
	defaultTTL = 300
)

func init() {
	provider.Register(name, func(s provider.Settings) (provider.DnsUpdater, error) {
		return New(s), nil
	}, "aws")
}

type Updater struct {
	settings provider.Settings

	once sync.Once
	svc  *route53.Route53
	err  error
}

func New(s provider.Settings) *Updater {
	return &Updater{settings: s}
}

func (u *Updater) ProviderName() string { return name }

func (u *Updater) ValidateConfig() error {
	if u.settings.Login == "" {
		return errs.Config(name, "login (access key id) is required")
	}
	if u.settings.Password == "" {
		return errs.Config(name, "password (secret access key) is required")
	}
	if u.settings.Zone == "" {
		return errs.Config(name, "zone (hosted zone id) is required")
	}
	return nil
}

func (u *Updater) client() (*route53.Route53, error) {
	u.once.Do(func() {
		cfg := aws.NewConfig().
			WithRegion(region).
			WithCredentials(credentials.NewStaticCredentials(u.settings.Login, u.settings.Password, "")).
			WithHTTPClient(u.settings.Client()).
			WithMaxRetries(0)
		if u.settings.Server != "" {
			cfg = cfg.WithEndpoint(u.settings.ServerURL(""))
		}
		sess, err := session.NewSession(cfg)
		if err != nil {
			u.err = fmt.Errorf("create aws session: %w", err)
			return
		}
		if u.settings.UserAgent != "" {
			sess.Handlers.Build.PushBack(func(r *request.Request) {
				r.HTTPRequest.Header.Set("User-Agent", u.settings.UserAgent)
			})
		}
		u.svc = route53.New(sess)
	})
	return u.svc, u.err
}

func (u *Updater) UpdateRecord(ctx context.Context, hostname string, ip netip.Addr) error {
	recordType := provider.RecordType(ip)
	fqdn := strings.TrimSuffix(hostname, ".") + "."
	op := fmt.Sprintf("upsert %s %s", recordType, fqdn)

	svc, err := u.client()
	if err != nil {
		return u.updateError(op, err)
	}

	ttl := u.settings.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	_, err = svc.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(u.settings.Zone),
		ChangeBatch: &route53.ChangeBatch{
			Comment: aws.String("dnsup"),
			Changes: []*route53.Change{{
				Action: aws.String(route53.ChangeActionUpsert),
				ResourceRecordSet: &route53.ResourceRecordSet{
					Name:            aws.String(fqdn),
					Type:            aws.String(recordType),
					TTL:             aws.Int64(int64(ttl)),
					ResourceRecords: []*route53.ResourceRecord{{Value: aws.String(ip.Unmap().String())}},
				},
			}},
		},
	})
	if err != nil {
		return u.updateError(op, err)
	}
	return nil
}

func (u *Updater) updateError(op string, err error) error {
	status := 0
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		status = reqErr.StatusCode()
	}
	return provider.UpdateError(name, op, status, "", err, u.settings.Login, u.settings.Password)
}
