// Package notify reports the hosts an invocation updated or failed to update.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/evanofslack/dnsup/internal/config"
	"github.com/evanofslack/dnsup/internal/orchestrator"
)

type Notifier interface {
	Notify(ctx context.Context, report orchestrator.Report) error
}

// Multi fans a report out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, report orchestrator.Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the notifiers enabled in cfg. The result may be empty.
func New(cfg config.Notify, hc *http.Client, userAgent string) Multi {
	var m Multi
	if cfg.Telegram.Token != "" {
		m = append(m, NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, "", hc))
	}
	if cfg.Webhook.URL != "" {
		m = append(m, NewWebhook(cfg.Webhook.URL, cfg.Webhook.Headers, hc, userAgent))
	}
	return m
}

// notable returns the outcomes worth a message: updates and failures.
func notable(report orchestrator.Report) []orchestrator.Outcome {
	var out []orchestrator.Outcome
	for _, o := range report.Outcomes {
		if o.Status == orchestrator.StatusUpdated || o.Status == orchestrator.StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

func summary(report orchestrator.Report, outcomes []orchestrator.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s run %s\n", config.AppName, report.RunID)
	for _, o := range outcomes {
		switch o.Status {
		case orchestrator.StatusUpdated:
			fmt.Fprintf(&b, "%s %s: updated to %s\n", o.Provider, o.Host, o.IP)
		default:
			fmt.Fprintf(&b, "%s %s: failed: %v\n", o.Provider, o.Host, o.Err)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
