package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/evanofslack/dnsup/internal/orchestrator"
)

type Webhook struct {
	url    string
	client *resty.Client
}

type webhookPayload struct {
	Run     string          `json:"run"`
	Results []webhookResult `json:"results"`
}

type webhookResult struct {
	Provider string `json:"provider"`
	Host     string `json:"host"`
	Outcome  string `json:"outcome"`
	IP       string `json:"ip,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewWebhook(url string, headers map[string]string, hc *http.Client, userAgent string) *Webhook {
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}
	client := resty.NewWithClient(hc).SetHeaders(headers)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Notify(ctx context.Context, report orchestrator.Report) error {
	outcomes := notable(report)
	if len(outcomes) == 0 {
		return nil
	}

	payload := webhookPayload{Run: report.RunID}
	for _, o := range outcomes {
		r := webhookResult{Provider: o.Provider, Host: o.Host, Outcome: o.Status.String()}
		if o.IP.IsValid() {
			r.IP = o.IP.String()
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		payload.Results = append(payload.Results, r)
	}

	resp, err := w.client.R().SetContext(ctx).SetBody(payload).Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode())
	}
	return nil
}
