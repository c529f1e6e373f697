package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/evanofslack/dnsup/internal/orchestrator"
	"github.com/evanofslack/dnsup/internal/provider"
)

type Telegram struct {
	ChatID   int64
	Token    string
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tg.BotAPI
}

// NewTelegram returns a notifier posting to chatID. An empty endpoint uses
// the public bot API.
func NewTelegram(token string, chatID int64, endpoint string, hc *http.Client) *Telegram {
	if endpoint == "" {
		endpoint = tg.APIEndpoint
	}
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}
	return &Telegram{ChatID: chatID, Token: token, endpoint: endpoint, client: hc}
}

func (t *Telegram) api() (*tg.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tg.NewBotAPIWithClient(t.Token, t.endpoint, t.client)
	if err != nil {
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Notify(ctx context.Context, report orchestrator.Report) error {
	outcomes := notable(report)
	if len(outcomes) == 0 {
		return nil
	}

	bot, err := t.api()
	if err != nil {
		return fmt.Errorf("telegram: %s", provider.Redact(err.Error(), t.Token))
	}
	if _, err := bot.Send(tg.NewMessage(t.ChatID, summary(report, outcomes))); err != nil {
		return fmt.Errorf("telegram: send message: %s", provider.Redact(err.Error(), t.Token))
	}
	return nil
}
