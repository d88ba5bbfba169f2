package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TelegramConfig configures Telegram notifications.
type TelegramConfig struct {
	BotTokenRef string `mapstructure:"bot_token_ref"`
	ChatID      string `mapstructure:"chat_id"`
	ParseMode   string `mapstructure:"parse_mode"`
	APIBase     string `mapstructure:"api_base"`
}

type telegramNotifier struct {
	id     string
	cfg    TelegramConfig
	token  string
	client *http.Client
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(id string, cfg TelegramConfig, secrets map[string]string) (Notifier, error) {
	token, ok := secrets[cfg.BotTokenRef]
	if cfg.BotTokenRef != "" && !ok {
		return nil, fmt.Errorf("missing secret %q", cfg.BotTokenRef)
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("chat_id is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	return &telegramNotifier{
		id:    id,
		cfg:   cfg,
		token: token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (t *telegramNotifier) ID() string {
	return t.id
}

func (t *telegramNotifier) Notify(ctx context.Context, event Event) error {
	parseMode := t.cfg.ParseMode
	text := event.Subject() + "\n\n" + event.Summary()
	if parseMode == "" {
		parseMode = "HTML"
		text = fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(event.Subject()), escapeHTML(event.Summary()))
	}
	payload := map[string]any{
		"chat_id":    t.cfg.ChatID,
		"text":       text,
		"parse_mode": parseMode,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIBase, "/"), t.token)
	return postJSON(ctx, t.client, url, b, "telegram response")
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// postJSON sends body and treats any non-2xx answer as a failure.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, label string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", label, resp.Status)
	}
	return nil
}
