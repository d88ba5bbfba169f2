package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	discordColorChanged  = 0x2f80ed
	discordColorApproved = 0x27ae60
)

// DiscordConfig configures a Discord webhook. Changes are posted as a
// single embed with the previous and new status as fields.
type DiscordConfig struct {
	WebhookURLRef string `mapstructure:"webhook_url_ref"`
	Username      string `mapstructure:"username"`
	// ApprovedTag colours the embed green when the matching rule tag is set.
	ApprovedTag string `mapstructure:"approved_tag"`
}

type discordNotifier struct {
	id     string
	cfg    DiscordConfig
	url    string
	client *http.Client
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	URL       string         `json:"url,omitempty"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content"`
	Embeds   []discordEmbed `json:"embeds"`
}

func NewDiscordNotifier(id string, cfg DiscordConfig, secrets map[string]string) (Notifier, error) {
	url, ok := secrets[cfg.WebhookURLRef]
	if !ok || url == "" {
		return nil, fmt.Errorf("missing secret %q", cfg.WebhookURLRef)
	}
	if cfg.ApprovedTag == "" {
		cfg.ApprovedTag = "approved"
	}
	return &discordNotifier{
		id:     id,
		cfg:    cfg,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (d *discordNotifier) ID() string {
	return d.id
}

func (d *discordNotifier) Notify(ctx context.Context, event Event) error {
	color := discordColorChanged
	if event.Tag != "" && event.Tag == d.cfg.ApprovedTag {
		color = discordColorApproved
	}
	msg := discordMessage{
		Username: d.cfg.Username,
		Content:  event.Subject(),
		Embeds: []discordEmbed{{
			Title: "Status changed",
			URL:   event.Link,
			Color: color,
			Fields: []discordField{
				{Name: "Previous", Value: event.previousOrUnknown(), Inline: true},
				{Name: "Current", Value: event.Current, Inline: true},
			},
			Timestamp: event.ObservedAt.UTC().Format(time.RFC3339),
		}},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return postJSON(ctx, d.client, d.url, b, "discord webhook")
}
