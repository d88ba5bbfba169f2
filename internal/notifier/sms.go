package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const smsMaxLength = 320

// SMSConfig configures SMS delivery through Twilio or Vonage.
type SMSConfig struct {
	Provider      string   `mapstructure:"provider"`
	AccountSID    string   `mapstructure:"account_sid"`
	AuthTokenRef  string   `mapstructure:"auth_token_ref"`
	APIKeyRef     string   `mapstructure:"api_key_ref"`
	APISecretRef  string   `mapstructure:"api_secret_ref"`
	From          string   `mapstructure:"from"`
	To            []string `mapstructure:"to"`
	MessagePrefix string   `mapstructure:"message_prefix"`
	APIBase       string   `mapstructure:"api_base"`
}

type smsNotifier struct {
	id       string
	cfg      SMSConfig
	user     string
	password string
	client   *http.Client
	build    func(to, body string) (string, url.Values)
}

// NewSMSNotifier constructs an SMS notifier for the configured provider.
func NewSMSNotifier(id string, cfg SMSConfig, secrets map[string]string) (Notifier, error) {
	if len(cfg.To) == 0 || cfg.From == "" {
		return nil, fmt.Errorf("from and to are required")
	}
	lookup := func(ref string) (string, error) {
		val, ok := secrets[ref]
		if ref == "" || !ok {
			return "", fmt.Errorf("missing secret %q", ref)
		}
		return val, nil
	}

	if cfg.Provider == "" {
		cfg.Provider = "twilio"
	}
	n := &smsNotifier{
		id:     id,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	switch strings.ToLower(cfg.Provider) {
	case "twilio":
		token, err := lookup(cfg.AuthTokenRef)
		if err != nil {
			return nil, err
		}
		base := cfg.APIBase
		if base == "" {
			base = "https://api.twilio.com"
		}
		n.user, n.password = cfg.AccountSID, token
		n.build = func(to, body string) (string, url.Values) {
			form := url.Values{}
			form.Set("From", cfg.From)
			form.Set("To", to)
			form.Set("Body", body)
			return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(base, "/"), cfg.AccountSID), form
		}
	case "vonage":
		key, err := lookup(cfg.APIKeyRef)
		if err != nil {
			return nil, err
		}
		secret, err := lookup(cfg.APISecretRef)
		if err != nil {
			return nil, err
		}
		base := cfg.APIBase
		if base == "" {
			base = "https://rest.nexmo.com"
		}
		n.build = func(to, body string) (string, url.Values) {
			form := url.Values{}
			form.Set("api_key", key)
			form.Set("api_secret", secret)
			form.Set("from", cfg.From)
			form.Set("to", to)
			form.Set("text", body)
			return strings.TrimRight(base, "/") + "/sms/json", form
		}
	default:
		return nil, fmt.Errorf("unsupported sms provider %q", cfg.Provider)
	}
	return n, nil
}

func (s *smsNotifier) ID() string {
	return s.id
}

func (s *smsNotifier) Notify(ctx context.Context, event Event) error {
	body := fmt.Sprintf("%s (was: %s)", event.Subject(), event.previousOrUnknown())
	if s.cfg.MessagePrefix != "" {
		body = s.cfg.MessagePrefix + " " + body
	}
	if len(body) > smsMaxLength {
		body = body[:smsMaxLength-3] + "..."
	}
	for _, to := range s.cfg.To {
		if err := s.send(ctx, to, body); err != nil {
			return fmt.Errorf("sms to %s: %w", to, err)
		}
	}
	return nil
}

func (s *smsNotifier) send(ctx context.Context, to, body string) error {
	endpoint, form := s.build(to, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s sms failed: %s", strings.ToLower(s.cfg.Provider), resp.Status)
	}
	return nil
}
