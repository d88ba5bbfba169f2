package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/osbits/statuswatch/internal/config"
	"github.com/osbits/statuswatch/internal/render"
)

func sampleEvent() Event {
	return Event{
		Previous:   "In Review",
		Current:    "Approved <b>now</b>",
		ObservedAt: time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
		RunID:      "run-1",
		Link:       "https://portal.example.com/login",
		Service:    "visa",
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capture struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
	forms   []map[string][]string
}

func (c *capture) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			_ = r.ParseForm()
			c.forms = append(c.forms, r.PostForm)
		} else {
			b, _ := io.ReadAll(r.Body)
			c.bodies = append(c.bodies, b)
		}
		c.headers = append(c.headers, r.Header.Clone())
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmailMessageEscapesStatus(t *testing.T) {
	n, err := NewEmailNotifier("email", EmailConfig{
		SMTPHost:    "smtp.example.com",
		From:        "alerts@example.com",
		To:          []string{"ana@example.com"},
		PasswordRef: "pw",
	}, map[string]string{"pw": "secret"}, render.New())
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	em, err := n.(*emailNotifier).message(sampleEvent())
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	html := string(em.HTML)
	if strings.Contains(html, "<b>now</b>") {
		t.Fatalf("status was not escaped:\n%s", html)
	}
	if !strings.Contains(html, "In Review") || !strings.Contains(html, `href="https://portal.example.com/login"`) {
		t.Fatalf("html body missing content:\n%s", html)
	}
	if !strings.Contains(string(em.Text), "Previous status: In Review") {
		t.Fatalf("text body missing previous status: %s", em.Text)
	}
	if em.Subject != `visa: status updated to "Approved <b>now</b>"` {
		t.Fatalf("unexpected subject %q", em.Subject)
	}
	if n.(*emailNotifier).cfg.SMTPPort != 587 {
		t.Fatalf("expected default submission port")
	}
}

func TestEmailNotifierSendsThroughTransport(t *testing.T) {
	n, err := NewEmailNotifier("email", EmailConfig{
		SMTPHost:        "smtp.example.com",
		SMTPPort:        2525,
		Username:        "alerts@example.com",
		From:            "alerts@example.com",
		To:              []string{"ana@example.com"},
		TLSMode:         "none",
		SubjectTemplate: "{{ .tag | default \"update\" | upper }}: {{ .current }}",
	}, nil, nil)
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	en := n.(*emailNotifier)
	var gotAddr, gotSubject string
	en.send = func(em *email.Email, addr string, _ smtp.Auth) error {
		gotAddr, gotSubject = addr, em.Subject
		return nil
	}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" {
		t.Fatalf("unexpected addr %q", gotAddr)
	}
	if gotSubject != "UPDATE: Approved <b>now</b>" {
		t.Fatalf("unexpected subject %q", gotSubject)
	}
}

func TestEmailNotifierGivesUpOnStalledServer(t *testing.T) {
	n, err := NewEmailNotifier("email", EmailConfig{
		SMTPHost: "smtp.example.com",
		From:     "alerts@example.com",
		To:       []string{"ana@example.com"},
		TLSMode:  "none",
		Timeout:  20 * time.Millisecond,
	}, nil, nil)
	if err != nil {
		t.Fatalf("new email notifier: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	n.(*emailNotifier).send = func(*email.Email, string, smtp.Auth) error {
		<-release
		return nil
	}

	start := time.Now()
	err = n.Notify(context.Background(), sampleEvent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("notify blocked for %s", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Notify(ctx, sampleEvent()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestEmailTimeoutFromConfig(t *testing.T) {
	reg, err := Build(Factory{}, []config.NotifierConfig{{ID: "email", Type: "email", Config: map[string]any{
		"smtp_host": "smtp.example.com", "from": "a@example.com", "to": "b@example.com", "timeout": "45s",
	}}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	n, _ := reg.Get("email")
	if got := n.(*emailNotifier).cfg.Timeout; got != 45*time.Second {
		t.Fatalf("timeout = %s, want 45s", got)
	}
}

func TestEmailNotifierValidation(t *testing.T) {
	if _, err := NewEmailNotifier("e", EmailConfig{SMTPHost: "h", From: "a", To: []string{"b"}, PasswordRef: "x"}, nil, nil); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewEmailNotifier("e", EmailConfig{SMTPHost: "h", From: "a", To: []string{"b"}, TLSMode: "ssl3"}, nil, nil); err == nil {
		t.Fatalf("expected tls mode error")
	}
}

func TestWebhookDefaultPayload(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusNoContent)
	n, err := NewWebhookNotifier("hook", WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": `{{ secret "token" }}`},
	}, map[string]string{"token": "abc"}, render.New())
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(c.bodies[0], &payload); err != nil {
		t.Fatalf("payload is not json: %v (%s)", err, c.bodies[0])
	}
	if payload["previous"] != "In Review" || payload["current"] != "Approved <b>now</b>" || payload["event"] != "status_changed" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if c.headers[0].Get("X-Token") != "abc" || c.headers[0].Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected headers %+v", c.headers[0])
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusInternalServerError)
	n, _ := NewWebhookNotifier("hook", WebhookConfig{URL: srv.URL, Template: "changed to {{ .current }}"}, nil, nil)
	if err := n.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error on 500")
	}
	if c.headers[0].Get("Content-Type") != "text/plain" {
		t.Fatalf("expected text/plain for non-json template")
	}
}

func TestChatNotifiers(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusOK)
	secrets := map[string]string{"hook": srv.URL, "bot": "123:abc"}

	slack, err := NewSlackNotifier("slack", SlackConfig{WebhookURLRef: "hook", Channel: "#visa"}, secrets)
	if err != nil {
		t.Fatalf("slack: %v", err)
	}
	discord, err := NewDiscordNotifier("discord", DiscordConfig{WebhookURLRef: "hook"}, secrets)
	if err != nil {
		t.Fatalf("discord: %v", err)
	}
	telegram, err := NewTelegramNotifier("tg", TelegramConfig{BotTokenRef: "bot", ChatID: "42", APIBase: srv.URL}, secrets)
	if err != nil {
		t.Fatalf("telegram: %v", err)
	}
	for _, n := range []Notifier{slack, discord, telegram} {
		if err := n.Notify(context.Background(), sampleEvent()); err != nil {
			t.Fatalf("%s notify: %v", n.ID(), err)
		}
	}
	if len(c.bodies) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(c.bodies))
	}
	var tg map[string]any
	if err := json.Unmarshal(c.bodies[2], &tg); err != nil {
		t.Fatalf("telegram payload: %v", err)
	}
	if tg["parse_mode"] != "HTML" || strings.Contains(tg["text"].(string), "<b>now</b>") {
		t.Fatalf("telegram text not escaped: %+v", tg)
	}
	var dc discordMessage
	if err := json.Unmarshal(c.bodies[1], &dc); err != nil {
		t.Fatalf("discord payload: %v", err)
	}
	if len(dc.Embeds) != 1 || len(dc.Embeds[0].Fields) != 2 || dc.Embeds[0].Fields[1].Value != sampleEvent().Current {
		t.Fatalf("unexpected discord embed: %+v", dc)
	}

	if _, err := NewSlackNotifier("slack", SlackConfig{WebhookURLRef: "absent"}, secrets); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestSMSProviders(t *testing.T) {
	var c capture
	srv := c.server(t, http.StatusCreated)
	secrets := map[string]string{"twilio": "tok", "key": "k", "secret": "s"}

	tw, err := NewSMSNotifier("sms", SMSConfig{AccountSID: "AC1", AuthTokenRef: "twilio", From: "+1", To: []string{"+2", "+3"}, APIBase: srv.URL}, secrets)
	if err != nil {
		t.Fatalf("twilio: %v", err)
	}
	vn, err := NewSMSNotifier("sms2", SMSConfig{Provider: "vonage", APIKeyRef: "key", APISecretRef: "secret", From: "watch", To: []string{"+4"}, APIBase: srv.URL}, secrets)
	if err != nil {
		t.Fatalf("vonage: %v", err)
	}
	if err := tw.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("twilio notify: %v", err)
	}
	if err := vn.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("vonage notify: %v", err)
	}
	if len(c.forms) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(c.forms))
	}
	if c.forms[1]["To"][0] != "+3" || !strings.Contains(c.forms[0]["Body"][0], "was: In Review") {
		t.Fatalf("unexpected twilio form %+v", c.forms)
	}
	if c.forms[2]["api_key"][0] != "k" {
		t.Fatalf("unexpected vonage form %+v", c.forms[2])
	}

	if _, err := NewSMSNotifier("x", SMSConfig{Provider: "pigeon", From: "a", To: []string{"b"}}, secrets); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestBuildDecodesNotifierConfig(t *testing.T) {
	reg, err := Build(Factory{Secrets: map[string]string{"pw": "x"}, Render: render.New()}, []config.NotifierConfig{
		{ID: "email", Type: "email", Config: map[string]any{
			"smtp_host": "smtp.example.com", "smtp_port": "465", "from": "a@example.com",
			"to": "b@example.com", "password_ref": "pw", "tls_mode": "tls",
		}},
		{ID: "hook", Type: "webhook", Config: map[string]any{"url": "https://hooks.example.com"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := reg.IDs(); len(got) != 2 || got[0] != "email" || got[1] != "hook" {
		t.Fatalf("unexpected ids %v", got)
	}
	em, _ := reg.Get("email")
	cfg := em.(*emailNotifier).cfg
	if cfg.SMTPPort != 465 || len(cfg.To) != 1 {
		t.Fatalf("weak decoding failed: %+v", cfg)
	}

	if _, err := Build(Factory{}, []config.NotifierConfig{{ID: "x", Type: "carrier-pigeon"}}); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

type fakeNotifier struct {
	id     string
	err    error
	events []Event
}

func (f *fakeNotifier) ID() string { return f.id }

func (f *fakeNotifier) Notify(_ context.Context, e Event) error {
	f.events = append(f.events, e)
	return f.err
}

func TestDispatcherPartialFailure(t *testing.T) {
	ok := &fakeNotifier{id: "ok"}
	bad := &fakeNotifier{id: "bad", err: errors.New("smtp down")}
	reg := NewRegistry()
	_ = reg.Add(bad)
	_ = reg.Add(ok)

	res := NewDispatcher(reg, nil, quiet()).Dispatch(context.Background(), sampleEvent())
	if !res.Delivered {
		t.Fatalf("expected delivery through the healthy notifier")
	}
	if err := res.Err(); err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("each notifier must be called exactly once")
	}
}

func TestDispatcherNoNotifiers(t *testing.T) {
	res := NewDispatcher(nil, nil, quiet()).Dispatch(context.Background(), sampleEvent())
	if res.Delivered || !errors.Is(res.Err(), ErrNoNotifiers) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRulesRouteAndTag(t *testing.T) {
	rules, err := CompileRules([]config.RuleConfig{
		{When: "current =~ '(?i)approved'", Tag: "approved", Notifiers: []string{"sms"}},
		{When: "first_seen == false", Tag: "update"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	sms := &fakeNotifier{id: "sms"}
	mail := &fakeNotifier{id: "mail"}
	reg := NewRegistry()
	_ = reg.Add(mail)
	_ = reg.Add(sms)
	d := NewDispatcher(reg, rules, quiet())

	res := d.Dispatch(context.Background(), sampleEvent())
	if res.Tag != "approved" || len(sms.events) != 1 || len(mail.events) != 0 {
		t.Fatalf("approved rule not applied: %+v", res)
	}
	if sms.events[0].Tag != "approved" {
		t.Fatalf("tag not propagated to event")
	}

	other := sampleEvent()
	other.Current = "Waiting for documents"
	res = d.Dispatch(context.Background(), other)
	if res.Tag != "update" || len(mail.events) != 1 || len(sms.events) != 2 {
		t.Fatalf("fallback rule should reach every notifier: %+v", res)
	}
	if !strings.HasPrefix(mail.events[0].Subject(), "[UPDATE]") {
		t.Fatalf("unexpected subject %q", mail.events[0].Subject())
	}

	if _, err := CompileRules([]config.RuleConfig{{When: "current =="}}); err == nil {
		t.Fatalf("expected parse error")
	}
}
