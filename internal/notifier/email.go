package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/osbits/statuswatch/internal/render"
)

const defaultSMTPTimeout = 30 * time.Second

const defaultEmailHTML = `<html>
  <body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2 style="color: #d9534f;">Status updated</h2>
    <p>The watched status changed on <strong>{{ .changed_at }}</strong>.</p>
    <hr style="border: none; border-top: 1px solid #ddd; margin: 20px 0;">
    <h3>Previous status</h3>
    <div style="background-color: #f5f5f5; padding: 10px; border-left: 4px solid #5cb85c; margin-bottom: 15px;">
      <p><strong>{{ .previous }}</strong></p>
    </div>
    <h3>New status</h3>
    <div style="background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin-bottom: 15px;">
      <p><strong>{{ .current }}</strong></p>
    </div>
    {{- if .link }}
    <hr style="border: none; border-top: 1px solid #ddd; margin: 20px 0;">
    <p>Open the portal for the full details.</p>
    <p><a href="{{ .link }}">{{ .link }}</a></p>
    {{- end }}
  </body>
</html>`

// EmailConfig contains SMTP configuration.
type EmailConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	Username    string   `mapstructure:"username"`
	PasswordRef string   `mapstructure:"password_ref"`
	From        string   `mapstructure:"from"`
	To          []string `mapstructure:"to"`
	// TLSMode is starttls (default), tls or none.
	TLSMode         string `mapstructure:"tls_mode"`
	SubjectTemplate string `mapstructure:"subject_template"`
	HTMLTemplate    string `mapstructure:"html_template"`
	// Timeout bounds one SMTP delivery, e.g. "45s". Defaults to 30s.
	Timeout time.Duration `mapstructure:"timeout"`
}

type emailNotifier struct {
	id       string
	cfg      EmailConfig
	password string
	secrets  map[string]string
	renderer *render.Engine
	send     func(em *email.Email, addr string, auth smtp.Auth) error
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(id string, cfg EmailConfig, secrets map[string]string, engine *render.Engine) (Notifier, error) {
	pass, ok := secrets[cfg.PasswordRef]
	if cfg.PasswordRef != "" && !ok {
		return nil, fmt.Errorf("missing secret %q", cfg.PasswordRef)
	}
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("from and to are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if engine == nil {
		engine = render.New()
	}
	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	n := &emailNotifier{
		id:       id,
		cfg:      cfg,
		password: pass,
		secrets:  secrets,
		renderer: engine,
	}
	switch cfg.TLSMode {
	case "", "starttls":
		n.send = func(em *email.Email, addr string, auth smtp.Auth) error {
			return em.SendWithStartTLS(addr, auth, n.tlsConfig())
		}
	case "tls":
		n.send = func(em *email.Email, addr string, auth smtp.Auth) error {
			return em.SendWithTLS(addr, auth, n.tlsConfig())
		}
	case "none":
		n.send = func(em *email.Email, addr string, auth smtp.Auth) error {
			return em.Send(addr, auth)
		}
	default:
		return nil, fmt.Errorf("unsupported tls_mode %q", cfg.TLSMode)
	}
	return n, nil
}

func (e *emailNotifier) ID() string {
	return e.id
}

func (e *emailNotifier) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: e.cfg.SMTPHost}
}

func (e *emailNotifier) Notify(ctx context.Context, event Event) error {
	em, err := e.message(event)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.password, e.cfg.SMTPHost)
	}
	if err := e.deliver(ctx, em, addr, auth); err != nil {
		return fmt.Errorf("send email via %s: %w", addr, err)
	}
	return nil
}

// deliver bounds the blocking SMTP exchange by the configured timeout and ctx.
// On expiry the send goroutine is left to finish when the connection drops.
func (e *emailNotifier) deliver(ctx context.Context, em *email.Email, addr string, auth smtp.Auth) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.send(em, addr, auth)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp delivery aborted: %w", ctx.Err())
	}
}

func (e *emailNotifier) message(event Event) (*email.Email, error) {
	rctx := render.TemplateContext{Secrets: e.secrets, Data: event.templateData()}

	subject := event.Subject()
	if e.cfg.SubjectTemplate != "" {
		rendered, err := e.renderer.RenderString(e.cfg.SubjectTemplate, rctx)
		if err != nil {
			return nil, fmt.Errorf("render subject: %w", err)
		}
		subject = strings.TrimSpace(rendered)
	}

	tmpl := e.cfg.HTMLTemplate
	if tmpl == "" {
		tmpl = defaultEmailHTML
	}
	html, err := e.renderer.RenderHTML(tmpl, rctx)
	if err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	em := email.NewEmail()
	em.From = e.cfg.From
	em.To = append([]string{}, e.cfg.To...)
	em.Subject = subject
	em.Text = []byte(event.Summary())
	em.HTML = []byte(html)
	return em, nil
}
