package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
)

// Error lists every missing or invalid setting found at startup.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if len(e.Missing) > 0 {
		b.WriteString("; missing: ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		b.WriteString("; invalid: ")
		b.WriteString(strings.Join(e.Invalid, "; "))
	}
	return b.String()
}

func (e *Error) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// Validate checks the loaded configuration and returns a *Error naming every
// problem, or nil.
func (c *Config) Validate() error {
	verr := &Error{}
	missing := func(item string) { verr.Missing = append(verr.Missing, item) }
	invalid := func(format string, args ...any) { verr.Invalid = append(verr.Invalid, fmt.Sprintf(format, args...)) }

	if c.Portal.LoginURL == "" {
		missing("portal.login_url (WATCH_LOGIN_URL)")
	} else if u, err := url.Parse(c.Portal.LoginURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid("portal.login_url %q is not an absolute URL", c.Portal.LoginURL)
	}
	if !strings.EqualFold(c.Portal.Flow, "none") {
		if c.Portal.Username == "" {
			missing("portal.username (WATCH_USERNAME)")
		}
		if c.Portal.Password == "" {
			missing("portal.password (WATCH_PASSWORD)")
		}
	}
	if strings.EqualFold(c.Portal.Flow, "http-token") && c.Portal.Token.Capture.Path == "" {
		missing("portal.token.capture.path")
	}

	switch strings.ToLower(c.Service.RunMode) {
	case RunModeHeadless, RunModeVisible:
	default:
		invalid("service.run_mode %q must be %q or %q", c.Service.RunMode, RunModeHeadless, RunModeVisible)
	}
	switch strings.ToLower(c.Store.Backend) {
	case BackendFile, BackendSQLite:
	default:
		invalid("store.backend %q must be %q or %q", c.Store.Backend, BackendFile, BackendSQLite)
	}

	if c.Schedule.FallbackDelay.Duration <= c.Schedule.RetryDelay.Duration {
		invalid("schedule.fallback_delay (%s) must exceed schedule.retry_delay (%s)", c.Schedule.FallbackDelay.Duration, c.Schedule.RetryDelay.Duration)
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			invalid("schedule.cron: %v", err)
		}
	}
	for _, mw := range c.Schedule.MaintenanceWindows {
		if mw.Kind == MaintenanceKindCron {
			if _, err := cron.ParseStandard(mw.Expr); err != nil {
				invalid("maintenance window %q: %v", mw.Expr, err)
			}
		}
	}

	for name, spec := range c.Secrets {
		if spec.Source == "env" {
			if _, ok := os.LookupEnv(spec.Value); !ok {
				missing(fmt.Sprintf("%s (secret %q)", spec.Value, name))
			}
		}
	}

	if len(c.Notifiers) == 0 {
		missing("notifiers (SENDER_EMAIL, RECEIVER_EMAIL or a notifiers block)")
	}
	ids := map[string]struct{}{}
	for i, n := range c.Notifiers {
		if n.ID == "" {
			missing(fmt.Sprintf("notifiers[%d].id", i))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			invalid("duplicate notifier id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
		if n.Type == "email" {
			c.validateEmail(n, missing)
		}
	}
	for i, r := range c.Rules {
		if strings.TrimSpace(r.When) == "" {
			missing(fmt.Sprintf("rules[%d].when", i))
		}
		for _, id := range r.Notifiers {
			if _, ok := ids[id]; !ok {
				invalid("rules[%d] references unknown notifier %q", i, id)
			}
		}
	}

	if verr.empty() {
		return nil
	}
	return verr
}

func (c *Config) validateEmail(n NotifierConfig, missing func(string)) {
	str := func(key string) string {
		v, _ := n.Config[key].(string)
		return strings.TrimSpace(v)
	}
	if str("from") == "" {
		missing(fmt.Sprintf("notifiers.%s.from (SENDER_EMAIL)", n.ID))
	}
	switch to := n.Config["to"].(type) {
	case []string:
		if len(to) == 0 {
			missing(fmt.Sprintf("notifiers.%s.to (RECEIVER_EMAIL)", n.ID))
		}
	case []any:
		if len(to) == 0 {
			missing(fmt.Sprintf("notifiers.%s.to (RECEIVER_EMAIL)", n.ID))
		}
	case string:
		if strings.TrimSpace(to) == "" {
			missing(fmt.Sprintf("notifiers.%s.to (RECEIVER_EMAIL)", n.ID))
		}
	default:
		missing(fmt.Sprintf("notifiers.%s.to (RECEIVER_EMAIL)", n.ID))
	}
	ref := str("password_ref")
	if ref == "" {
		missing(fmt.Sprintf("notifiers.%s.password_ref (SENDER_PASSWORD)", n.ID))
		return
	}
	if _, ok := c.Secrets[ref]; !ok {
		missing(fmt.Sprintf("secret %q for notifiers.%s", ref, n.ID))
	}
}
