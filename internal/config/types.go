package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to allow YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("duration must be a string, got %s", value.ShortTag())
	}
}

// NullableDuration allows distinguishing between zero and unset durations.
type NullableDuration struct {
	Duration time.Duration
	Set      bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *NullableDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && strings.TrimSpace(value.Value) == "" {
		d.Set = false
		return nil
	}
	var tmp Duration
	if err := value.Decode(&tmp); err != nil {
		return err
	}
	d.Duration = tmp.Duration
	d.Set = true
	return nil
}

// Config is the root configuration.
type Config struct {
	Version     int                   `yaml:"version"`
	Service     ServiceConfig         `yaml:"service"`
	Portal      PortalConfig          `yaml:"portal"`
	Extract     ExtractConfig         `yaml:"extract"`
	Schedule    ScheduleConfig        `yaml:"schedule"`
	Store       StoreConfig           `yaml:"store"`
	Secrets     map[string]SecretSpec `yaml:"secrets"`
	Notifiers   []NotifierConfig      `yaml:"notifiers"`
	Rules       []RuleConfig          `yaml:"rules"`
	API         APIConfig             `yaml:"api"`
	Metrics     MetricsConfig         `yaml:"metrics"`
	Diagnostics DiagnosticsConfig     `yaml:"diagnostics"`
}

// ServiceConfig contains global settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// RunMode is "headless" or "visible".
	RunMode string `yaml:"run_mode"`
}

// Visible reports whether navigation steps should be logged at info level.
func (s ServiceConfig) Visible() bool {
	return strings.EqualFold(s.RunMode, RunModeVisible)
}

// PortalConfig points at the authenticated page being watched.
type PortalConfig struct {
	LoginURL  string           `yaml:"login_url"`
	StatusURL string           `yaml:"status_url"`
	Username  string           `yaml:"username"`
	Password  string           `yaml:"password"`
	Flow      string           `yaml:"flow"`
	Form      FormConfig       `yaml:"form"`
	Token     TokenConfig      `yaml:"token"`
	Timeout   Duration         `yaml:"timeout"`
	Settle    NullableDuration `yaml:"settle"`
	UserAgent string           `yaml:"user_agent"`
}

// FormConfig overrides login form discovery.
type FormConfig struct {
	Selector      string            `yaml:"selector"`
	UsernameField string            `yaml:"username_field"`
	PasswordField string            `yaml:"password_field"`
	Extra         map[string]string `yaml:"extra"`
}

// TokenConfig configures the http-token login flow.
type TokenConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Body    string            `yaml:"body"`
	Headers map[string]string `yaml:"headers"`
	Capture CaptureSpec       `yaml:"capture"`
	Header  string            `yaml:"header"`
	Prefix  string            `yaml:"prefix"`
}

// CaptureSpec selects the token in the JSON login response.
type CaptureSpec struct {
	Path string `yaml:"path"`
}

// ExtractConfig tunes the status heuristic.
type ExtractConfig struct {
	Marker    string `yaml:"marker"`
	Lookahead int    `yaml:"lookahead"`
	MinLength int    `yaml:"min_length"`
}

// ScheduleConfig controls the poll loop.
type ScheduleConfig struct {
	Interval           Duration          `yaml:"interval"`
	Cron               string            `yaml:"cron"`
	MaxAttempts        int               `yaml:"max_attempts"`
	RetryDelay         Duration          `yaml:"retry_delay"`
	FallbackDelay      Duration          `yaml:"fallback_delay"`
	MaintenanceWindows []MaintenanceSpec `yaml:"maintenance_windows"`
}

// StoreConfig selects the status backend and optional history database.
type StoreConfig struct {
	Backend               string `yaml:"backend"`
	Path                  string `yaml:"path"`
	HistoryPath           string `yaml:"history_path"`
	CheckRunRetention     int    `yaml:"check_run_retention"`
	NotificationRetention int    `yaml:"notification_retention"`
}

// RuleConfig tags or routes notifications when its expression matches.
type RuleConfig struct {
	When      string   `yaml:"when"`
	Tag       string   `yaml:"tag"`
	Notifiers []string `yaml:"notifiers"`
}

// APIConfig enables the read-only status API.
type APIConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedCIDRs   []string `yaml:"allowed_cidrs"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// MetricsConfig enables the node_exporter textfile.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// DiagnosticsConfig enables DNS and ping probes after network failures.
type DiagnosticsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Resolver   string   `yaml:"resolver"`
	Ping       bool     `yaml:"ping"`
	Privileged bool     `yaml:"privileged"` // raw ICMP sockets, needs CAP_NET_RAW
	Timeout    Duration `yaml:"timeout"`
}

// MaintenanceSpec includes cron or range expressions.
type MaintenanceSpec struct {
	Expr string
	Kind MaintenanceKind
}

// MaintenanceKind indicates the maintenance window type.
type MaintenanceKind string

const (
	MaintenanceKindCron  MaintenanceKind = "cron"
	MaintenanceKindRange MaintenanceKind = "range"
)

// UnmarshalYAML allows parsing "cron: ..." or "range: ...".
func (m *MaintenanceSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("maintenance spec must be scalar, got %s", value.ShortTag())
	}
	raw := strings.TrimSpace(value.Value)
	switch {
	case strings.HasPrefix(raw, "cron:"):
		m.Kind = MaintenanceKindCron
		m.Expr = strings.TrimSpace(strings.TrimPrefix(raw, "cron:"))
	case strings.HasPrefix(raw, "range:"):
		m.Kind = MaintenanceKindRange
		m.Expr = strings.TrimSpace(strings.TrimPrefix(raw, "range:"))
	default:
		return fmt.Errorf("unsupported maintenance spec %q", raw)
	}
	return nil
}

// SecretSpec defines how to resolve a secret.
type SecretSpec struct {
	Source string
	Value  string
}

// UnmarshalYAML parses secret definitions like "env:SENDER_PASSWORD",
// "file:/run/secrets/smtp" or "literal:value".
func (s *SecretSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("secret must be scalar, got %s", value.ShortTag())
	}
	raw := strings.TrimSpace(value.Value)
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid secret spec %q", raw)
	}
	s.Source = strings.TrimSpace(parts[0])
	s.Value = strings.TrimSpace(parts[1])
	return nil
}

// ResolveSecrets resolves secrets into a map.
func (c *Config) ResolveSecrets() (map[string]string, error) {
	resolved := make(map[string]string, len(c.Secrets))
	for key, spec := range c.Secrets {
		switch spec.Source {
		case "env":
			val, ok := os.LookupEnv(spec.Value)
			if !ok {
				return nil, fmt.Errorf("missing env var %q for secret %q", spec.Value, key)
			}
			resolved[key] = val
		case "file":
			raw, err := os.ReadFile(spec.Value)
			if err != nil {
				return nil, fmt.Errorf("read secret %q: %w", key, err)
			}
			resolved[key] = strings.TrimRight(string(raw), "\r\n")
		case "literal":
			resolved[key] = spec.Value
		default:
			return nil, fmt.Errorf("unsupported secret source %q for secret %q", spec.Source, key)
		}
	}
	return resolved, nil
}

// NotifierConfig describes a notification endpoint.
type NotifierConfig struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}
