package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RunModeHeadless = "headless"
	RunModeVisible  = "visible"

	BackendFile   = "file"
	BackendSQLite = "sqlite"

	DefaultMarker        = "Estado do Processo"
	DefaultInterval      = 60 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultRetryDelay    = 30 * time.Second
	DefaultFallbackDelay = 5 * time.Minute
	DefaultPortalTimeout = 30 * time.Second
	DefaultSettle        = 2 * time.Second
	DefaultStatusFile    = "data/last_status.json"

	// EmailNotifierID names the notifier synthesised from SENDER_* variables.
	EmailNotifierID       = "email"
	senderPasswordSecret  = "sender_password"
	defaultSMTPServer     = "smtp.gmail.com"
	defaultSMTPPort       = 587
	defaultConfigFileName = "statuswatch.yaml"
)

// DefaultPath is used when neither --config nor STATUSWATCH_CONFIG is set.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv("STATUSWATCH_CONFIG")); v != "" {
		return v
	}
	return defaultConfigFileName
}

// Load reads the YAML file at path, applies environment overrides and
// fills defaults. A missing file is only tolerated when optional is set,
// which lets the watcher run from environment variables alone.
func Load(path string, optional bool) (*Config, error) {
	cfg := &Config{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && optional:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Service.Name == "" {
		c.Service.Name = "statuswatch"
	}
	if c.Service.LogFormat == "" {
		c.Service.LogFormat = "json"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}
	if c.Service.RunMode == "" {
		c.Service.RunMode = RunModeHeadless
	}
	if c.Portal.Timeout.Duration <= 0 {
		c.Portal.Timeout.Duration = DefaultPortalTimeout
	}
	if !c.Portal.Settle.Set {
		c.Portal.Settle = NullableDuration{Duration: DefaultSettle, Set: true}
	}
	if c.Extract.Marker == "" {
		c.Extract.Marker = DefaultMarker
	}
	if c.Schedule.Interval.Duration <= 0 {
		c.Schedule.Interval.Duration = DefaultInterval
	}
	if c.Schedule.MaxAttempts <= 0 {
		c.Schedule.MaxAttempts = DefaultMaxAttempts
	}
	if c.Schedule.RetryDelay.Duration <= 0 {
		c.Schedule.RetryDelay.Duration = DefaultRetryDelay
	}
	if c.Schedule.FallbackDelay.Duration <= 0 {
		c.Schedule.FallbackDelay.Duration = DefaultFallbackDelay
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStatusFile
	}
	if c.Secrets == nil {
		c.Secrets = map[string]SecretSpec{}
	}
}

// applyEnvOverrides maps the watcher's historical environment variables onto
// the YAML structure. Environment always wins over the file.
func (c *Config) applyEnvOverrides() error {
	if v := envString("WATCH_USERNAME"); v != "" {
		c.Portal.Username = v
	}
	if v := envString("WATCH_PASSWORD"); v != "" {
		c.Portal.Password = v
	}
	if v := envString("WATCH_LOGIN_URL"); v != "" {
		c.Portal.LoginURL = v
	}
	if v := envString("WATCH_STATUS_URL"); v != "" {
		c.Portal.StatusURL = v
	}
	if v := envString("WATCH_MARKER"); v != "" {
		c.Extract.Marker = v
	}
	if v := envString("STATUS_FILE"); v != "" {
		c.Store.Path = v
	}
	if v := envString("LOG_LEVEL"); v != "" {
		c.Service.LogLevel = v
	}
	if v := envString("LOG_FORMAT"); v != "" {
		c.Service.LogFormat = v
	}

	minutes, err := parseIntEnv("CHECK_INTERVAL_MINUTES", 0)
	if err != nil {
		return err
	}
	if minutes > 0 {
		c.Schedule.Interval.Duration = time.Duration(minutes) * time.Minute
	}
	attempts, err := parseIntEnv("MAX_RETRIES", 0)
	if err != nil {
		return err
	}
	if attempts > 0 {
		c.Schedule.MaxAttempts = attempts
	}
	if envString("RUN_HEADLESS") != "" {
		headless, err := parseBoolEnv("RUN_HEADLESS", true)
		if err != nil {
			return err
		}
		c.Service.RunMode = RunModeHeadless
		if !headless {
			c.Service.RunMode = RunModeVisible
		}
	}
	return c.applyEmailEnv()
}

// applyEmailEnv builds or patches the "email" notifier from SENDER_EMAIL,
// SENDER_PASSWORD, RECEIVER_EMAIL, SMTP_SERVER and SMTP_PORT.
func (c *Config) applyEmailEnv() error {
	sender := envString("SENDER_EMAIL")
	receiver := envString("RECEIVER_EMAIL")
	server := envString("SMTP_SERVER")
	_, hasPassword := os.LookupEnv("SENDER_PASSWORD")
	port, err := parseIntEnv("SMTP_PORT", 0)
	if err != nil {
		return err
	}
	if sender == "" && receiver == "" && server == "" && port == 0 && !hasPassword {
		return nil
	}

	idx := -1
	for i, n := range c.Notifiers {
		if n.ID == EmailNotifierID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.Notifiers = append(c.Notifiers, NotifierConfig{
			ID:   EmailNotifierID,
			Type: "email",
			Config: map[string]any{
				"smtp_host": defaultSMTPServer,
				"smtp_port": defaultSMTPPort,
			},
		})
		idx = len(c.Notifiers) - 1
	}
	nc := &c.Notifiers[idx]
	if nc.Config == nil {
		nc.Config = map[string]any{}
	}
	if sender != "" {
		nc.Config["from"] = sender
		nc.Config["username"] = sender
	}
	if receiver != "" {
		nc.Config["to"] = splitList(receiver)
	}
	if server != "" {
		nc.Config["smtp_host"] = server
	}
	if port > 0 {
		nc.Config["smtp_port"] = port
	}
	if hasPassword {
		if c.Secrets == nil {
			c.Secrets = map[string]SecretSpec{}
		}
		c.Secrets[senderPasswordSecret] = SecretSpec{Source: "env", Value: "SENDER_PASSWORD"}
		nc.Config["password_ref"] = senderPasswordSecret
	}
	return nil
}

func envString(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntEnv(name string, def int) (int, error) {
	value := envString(name)
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func parseBoolEnv(name string, def bool) (bool, error) {
	value := envString(name)
	if value == "" {
		return def, nil
	}
	switch strings.ToLower(value) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s: expected boolean, got %q", name, value)
	}
}
