package notifier

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/osbits/statuswatch/internal/config"
)

// Registry stores notifiers by ID, preserving configuration order.
type Registry struct {
	items map[string]Notifier
	order []string
}

// NewRegistry creates a registry.
func NewRegistry() *Registry {
	return &Registry{
		items: map[string]Notifier{},
	}
}

// Add stores a notifier.
func (r *Registry) Add(n Notifier) error {
	if _, exists := r.items[n.ID()]; exists {
		return fmt.Errorf("duplicate notifier %q", n.ID())
	}
	r.items[n.ID()] = n
	r.order = append(r.order, n.ID())
	return nil
}

// Get returns notifier by id.
func (r *Registry) Get(id string) (Notifier, bool) {
	n, ok := r.items[id]
	return n, ok
}

// IDs returns notifier ids in the order they were added.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len reports the number of registered notifiers.
func (r *Registry) Len() int {
	return len(r.order)
}

// Build constructs notifiers from config.
func Build(factory Factory, configs []config.NotifierConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, cfg := range configs {
		n, err := buildNotifier(factory, cfg)
		if err != nil {
			return nil, fmt.Errorf("notifier %q: %w", cfg.ID, err)
		}
		if err := reg.Add(n); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildNotifier(factory Factory, cfg config.NotifierConfig) (Notifier, error) {
	switch cfg.Type {
	case "email":
		var nc EmailConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewEmailNotifier(cfg.ID, nc, factory.Secrets, factory.Render)
	case "sms":
		var nc SMSConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewSMSNotifier(cfg.ID, nc, factory.Secrets)
	case "webhook":
		var nc WebhookConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewWebhookNotifier(cfg.ID, nc, factory.Secrets, factory.Render)
	case "slack":
		var nc SlackConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewSlackNotifier(cfg.ID, nc, factory.Secrets)
	case "telegram":
		var nc TelegramConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewTelegramNotifier(cfg.ID, nc, factory.Secrets)
	case "discord":
		var nc DiscordConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewDiscordNotifier(cfg.ID, nc, factory.Secrets)
	default:
		return nil, fmt.Errorf("unsupported notifier type %q", cfg.Type)
	}
}

func decode(input map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
