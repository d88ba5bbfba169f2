package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoNotifiers is returned when a change cannot be delivered anywhere.
var ErrNoNotifiers = errors.New("no notifiers configured")

// Delivery is the outcome of one notifier.
type Delivery struct {
	NotifierID string
	Err        error
}

// Result aggregates a dispatch. Delivered is true when at least one
// notifier accepted the event.
type Result struct {
	Delivered  bool
	Tag        string
	Deliveries []Delivery
}

// Err joins every delivery failure, or returns nil.
func (r Result) Err() error {
	if len(r.Deliveries) == 0 {
		return ErrNoNotifiers
	}
	var errs []error
	for _, d := range r.Deliveries {
		if d.Err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", d.NotifierID, d.Err))
		}
	}
	return errors.Join(errs...)
}

// Dispatcher fans an event out to the registry, once per notifier.
type Dispatcher struct {
	registry *Registry
	rules    *Rules
	logger   *slog.Logger
}

// NewDispatcher wires a registry and optional rules.
func NewDispatcher(reg *Registry, rules *Rules, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Dispatcher{registry: reg, rules: rules, logger: logger.With("component", "notifier")}
}

// Dispatch sends event to every selected notifier. Failures are not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) Result {
	targets := d.registry.IDs()
	rule, matched, err := d.rules.Match(event)
	switch {
	case err != nil:
		d.logger.Warn("notification rule failed, sending to all notifiers", "error", err)
	case matched:
		event.Tag = rule.Tag
		if len(rule.Notifiers) > 0 {
			targets = rule.Notifiers
		}
	}

	res := Result{Tag: event.Tag}
	for _, id := range targets {
		n, ok := d.registry.Get(id)
		if !ok {
			res.Deliveries = append(res.Deliveries, Delivery{NotifierID: id, Err: fmt.Errorf("unknown notifier")})
			continue
		}
		err := n.Notify(ctx, event)
		res.Deliveries = append(res.Deliveries, Delivery{NotifierID: id, Err: err})
		if err != nil {
			d.logger.Error("notification failed", "notifier_id", id, "run_id", event.RunID, "error", err)
			continue
		}
		res.Delivered = true
		d.logger.Info("notification sent", "notifier_id", id, "run_id", event.RunID, "tag", event.Tag)
	}
	return res
}
