package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/osbits/statuswatch/internal/change"
	"github.com/osbits/statuswatch/internal/extract"
	"github.com/osbits/statuswatch/internal/notifier"
	"github.com/osbits/statuswatch/internal/observability"
	"github.com/osbits/statuswatch/internal/snapshot"
	"github.com/osbits/statuswatch/internal/store"
)

// ErrStatusNotFound is the failure reason when the page lacks a status.
var ErrStatusNotFound = errors.New("status not found")

// PanicError wraps a recovered panic with the id it was logged under.
type PanicError struct {
	CorrelationID string
	Value         any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("recovered panic (correlation id %s): %v", e.CorrelationID, e.Value)
}

// Dispatcher delivers a change notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, event notifier.Event) notifier.Result
}

// Diagnoser is consulted after network or timeout failures.
type Diagnoser interface {
	Diagnose(ctx context.Context, cause error)
}

// Outcome is the result of one attempt.
type Outcome struct {
	Success bool
	Status  string
	Reason  string
	Attempt int
	RunID   string

	Event      change.Event
	Err        error
	Notified   bool
	NotifyErr  error
	PersistErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Options wires the executor's collaborators. Provider and Store are required.
type Options struct {
	Provider   snapshot.Provider
	Extractor  extract.Extractor
	Store      store.Store
	Dispatcher Dispatcher
	History    store.History
	Diagnoser  Diagnoser
	Logger     *slog.Logger
	Clock      func() time.Time
	// Link and Service are copied into notification events.
	Link    string
	Service string
}

// Executor performs one end-to-end check attempt.
type Executor struct {
	provider   snapshot.Provider
	extractor  extract.Extractor
	store      store.Store
	dispatcher Dispatcher
	history    store.History
	diagnoser  Diagnoser
	logger     *slog.Logger
	now        func() time.Time
	link       string
	service    string
}

// NewExecutor validates opts.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Provider == nil {
		return nil, errors.New("watch: snapshot provider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("watch: status store is required")
	}
	if opts.Extractor.Marker == "" {
		return nil, errors.New("watch: extractor marker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Executor{
		provider:   opts.Provider,
		extractor:  opts.Extractor,
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		history:    opts.History,
		diagnoser:  opts.Diagnoser,
		logger:     logger.With("component", "executor"),
		now:        clock,
		link:       opts.Link,
		service:    opts.Service,
	}, nil
}

// RunOnce captures the page, extracts the status and, when one is found,
// detects a change, notifies on Changed and persists the new status.
// Notification and persistence errors are reported on the outcome without
// failing it.
func (e *Executor) RunOnce(ctx context.Context) Outcome {
	out := Outcome{RunID: uuid.NewString(), StartedAt: e.now()}
	logger := e.logger.With("run_id", out.RunID)

	status, err := e.observe(ctx)
	if err != nil {
		out.Err = err
		out.Reason = err.Error()
		out.FinishedAt = e.now()
		logger.Warn("check attempt failed", "error", err)
		if e.diagnoser != nil && (snapshot.IsKind(err, snapshot.KindNetwork) || snapshot.IsKind(err, snapshot.KindTimeout)) {
			e.diagnoser.Diagnose(ctx, err)
		}
		return out
	}
	out.Status = status

	prev, hasPrev, err := e.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			out.Err = fmt.Errorf("load previous status: %w", err)
			out.Reason = out.Err.Error()
			out.FinishedAt = e.now()
			logger.Error("cannot read status store", "error", err)
			return out
		}
		logger.Warn("stored status is corrupt, treating as first observation", "error", err)
		hasPrev = false
	}

	ev := change.Detect(prev.Status, hasPrev, status)
	out.Event = ev
	observedAt := e.now()

	switch ev.Kind {
	case change.FirstObservation:
		logger.Info("first observation, recording baseline", "status", status)
	case change.Unchanged:
		logger.Info("status unchanged", "status", status)
	case change.Changed:
		logger.Warn("status changed", "previous", ev.Previous, "status", ev.Current)
	}

	if ev.ShouldNotify() {
		out.Notified, out.NotifyErr = e.notify(ctx, ev, out.RunID, observedAt)
	}

	if err := e.store.Save(ctx, store.Record{Status: status, ObservedAt: observedAt}); err != nil {
		out.PersistErr = err
		logger.Error("failed to persist status", "status", status, "error", err)
	}

	out.Success = true
	out.FinishedAt = e.now()
	return out
}

// observe runs the snapshot and extraction under a panic guard.
func (e *Executor) observe(ctx context.Context) (status string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			perr := &PanicError{CorrelationID: uuid.NewString(), Value: rec}
			e.logger.Error("panic during check attempt", "correlation_id", perr.CorrelationID, "panic", rec)
			observability.Report(perr, map[string]any{"correlation_id": perr.CorrelationID})
			status, err = "", perr
		}
	}()

	page, err := snapshot.Capture(ctx, e.provider)
	if err != nil {
		return "", err
	}
	e.logger.Debug("page captured", "url", page.URL, "title", page.Title)

	status, ok := e.extractor.Extract(page.Text)
	if !ok {
		return "", ErrStatusNotFound
	}
	return status, nil
}

func (e *Executor) notify(ctx context.Context, ev change.Event, runID string, at time.Time) (bool, error) {
	if e.dispatcher == nil {
		return false, notifier.ErrNoNotifiers
	}
	res := e.dispatcher.Dispatch(ctx, notifier.Event{
		Previous:   ev.Previous,
		Current:    ev.Current,
		ObservedAt: at,
		RunID:      runID,
		Link:       e.link,
		Service:    e.service,
	})

	if e.history != nil {
		for _, d := range res.Deliveries {
			entry := store.NotificationLog{
				NotifierID: d.NotifierID,
				RunID:      runID,
				Previous:   ev.Previous,
				Current:    ev.Current,
				Delivered:  d.Err == nil,
				OccurredAt: at,
			}
			if d.Err != nil {
				entry.Error = d.Err.Error()
			}
			if err := e.history.RecordNotification(ctx, entry); err != nil {
				e.logger.Error("failed to record notification", "notifier_id", d.NotifierID, "error", err)
			}
		}
	}

	err := res.Err()
	if err != nil {
		observability.Report(err, map[string]any{"run_id": runID, "delivered": res.Delivered})
	}
	return res.Delivered, err
}
