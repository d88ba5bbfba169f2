package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/osbits/statuswatch/internal/config"
	"github.com/osbits/statuswatch/internal/observability"
	"github.com/osbits/statuswatch/internal/store"
	"github.com/osbits/statuswatch/internal/watch"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval      = 60 * time.Minute
	DefaultFallbackDelay = 5 * time.Minute
	DefaultMaxAttempts   = 3
)

// Checker runs a single check attempt.
type Checker interface {
	RunOnce(ctx context.Context) watch.Outcome
}

// Options configures a Runner. Checker is required.
type Options struct {
	Checker       Checker
	MaxAttempts   int
	RetryDelay    time.Duration
	Interval      time.Duration
	FallbackDelay time.Duration
	// Cron replaces Interval when set.
	Cron        string
	Maintenance []config.MaintenanceSpec
	Location    *time.Location

	History store.History
	Metrics *observability.MetricsWriter
	Tracker *Tracker
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Runner polls the portal until its context is cancelled.
type Runner struct {
	checker       Checker
	maxAttempts   int
	retryDelay    time.Duration
	interval      time.Duration
	fallbackDelay time.Duration
	schedule      cron.Schedule
	maintenance   []maintenanceWindow
	location      *time.Location

	history store.History
	metrics *observability.MetricsWriter
	tracker *Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// New applies defaults and parses the schedule and maintenance windows.
func New(opts Options) (*Runner, error) {
	if opts.Checker == nil {
		return nil, errors.New("runner: checker is required")
	}
	r := &Runner{
		checker:       opts.Checker,
		maxAttempts:   opts.MaxAttempts,
		retryDelay:    opts.RetryDelay,
		interval:      opts.Interval,
		fallbackDelay: opts.FallbackDelay,
		location:      opts.Location,
		history:       opts.History,
		metrics:       opts.Metrics,
		tracker:       opts.Tracker,
		logger:        opts.Logger,
		now:           opts.Clock,
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.fallbackDelay <= 0 {
		r.fallbackDelay = DefaultFallbackDelay
	}
	if r.fallbackDelay <= r.retryDelay {
		return nil, fmt.Errorf("runner: fallback delay %s must exceed retry delay %s", r.fallbackDelay, r.retryDelay)
	}
	if r.location == nil {
		r.location = time.Local
	}
	if r.tracker == nil {
		r.tracker = NewTracker()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "runner")
	if r.now == nil {
		r.now = time.Now
	}
	if opts.Cron != "" {
		schedule, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", opts.Cron, err)
		}
		r.schedule = schedule
	}
	windows, err := parseMaintenance(opts.Maintenance, r.location, r.interval)
	if err != nil {
		return nil, err
	}
	r.maintenance = windows
	return r, nil
}

// State returns a snapshot of the loop state.
func (r *Runner) State() Snapshot {
	return r.tracker.Snapshot()
}

// Run checks immediately and then after every interval until ctx is
// cancelled, returning ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	attrs := []any{"max_attempts", r.maxAttempts, "retry_delay", r.retryDelay}
	if r.schedule != nil {
		attrs = append(attrs, "schedule", "cron")
	} else {
		attrs = append(attrs, "interval", r.interval)
	}
	r.logger.Info("starting status watcher", attrs...)

	for {
		wait := r.cycle(ctx)
		if ctx.Err() != nil {
			break
		}
		if !watch.Sleep(ctx, wait) {
			break
		}
	}
	r.tracker.set(StateStopped)
	r.logger.Info("status watcher stopped")
	return ctx.Err()
}

// RunCycle performs one scheduled cycle without sleeping afterwards.
func (r *Runner) RunCycle(ctx context.Context) (watch.Outcome, bool) {
	out, ok := watch.WithRetry(ctx, r.checker.RunOnce, r.maxAttempts, r.retryDelay)
	if ctx.Err() == nil {
		r.record(ctx, out, ok)
	}
	return out, ok
}

// cycle runs one guarded check and returns how long to sleep before the
// next one.
func (r *Runner) cycle(ctx context.Context) (wait time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			id := uuid.NewString()
			err := fmt.Errorf("panic in check cycle: %v", rec)
			r.logger.Error("recovered from panic, waiting before retrying", "correlation_id", id, "panic", rec, "fallback_delay", r.fallbackDelay)
			observability.Report(err, map[string]any{"correlation_id": id})
			wait = r.fallbackDelay
			r.tracker.sleeping(r.now().Add(wait))
		}
	}()

	now := r.now().In(r.location)
	inMaintenance := r.inMaintenance(now)
	n := r.tracker.beginCycle(inMaintenance)
	if inMaintenance {
		r.logger.Info("skipping check due to maintenance window", "cycle", n)
	} else {
		r.logger.Info("starting check", "cycle", n, "at", now.Format(time.DateTime))
		r.RunCycle(ctx)
	}
	if ctx.Err() != nil {
		return 0
	}

	finished := r.now().In(r.location)
	next := r.nextRunAt(finished)
	r.tracker.sleeping(next)
	r.writeMetrics()
	r.logger.Info("next check scheduled", "next_run_at", next.Format(time.DateTime))
	return next.Sub(finished)
}

func (r *Runner) record(ctx context.Context, out watch.Outcome, ok bool) {
	at := out.FinishedAt
	if at.IsZero() {
		at = r.now()
	}
	r.tracker.finish(out, ok, at)

	if ok {
		r.logger.Info("check completed", "attempt", out.Attempt, "status", out.Status, "event", out.Event.Kind.String())
	} else {
		r.logger.Error("all check attempts failed", "attempt", out.Attempt, "error", out.Reason)
		if out.Err != nil {
			observability.Report(out.Err, map[string]any{"run_id": out.RunID, "attempts": out.Attempt})
		}
	}

	if r.history == nil {
		return
	}
	run := store.CheckRun{
		RunID:      out.RunID,
		Success:    ok,
		Attempts:   out.Attempt,
		Status:     out.Status,
		Reason:     out.Reason,
		OccurredAt: at,
	}
	if ok {
		run.Event = out.Event.Kind.String()
	}
	if !out.StartedAt.IsZero() && !out.FinishedAt.IsZero() {
		run.Latency = out.FinishedAt.Sub(out.StartedAt)
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.history.RecordCheckRun(recordCtx, run); err != nil {
		r.logger.Error("failed to record check run", "run_id", out.RunID, "error", err)
	}
}

func (r *Runner) writeMetrics() {
	if r.metrics == nil {
		return
	}
	snap := r.tracker.Snapshot()
	err := r.metrics.Write(observability.CheckMetrics{
		Cycles:               snap.Cycles,
		Successes:            snap.Successes,
		Failures:             snap.Failures,
		Changes:              snap.Changes,
		NotificationFailures: snap.NotificationFailures,
		LastAttempts:         snap.LastAttempts,
		LastSuccess:          snap.LastSuccess,
		LastCheck:            snap.LastCheckAt,
		NextRun:              snap.NextRunAt,
	})
	if err != nil {
		r.logger.Warn("failed to write metrics textfile", "error", err)
	}
}

func (r *Runner) nextRunAt(now time.Time) time.Time {
	if r.schedule != nil {
		return r.schedule.Next(now.In(r.location))
	}
	return now.Add(r.interval)
}

func (r *Runner) inMaintenance(now time.Time) bool {
	for _, mw := range r.maintenance {
		if mw.contains(now) {
			return true
		}
	}
	return false
}
