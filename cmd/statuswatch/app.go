package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/osbits/statuswatch/internal/config"
	"github.com/osbits/statuswatch/internal/diagnose"
	"github.com/osbits/statuswatch/internal/extract"
	"github.com/osbits/statuswatch/internal/notifier"
	"github.com/osbits/statuswatch/internal/observability"
	"github.com/osbits/statuswatch/internal/render"
	"github.com/osbits/statuswatch/internal/runner"
	"github.com/osbits/statuswatch/internal/snapshot"
	"github.com/osbits/statuswatch/internal/store"
	"github.com/osbits/statuswatch/internal/watch"
)

// app holds the wired watcher.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	history *store.SQLite
	runner  *runner.Runner
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
}

// historyReader avoids handing a typed nil to an interface.
func (a *app) historyReader() store.HistoryReader {
	if a.history == nil {
		return nil
	}
	return a.history
}

// openStores opens the status backend and, when configured, the SQLite
// history. A sqlite backend doubles as history unless history_path points
// elsewhere.
func openStores(cfg *config.Config) (store.Store, *store.SQLite, []io.Closer, error) {
	opts := store.Options{
		CheckRunRetention:     cfg.Store.CheckRunRetention,
		NotificationRetention: cfg.Store.NotificationRetention,
	}
	var (
		status  store.Store
		history *store.SQLite
		closers []io.Closer
	)
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		db, err := store.OpenSQLite(cfg.Store.Path, opts)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, db)
		status = db
		if cfg.Store.HistoryPath == "" || cfg.Store.HistoryPath == cfg.Store.Path {
			history = db
		}
	default:
		fs, err := store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		status = fs
	}

	if history == nil && cfg.Store.HistoryPath != "" {
		db, err := store.OpenSQLite(cfg.Store.HistoryPath, opts)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, nil, fmt.Errorf("open history: %w", err)
		}
		closers = append(closers, db)
		history = db
	}
	return status, history, closers, nil
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	engine := render.New()
	registry, err := notifier.Build(notifier.Factory{Secrets: secrets, Render: engine}, cfg.Notifiers)
	if err != nil {
		return nil, fmt.Errorf("build notifiers: %w", err)
	}
	rules, err := notifier.CompileRules(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	dispatcher := notifier.NewDispatcher(registry, rules, logger)
	logger.Info("notifiers ready", "notifiers", registry.IDs())

	provider, err := snapshot.NewHTTPProvider(snapshot.HTTPConfig{
		LoginURL:  cfg.Portal.LoginURL,
		StatusURL: cfg.Portal.StatusURL,
		Username:  cfg.Portal.Username,
		Password:  cfg.Portal.Password,
		Flow:      cfg.Portal.Flow,
		Form: snapshot.FormConfig{
			Selector:      cfg.Portal.Form.Selector,
			UsernameField: cfg.Portal.Form.UsernameField,
			PasswordField: cfg.Portal.Form.PasswordField,
			Extra:         cfg.Portal.Form.Extra,
		},
		Token: snapshot.TokenConfig{
			URL:         cfg.Portal.Token.URL,
			Method:      cfg.Portal.Token.Method,
			Body:        cfg.Portal.Token.Body,
			Headers:     cfg.Portal.Token.Headers,
			CapturePath: cfg.Portal.Token.Capture.Path,
			Header:      cfg.Portal.Token.Header,
			Prefix:      cfg.Portal.Token.Prefix,
		},
		Timeout:   cfg.Portal.Timeout.Duration,
		Settle:    cfg.Portal.Settle.Duration,
		UserAgent: cfg.Portal.UserAgent,
		Visible:   cfg.Service.Visible(),
		Secrets:   secrets,
		Engine:    engine,
	}, logger)
	if err != nil {
		return nil, err
	}

	location := time.Local
	if tz := cfg.Service.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			location = loc
		} else {
			logger.Warn("failed to load timezone, falling back to local time", "timezone", tz, "error", err)
		}
	}

	status, history, closers, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: status, history: history, closers: closers}

	tracker := runner.NewTracker()
	opts := watch.Options{
		Provider:   provider,
		Extractor:  extract.New(cfg.Extract.Marker, cfg.Extract.Lookahead, cfg.Extract.MinLength),
		Store:      status,
		Dispatcher: tracker.Dispatcher(dispatcher),
		Logger:     logger,
		Link:       cfg.Portal.LoginURL,
		Service:    cfg.Service.Name,
	}
	if history != nil {
		opts.History = history
	}
	if cfg.Diagnostics.Enabled {
		d, err := diagnose.New(diagnose.Options{
			Target:     cfg.Portal.LoginURL,
			Resolver:   cfg.Diagnostics.Resolver,
			Ping:       cfg.Diagnostics.Ping,
			Privileged: cfg.Diagnostics.Privileged,
			Timeout:    cfg.Diagnostics.Timeout.Duration,
			Logger:     logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Diagnoser = d
	}
	executor, err := watch.NewExecutor(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	runOpts := runner.Options{
		Checker:       executor,
		MaxAttempts:   cfg.Schedule.MaxAttempts,
		RetryDelay:    cfg.Schedule.RetryDelay.Duration,
		Interval:      cfg.Schedule.Interval.Duration,
		FallbackDelay: cfg.Schedule.FallbackDelay.Duration,
		Cron:          cfg.Schedule.Cron,
		Maintenance:   cfg.Schedule.MaintenanceWindows,
		Location:      location,
		Metrics:       observability.NewMetricsWriter(cfg.Metrics.TextfilePath, cfg.Service.Name),
		Tracker:       tracker,
		Logger:        logger,
	}
	if history != nil {
		runOpts.History = history
	}
	rn, err := runner.New(runOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = rn
	return a, nil
}
