package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osbits/statuswatch/internal/observability"
	"github.com/osbits/statuswatch/internal/statusapi"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the portal until interrupted (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatcher(cmd.Context())
		},
	}
}

func runWatcher(parent context.Context) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	enabled, flush := observability.SetupRollbar(logger)
	defer flush()
	defer observability.CapturePanic(logger, enabled)()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("watcher starting", "version", version, "run_mode", cfg.Service.RunMode, "login_url", cfg.Portal.LoginURL)

	ctx, cancel := signalContext(parent, logger)
	defer cancel()

	apiDone := make(chan struct{})
	if cfg.API.Listen != "" {
		srv, err := statusapi.New(statusapi.Options{
			State:          a.runner,
			Store:          a.store,
			History:        a.historyReader(),
			AllowedCIDRs:   cfg.API.AllowedCIDRs,
			TrustedProxies: cfg.API.TrustedProxies,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("status api: %w", err)
		}
		go func() {
			defer close(apiDone)
			if err := srv.ListenAndServe(ctx, cfg.API.Listen); err != nil {
				logger.Error("status api stopped", "error", err)
			}
		}()
	} else {
		close(apiDone)
	}

	err = a.runner.Run(ctx)
	cancel()
	<-apiDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
