package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osbits/statuswatch/internal/observability"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a single check cycle with retries and exit",
		Long: `check performs one full cycle: login, extraction, change detection,
notification and persistence. It exits non-zero when every attempt fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			out, ok := a.runner.RunCycle(ctx)
			if !ok {
				if out.Err != nil {
					return fmt.Errorf("check failed after %d attempt(s): %w", out.Attempt, out.Err)
				}
				return errors.New("check failed: " + out.Reason)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status: %s\n", out.Status)
			fmt.Fprintf(w, "event: %s\n", out.Event.Kind)
			if out.Event.Previous != "" {
				fmt.Fprintf(w, "previous: %s\n", out.Event.Previous)
			}
			if out.NotifyErr != nil {
				fmt.Fprintf(w, "notification error: %v\n", out.NotifyErr)
			}
			if out.PersistErr != nil {
				fmt.Fprintf(w, "persist error: %v\n", out.PersistErr)
			}
			return nil
		},
	}
}
