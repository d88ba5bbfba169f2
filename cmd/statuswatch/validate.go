package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osbits/statuswatch/internal/notifier"
	"github.com/osbits/statuswatch/internal/render"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and list every missing item",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			secrets, err := cfg.ResolveSecrets()
			if err != nil {
				return fmt.Errorf("resolve secrets: %w", err)
			}
			registry, err := notifier.Build(notifier.Factory{Secrets: secrets, Render: render.New()}, cfg.Notifiers)
			if err != nil {
				return fmt.Errorf("build notifiers: %w", err)
			}
			if _, err := notifier.CompileRules(cfg.Rules); err != nil {
				return fmt.Errorf("compile rules: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "configuration OK")
			fmt.Fprintf(w, "  portal:    %s (%s flow)\n", cfg.Portal.LoginURL, flowName(cfg.Portal.Flow))
			fmt.Fprintf(w, "  marker:    %q\n", cfg.Extract.Marker)
			if cfg.Schedule.Cron != "" {
				fmt.Fprintf(w, "  schedule:  cron %q\n", cfg.Schedule.Cron)
			} else {
				fmt.Fprintf(w, "  schedule:  every %s\n", cfg.Schedule.Interval.Duration)
			}
			fmt.Fprintf(w, "  attempts:  %d (retry delay %s)\n", cfg.Schedule.MaxAttempts, cfg.Schedule.RetryDelay.Duration)
			fmt.Fprintf(w, "  store:     %s %s\n", cfg.Store.Backend, cfg.Store.Path)
			fmt.Fprintf(w, "  notifiers: %s\n", strings.Join(registry.IDs(), ", "))
			return nil
		},
	}
}

func flowName(flow string) string {
	if flow == "" {
		return "form"
	}
	return flow
}
