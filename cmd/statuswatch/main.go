package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osbits/statuswatch/internal/config"
	"github.com/osbits/statuswatch/internal/observability"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags.
var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "statuswatch",
		Short: "Watch an authenticated portal page and notify when its status changes",
		Long: `statuswatch logs into a web portal on a schedule, extracts the status
shown next to a marker phrase, remembers the last value and notifies
when it changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatcher(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the configuration")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newExtractCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "statuswatch %s\n", version)
		},
	}
}

// loadConfig reads .env and the configuration file. The default file may be
// absent, in which case the environment alone configures the watcher.
func loadConfig(validate bool) (*config.Config, error) {
	bootstrap := observability.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), "text")
	if n := observability.LoadDotEnv(bootstrap, envFile); n > 0 {
		bootstrap.Debug("loaded .env", "path", envFile, "variables", n)
	}

	optional := configPath == config.DefaultPath() && os.Getenv("STATUSWATCH_CONFIG") == ""
	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(os.Stdout, cfg.Service.LogLevel, cfg.Service.LogFormat).
		With("service", cfg.Service.Name)
}

func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
