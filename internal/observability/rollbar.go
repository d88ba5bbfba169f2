package observability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rollbar/rollbar-go"
)

var rollbarEnabled atomic.Bool

// SetupRollbar configures the Rollbar SDK if the access token is present.
// It returns a boolean indicating whether Rollbar was enabled and a cleanup
// function that should be deferred to flush pending items.
func SetupRollbar(logger *slog.Logger) (bool, func()) {
	token := strings.TrimSpace(os.Getenv("ROLLBAR_ACCESS_TOKEN"))
	if token == "" {
		rollbar.SetEnabled(false)
		rollbarEnabled.Store(false)
		logger.Info("rollbar disabled", "reason", "missing access token")
		return false, func() {}
	}

	rollbar.SetEnabled(true)
	rollbar.SetToken(token)

	env := strings.TrimSpace(os.Getenv("ROLLBAR_ENVIRONMENT"))
	if env == "" {
		env = "production"
	}
	rollbar.SetEnvironment(env)

	if codeVersion := strings.TrimSpace(os.Getenv("ROLLBAR_CODE_VERSION")); codeVersion != "" {
		rollbar.SetCodeVersion(codeVersion)
	}

	if host, err := os.Hostname(); err == nil && host != "" {
		rollbar.SetServerHost(host)
	}
	if wd, err := os.Getwd(); err == nil {
		rollbar.SetServerRoot(filepath.Clean(wd))
	}

	rollbarEnabled.Store(true)
	logger.Info("rollbar enabled", "environment", env)

	return true, func() {
		rollbar.Wait()
	}
}

// Report forwards an error with extra context to Rollbar when enabled.
func Report(err error, extras map[string]any) {
	if err == nil || !rollbarEnabled.Load() {
		return
	}
	if len(extras) == 0 {
		rollbar.Error(err)
		return
	}
	rollbar.Error(err, extras)
}

// CapturePanic reports panics to Rollbar when enabled and re-panics.
func CapturePanic(logger *slog.Logger, enabled bool) func() {
	if !enabled {
		return func() {}
	}

	return func() {
		if rec := recover(); rec != nil {
			switch err := rec.(type) {
			case error:
				rollbar.Critical(err)
			default:
				rollbar.Critical(fmt.Errorf("panic: %v", rec))
			}
			rollbar.Wait()
			logger.Error("panic captured", "panic", rec)
			panic(rec)
		}
	}
}
