package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osbits/statuswatch/internal/config"
	"github.com/osbits/statuswatch/internal/store"
)

var watcherEnv = []string{
	"WATCH_USERNAME", "WATCH_PASSWORD", "WATCH_LOGIN_URL", "WATCH_STATUS_URL", "WATCH_MARKER",
	"SENDER_EMAIL", "SENDER_PASSWORD", "RECEIVER_EMAIL", "SMTP_SERVER", "SMTP_PORT",
	"STATUS_FILE", "CHECK_INTERVAL_MINUTES", "RUN_HEADLESS", "MAX_RETRIES", "LOG_LEVEL", "LOG_FORMAT",
	"STATUSWATCH_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range watcherEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

// execute runs the CLI with a config file written to a temp dir.
func execute(t *testing.T, yaml string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "statuswatch.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", cfgPath, "--env-file", filepath.Join(dir, "missing.env")))
	err := root.Execute()
	return out.String(), err
}

func TestValidateFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCH_USERNAME", "ana@example.com")
	t.Setenv("WATCH_PASSWORD", "hunter2")
	t.Setenv("WATCH_LOGIN_URL", "https://portal.example.com/login")
	t.Setenv("SENDER_EMAIL", "alerts@example.com")
	t.Setenv("SENDER_PASSWORD", "smtp-pass")
	t.Setenv("RECEIVER_EMAIL", "ana@example.com")

	out, err := execute(t, "service:\n  name: visa\n", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"configuration OK", "https://portal.example.com/login", "notifiers: email", "every 1h0m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateListsMissingItems(t *testing.T) {
	clearEnv(t)

	_, err := execute(t, "service:\n  name: visa\n", "validate")
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
	if len(cfgErr.Missing) < 3 {
		t.Fatalf("expected every missing item to be listed, got %v", cfgErr.Missing)
	}
}

func TestExtractCommand(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	html := `<html><body><nav>Menu</nav><div>Estado do Processo</div><p>Em análise pelo consulado</p></body></html>`
	if err := os.WriteFile(page, []byte(html), 0o600); err != nil {
		t.Fatalf("write page: %v", err)
	}

	out, err := execute(t, "version: 1\n", "extract", page)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if strings.TrimSpace(out) != "Em análise pelo consulado" {
		t.Fatalf("unexpected output %q", out)
	}

	text := filepath.Join(dir, "page.txt")
	if err := os.WriteFile(text, []byte("Process State: Approved for issuance\n"), 0o600); err != nil {
		t.Fatalf("write text: %v", err)
	}
	out, err = execute(t, "version: 1\n", "extract", text, "--marker", "Process State")
	if err != nil {
		t.Fatalf("extract text: %v", err)
	}
	if strings.TrimSpace(out) != "Approved for issuance" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := execute(t, "version: 1\n", "extract", text); err == nil {
		t.Fatalf("expected status not found with the default marker")
	}
}

func TestStatusCommand(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "last_status.json")
	historyPath := filepath.Join(dir, "history.db")

	fs, err := store.NewFileStore(statusPath)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	ctx := context.Background()
	if err := fs.Save(ctx, store.Record{Status: "Em análise pelo consulado", ObservedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	db, err := store.OpenSQLite(historyPath, store.Options{})
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	if err := db.RecordCheckRun(ctx, store.CheckRun{RunID: "r1", Success: true, Attempts: 2, Status: "Em análise pelo consulado", Event: "unchanged", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	db.Close()

	yaml := "store:\n  path: " + statusPath + "\n  history_path: " + historyPath + "\n"
	out, err := execute(t, yaml, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"status:      Em análise pelo consulado", "recent checks:", "unchanged"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	clearEnv(t)
	out, err := execute(t, "version: 1\n", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "statuswatch ") {
		t.Fatalf("unexpected output %q", out)
	}
}
