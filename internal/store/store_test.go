package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreFirstRun(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "data", "last_status.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	_, ok, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected no record on first run")
	}
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "last_status.json")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := fs.Save(ctx, Record{Status: "In Review", ObservedAt: first}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := first.Add(time.Hour)
	if err := fs.Save(ctx, Record{Status: "Approved", ObservedAt: second}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	rec, ok, err := fs.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.Status != "Approved" || !rec.ObservedAt.Equal(second) {
		t.Fatalf("unexpected record %+v", rec)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the status file, got %v", names)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(raw), `"observedAt"`) || !strings.Contains(string(raw), `"status": "Approved"`) {
		t.Fatalf("unexpected layout: %s", raw)
	}
}

func TestFileStoreLegacyTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	legacy := `{"status": "Em análise", "timestamp": "2024-05-06T07:08:09.123456"}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	fs, _ := NewFileStore(path)
	rec, ok, err := fs.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load legacy: ok=%v err=%v", ok, err)
	}
	if rec.Status != "Em análise" {
		t.Fatalf("unexpected status %q", rec.Status)
	}
	if rec.ObservedAt.Year() != 2024 || rec.ObservedAt.Month() != time.May {
		t.Fatalf("unexpected timestamp %v", rec.ObservedAt)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	if err := os.WriteFile(path, []byte(`{"status": "half`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fs, _ := NewFileStore(path)
	_, _, err := fs.Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileStoreRejectsEmptyStatus(t *testing.T) {
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "status.json"))
	if err := fs.Save(context.Background(), Record{}); err == nil {
		t.Fatalf("expected error for empty status")
	}
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func openMemory(t *testing.T, opts Options) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:", opts)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteStatusRecord(t *testing.T) {
	s := openMemory(t, Options{})
	ctx := context.Background()

	if _, ok, err := s.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}

	observed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Save(ctx, Record{Status: "In Review", ObservedAt: observed}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Record{Status: "Approved", ObservedAt: observed.Add(time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.Status != "Approved" {
		t.Fatalf("unexpected status %q", rec.Status)
	}
	if !rec.ObservedAt.Equal(observed.Add(time.Minute)) {
		t.Fatalf("unexpected observed_at %v", rec.ObservedAt)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_record`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one status row, got %d", count)
	}
}

func TestSQLiteHistoryRetention(t *testing.T) {
	s := openMemory(t, Options{CheckRunRetention: 3, NotificationRetention: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.RecordCheckRun(ctx, CheckRun{
			RunID:    "run",
			Success:  i%2 == 0,
			Attempts: i + 1,
			Status:   "In Review",
			Event:    "unchanged",
			Latency:  1500 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("record check run %d: %v", i, err)
		}
	}
	runs, err := s.RecentCheckRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 retained runs, got %d", len(runs))
	}
	if runs[0].Attempts != 5 || !runs[0].Success {
		t.Fatalf("expected newest run first, got %+v", runs[0])
	}
	if runs[0].Latency != 1500*time.Millisecond {
		t.Fatalf("unexpected latency %v", runs[0].Latency)
	}

	for i := 0; i < 3; i++ {
		err := s.RecordNotification(ctx, NotificationLog{
			NotifierID: "email",
			Previous:   "In Review",
			Current:    "Approved",
			Delivered:  i == 2,
			Error:      "",
		})
		if err != nil {
			t.Fatalf("record notification: %v", err)
		}
	}
	logs, err := s.RecentNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("recent notifications: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 retained notifications, got %d", len(logs))
	}
	if !logs[0].Delivered || logs[0].Current != "Approved" {
		t.Fatalf("unexpected newest log %+v", logs[0])
	}
}
