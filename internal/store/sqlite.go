package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const statusRowID = 1

// Options configures storage behaviour.
type Options struct {
	CheckRunRetention     int
	NotificationRetention int
}

// SQLite wraps sqlite persistence for the status record, check runs and
// notification logs.
type SQLite struct {
	db                *sql.DB
	checkRunLimit     int
	notificationLimit int
}

// OpenSQLite initialises a sqlite store with WAL enabled and required schema.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	checkLimit := opts.CheckRunRetention
	if checkLimit <= 0 {
		checkLimit = 200
	}
	notificationLimit := opts.NotificationRetention
	if notificationLimit <= 0 {
		notificationLimit = 100
	}

	s := &SQLite{
		db:                db,
		checkRunLimit:     checkLimit,
		notificationLimit: notificationLimit,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureSQLite(db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS status_record (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			status TEXT NOT NULL,
			observed_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS check_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			status TEXT,
			event TEXT,
			reason TEXT,
			latency_ms INTEGER,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_check_runs_occurred ON check_runs (occurred_at DESC);`,
		`CREATE TABLE IF NOT EXISTS notification_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			notifier_id TEXT NOT NULL,
			run_id TEXT,
			previous TEXT,
			current TEXT,
			delivered INTEGER NOT NULL,
			error TEXT,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notification_logs_occurred ON notification_logs (occurred_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Load returns the single status row, if any.
func (s *SQLite) Load(ctx context.Context) (Record, bool, error) {
	query, args, err := sq.Select("status", "observed_at").
		From("status_record").
		Where(sq.Eq{"id": statusRowID}).
		ToSql()
	if err != nil {
		return Record{}, false, fmt.Errorf("build status query: %w", err)
	}

	var rec Record
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&rec.Status, &rec.ObservedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query status: %w", err)
	}
	if rec.Status == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Save upserts the status row inside a transaction.
func (s *SQLite) Save(ctx context.Context, rec Record) (err error) {
	if rec.Status == "" {
		return errors.New("refusing to save empty status")
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now()
	}
	query, args, err := sq.Insert("status_record").
		Columns("id", "status", "observed_at").
		Values(statusRowID, rec.Status, rec.ObservedAt.UTC()).
		Suffix("ON CONFLICT(id) DO UPDATE SET status = excluded.status, observed_at = excluded.observed_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build status upsert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}
	return nil
}

// RecordCheckRun persists the outcome of a check and enforces retention.
func (s *SQLite) RecordCheckRun(ctx context.Context, run CheckRun) (err error) {
	if s == nil || s.db == nil {
		return nil
	}
	if run.OccurredAt.IsZero() {
		run.OccurredAt = time.Now()
	}

	insert, insertArgs, err := sq.Insert("check_runs").
		Columns("run_id", "success", "attempts", "status", "event", "reason", "latency_ms", "occurred_at").
		Values(run.RunID, boolToInt(run.Success), run.Attempts, run.Status, run.Event, run.Reason,
			int64(run.Latency/time.Millisecond), run.OccurredAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build check_run insert: %w", err)
	}
	prune, pruneArgs, err := pruneQuery("check_runs", s.checkRunLimit)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("insert check_run: %w", err)
	}
	if _, err = tx.ExecContext(ctx, prune, pruneArgs...); err != nil {
		return fmt.Errorf("prune check_runs: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit check_run: %w", err)
	}
	return nil
}

// RecordNotification stores a notification dispatch entry and enforces retention.
func (s *SQLite) RecordNotification(ctx context.Context, log NotificationLog) (err error) {
	if s == nil || s.db == nil {
		return nil
	}
	if log.OccurredAt.IsZero() {
		log.OccurredAt = time.Now()
	}

	insert, insertArgs, err := sq.Insert("notification_logs").
		Columns("notifier_id", "run_id", "previous", "current", "delivered", "error", "occurred_at").
		Values(log.NotifierID, log.RunID, log.Previous, log.Current, boolToInt(log.Delivered), log.Error, log.OccurredAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build notification_log insert: %w", err)
	}
	prune, pruneArgs, err := pruneQuery("notification_logs", s.notificationLimit)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("insert notification_log: %w", err)
	}
	if _, err = tx.ExecContext(ctx, prune, pruneArgs...); err != nil {
		return fmt.Errorf("prune notification_logs: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit notification_log: %w", err)
	}
	return nil
}

// RecentCheckRuns returns up to limit check runs, newest first.
func (s *SQLite) RecentCheckRuns(ctx context.Context, limit int) ([]CheckRun, error) {
	if limit <= 0 {
		limit = 10
	}
	query, args, err := sq.Select("run_id", "success", "attempts", "status", "event", "reason", "latency_ms", "occurred_at").
		From("check_runs").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build check_runs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query check_runs: %w", err)
	}
	defer rows.Close()

	var result []CheckRun
	for rows.Next() {
		var (
			run       CheckRun
			success   int
			latencyMs int64
			status    sql.NullString
			event     sql.NullString
			reason    sql.NullString
		)
		if err := rows.Scan(&run.RunID, &success, &run.Attempts, &status, &event, &reason, &latencyMs, &run.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan check_run: %w", err)
		}
		run.Success = success == 1
		run.Status = status.String
		run.Event = event.String
		run.Reason = reason.String
		run.Latency = time.Duration(latencyMs) * time.Millisecond
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check_runs: %w", err)
	}
	return result, nil
}

// RecentNotifications returns up to limit notification logs, newest first.
func (s *SQLite) RecentNotifications(ctx context.Context, limit int) ([]NotificationLog, error) {
	if limit <= 0 {
		limit = 10
	}
	query, args, err := sq.Select("notifier_id", "run_id", "previous", "current", "delivered", "error", "occurred_at").
		From("notification_logs").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build notification_logs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notification_logs: %w", err)
	}
	defer rows.Close()

	var result []NotificationLog
	for rows.Next() {
		var (
			entry     NotificationLog
			delivered int
			runID     sql.NullString
			previous  sql.NullString
			current   sql.NullString
			errText   sql.NullString
		)
		if err := rows.Scan(&entry.NotifierID, &runID, &previous, &current, &delivered, &errText, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan notification_log: %w", err)
		}
		entry.RunID = runID.String
		entry.Previous = previous.String
		entry.Current = current.String
		entry.Delivered = delivered == 1
		entry.Error = errText.String
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification_logs: %w", err)
	}
	return result, nil
}

func pruneQuery(table string, keep int) (string, []interface{}, error) {
	keepIDs := sq.Select("id").From(table).OrderBy("id DESC").Limit(uint64(keep))
	inner, innerArgs, err := keepIDs.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build %s retention query: %w", table, err)
	}
	query, args, err := sq.Delete(table).
		Where(sq.Expr("id NOT IN ("+inner+")", innerArgs...)).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build %s prune: %w", table, err)
	}
	return query, args, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
