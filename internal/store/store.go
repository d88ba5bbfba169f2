package store

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt marks a persisted record that exists but cannot be decoded.
var ErrCorrupt = errors.New("status record is corrupt")

// Record is the single persisted "last known status".
type Record struct {
	Status     string
	ObservedAt time.Time
}

// Store persists exactly one Record, overwriting it on every save.
type Store interface {
	// Load returns the stored record. The boolean is false on first run.
	Load(ctx context.Context) (Record, bool, error)
	// Save atomically replaces the stored record.
	Save(ctx context.Context, rec Record) error
}

// History keeps an audit trail of check runs and notification dispatches.
type History interface {
	RecordCheckRun(ctx context.Context, run CheckRun) error
	RecordNotification(ctx context.Context, log NotificationLog) error
}

// HistoryReader lists recent history entries, newest first.
type HistoryReader interface {
	RecentCheckRuns(ctx context.Context, limit int) ([]CheckRun, error)
	RecentNotifications(ctx context.Context, limit int) ([]NotificationLog, error)
}

// CheckRun represents a persisted check execution result.
type CheckRun struct {
	RunID      string
	Success    bool
	Attempts   int
	Status     string
	Event      string
	Reason     string
	Latency    time.Duration
	OccurredAt time.Time
}

// NotificationLog captures a notifier dispatch attempt.
type NotificationLog struct {
	NotifierID string
	RunID      string
	Previous   string
	Current    string
	Delivered  bool
	Error      string
	OccurredAt time.Time
}
