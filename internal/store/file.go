package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// legacyTimestampLayout matches naive ISO timestamps written by older
// deployments under the "timestamp" key.
const legacyTimestampLayout = "2006-01-02T15:04:05.999999"

// FileStore keeps the status record as a small JSON document on disk.
type FileStore struct {
	path string
}

type fileRecord struct {
	Status     string     `json:"status"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
	Timestamp  string     `json:"timestamp,omitempty"`
}

// NewFileStore returns a store writing to path. The parent directory is
// created on first save.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("status file path is required")
	}
	return &FileStore{path: path}, nil
}

// Path returns the location of the status file.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the record. A missing file or an empty status means first run.
func (f *FileStore) Load(ctx context.Context) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read status file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Record{}, false, nil
	}

	var fr fileRecord
	if err := json.Unmarshal(raw, &fr); err != nil {
		return Record{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if fr.Status == "" {
		return Record{}, false, nil
	}

	rec := Record{Status: fr.Status}
	switch {
	case fr.ObservedAt != nil:
		rec.ObservedAt = *fr.ObservedAt
	case fr.Timestamp != "":
		if ts, err := time.Parse(time.RFC3339Nano, fr.Timestamp); err == nil {
			rec.ObservedAt = ts
		} else if ts, err := time.ParseInLocation(legacyTimestampLayout, fr.Timestamp, time.Local); err == nil {
			rec.ObservedAt = ts
		}
	}
	return rec, true, nil
}

// Save writes the record to a temp file in the same directory and renames it
// over the target, so readers never observe a partial write.
func (f *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Status == "" {
		return errors.New("refusing to save empty status")
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now()
	}
	observed := rec.ObservedAt
	payload, err := json.MarshalIndent(fileRecord{Status: rec.Status, ObservedAt: &observed}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}
