// Package audit records permission decisions as JSON files.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/logging"
)

var (
	ErrNotFound = errors.New("not found")
)

// Record is one audited decision.
type Record struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	event.DecisionMadeData
}

// Filter selects records in List. Zero fields match everything.
type Filter struct {
	SessionID string
	ToolName  string
	Behavior  string
	Since     time.Time
	// Limit caps the number of records returned, newest first.
	Limit int
}

func (f Filter) match(r *Record) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if f.Behavior != "" && r.Behavior != f.Behavior {
		return false
	}
	if !f.Since.IsZero() && r.Time.Before(f.Since) {
		return false
	}
	return true
}

// Log is a directory of audit records, one JSON file per decision.
type Log struct {
	dir  string
	lock *dirLock
	now  func() time.Time
}

// Open opens the audit log at dir, creating the directory if needed.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Log{dir: dir, lock: newDirLock(dir), now: time.Now}, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

func (l *Log) pathOf(id string) string {
	return filepath.Join(l.dir, id+".json")
}

// Append stores a record. The record's ID defaults to its decision ID, or
// a fresh ULID when the decision has none, and its time to now.
func (l *Log) Append(ctx context.Context, rec Record) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = rec.DecisionID
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if strings.ContainsAny(rec.ID, `/\`) {
		return nil, fmt.Errorf("invalid record id %q", rec.ID)
	}
	if rec.Time.IsZero() {
		rec.Time = l.now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}

	unlock, err := l.lock.lock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer unlock()

	// Write to temp file first, then rename (atomic operation)
	filePath := l.pathOf(rec.ID)
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}
	return &rec, nil
}

// Get returns the record with the given ID.
func (l *Log) Get(ctx context.Context, id string) (*Record, error) {
	if strings.ContainsAny(id, `/\`) || id == "" {
		return nil, ErrNotFound
	}
	return readRecord(l.pathOf(id))
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return &rec, nil
}

// List returns the records matching f, newest first. Unreadable files are
// skipped.
func (l *Log) List(ctx context.Context, f Filter) ([]Record, error) {
	var records []Record
	err := l.scan(ctx, func(_ string, rec *Record) error {
		if f.match(rec) {
			records = append(records, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Time.Equal(records[j].Time) {
			return records[i].Time.After(records[j].Time)
		}
		return records[i].ID > records[j].ID
	})
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

// Prune deletes records older than before and returns how many were
// removed.
func (l *Log) Prune(ctx context.Context, before time.Time) (int, error) {
	unlock, err := l.lock.lock()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer unlock()

	removed := 0
	err = l.scan(ctx, func(path string, rec *Record) error {
		if !rec.Time.Before(before) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
		removed++
		return nil
	})
	return removed, err
}

// scan calls fn for every readable record file.
func (l *Log) scan(ctx context.Context, fn func(path string, rec *Record) error) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Nothing to scan
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		path := filepath.Join(l.dir, name)
		rec, err := readRecord(path)
		if err != nil {
			continue // Skip files that can't be read
		}
		if err := fn(path, rec); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe records every decision.made event until the returned function
// is called. Write failures are logged.
func (l *Log) Subscribe() func() {
	log := logging.Component("audit")
	return event.Subscribe(event.DecisionMade, func(e event.Event) {
		data, ok := e.Data.(event.DecisionMadeData)
		if !ok {
			return
		}
		if _, err := l.Append(context.Background(), Record{DecisionMadeData: data}); err != nil {
			log.Error().Err(err).Str("decision", data.DecisionID).Msg("failed to record decision")
		}
	})
}
