package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only record of a policy decision. Entries are
// write-once; retention and rotation beyond daily files is an external
// concern.
type AuditEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Tool      string         `json:"tool_name"`
	Decision  string         `json:"decision"`
	Reason    string         `json:"reason"`
	Risk      string         `json:"risk"`
	Params    map[string]any `json:"params,omitempty"` // already redacted
	Timestamp time.Time      `json:"timestamp"`
}

// AuditWriter appends policy decisions to daily-rotated JSONL files.
// Writes are serialized behind a mutex so concurrent sessions never
// interleave records.
type AuditWriter struct {
	dir         string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewAuditWriter creates an audit writer rooted at dir.
func NewAuditWriter(dir string) (*AuditWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	w := &AuditWriter{dir: dir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit file: %w", err)
	}
	return w, nil
}

// Append writes one entry and syncs it to disk. The entry's ID and
// timestamp are filled in if unset; the assigned ID is returned.
func (w *AuditWriter) Append(entry AuditEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return entry.ID, fmt.Errorf("failed to rotate audit file: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return entry.ID, fmt.Errorf("failed to serialize audit entry: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return entry.ID, fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return entry.ID, fmt.Errorf("failed to sync audit file: %w", err)
	}
	return entry.ID, nil
}

// Close closes the current audit file.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

func (w *AuditWriter) rotateIfNeeded() error {
	date := time.Now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close audit file: %w", err)
		}
	}

	path := filepath.Join(w.dir, fmt.Sprintf("audit-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// ReadEntries loads all audit entries for one day, oldest first. Intended
// for diagnostics and tests.
func ReadEntries(dir string, day time.Time) ([]AuditEntry, error) {
	path := filepath.Join(dir, fmt.Sprintf("audit-%s.jsonl", day.UTC().Format("2006-01-02")))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	var entries []AuditEntry
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
