// Package audit is the append-only decision log. Every hook invocation
// writes at least one record; the reason field carries enough context
// to reconstruct a decision without the policy service's own logs.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names the decision class a record documents.
const (
	EventAllow             = "allow"
	EventWarn              = "warn"
	EventBlock             = "block"
	EventApprovalRequested = "approval_requested"
	EventBypass            = "bypass"
	EventError             = "error"
)

// Outcome values with fixed meaning across tools reading the log.
const (
	OutcomeBlockedAPIError = "blocked_api_error"
	OutcomeSecretsFound    = "secrets_found"
	OutcomeCached          = "cached"
)

const filePrefix = "vahti"

// Record is one audit line. Optional fields marshal away when empty so
// the log stays grep-friendly.
type Record struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"ts"`
	Event          string    `json:"event"`
	Hook           string    `json:"hook,omitempty"`
	Operation      string    `json:"operation,omitempty"`
	Repo           string    `json:"repo,omitempty"`
	Branch         string    `json:"branch,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	ChangeID       string    `json:"change_id,omitempty"`
	RiskScore      float64   `json:"risk_score,omitempty"`
	DetectionScore float64   `json:"detection_score,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
}

// Log appends records to the current day's file. Concurrent git
// processes append to the same file; each record is a single O_APPEND
// write, which is the only cross-process guarantee provided.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	dir    string
}

// Open creates or opens the audit log for today in dir.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.ndjson", filePrefix, time.Now().Format("20060102"))
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304 -- path is built from configured dir
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	return &Log{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}, nil
}

// Append writes one record. The write is flushed and synced before
// returning; a blocked force-push with no audit trail is worse than a
// slow one.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flushing audit log: %w", err)
	}
	return l.file.Sync()
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Reader iterates one audit file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- audit files come from our own directory listing
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return &Reader{scanner: bufio.NewScanner(file), file: file}, nil
}

// Next returns the next record or io.EOF.
func (r *Reader) Next() (*Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var rec Record
	if err := json.Unmarshal(r.scanner.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling audit record: %w", err)
	}
	return &rec, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every record in dir newer than since,
// oldest file first. The daily filename format keeps the glob order
// chronological.
func Replay(dir string, since time.Time, handler func(*Record) error) error {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.ndjson"))
	if err != nil {
		return fmt.Errorf("listing audit files: %w", err)
	}

	for _, f := range files {
		if err := replayFile(f, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Record) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Timestamp.After(since) {
			if err := handler(rec); err != nil {
				return err
			}
		}
	}
}
