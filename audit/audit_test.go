package audit

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records := []Record{
		{
			Event:     EventAllow,
			Hook:      "pre-push",
			Operation: "push",
			Branch:    "feature/login",
			Reason:    "not protected",
		},
		{
			Event:          EventBlock,
			Hook:           "pre-push",
			Operation:      "force_push",
			Branch:         "main",
			Outcome:        "rejected",
			Reason:         "approval rejected",
			ChangeID:       "chg-1",
			RiskScore:      7.5,
			DetectionScore: 0.9,
		},
	}

	for _, rec := range records {
		if err := log.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "vahti-*.ndjson"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one audit file, got %v (err %v)", files, err)
	}

	reader, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	var got []*Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, rec)
	}

	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	for i, rec := range got {
		if rec.ID == "" {
			t.Errorf("record %d: missing id", i)
		}
		if rec.Timestamp.IsZero() {
			t.Errorf("record %d: missing timestamp", i)
		}
		if rec.Event != records[i].Event {
			t.Errorf("record %d: event = %q, want %q", i, rec.Event, records[i].Event)
		}
	}
	if got[1].ChangeID != "chg-1" {
		t.Errorf("change_id = %q, want chg-1", got[1].ChangeID)
	}
}

func TestAppendOmitsEmptyFields(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log.Append(Record{Event: EventAllow, Operation: "checkout"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "vahti-*.ndjson"))
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	line := string(data)
	for _, field := range []string{"change_id", "risk_score", "fingerprint", "outcome"} {
		if strings.Contains(line, field) {
			t.Errorf("empty field %q should be omitted, line: %s", field, line)
		}
	}
}

func TestReplaySinceFilter(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	old := Record{Event: EventAllow, Operation: "push", Timestamp: time.Now().Add(-48 * time.Hour)}
	recent := Record{Event: EventBlock, Operation: "force_push", Timestamp: time.Now()}

	if err := log.Append(old); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(recent); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var seen []string
	err = Replay(dir, time.Now().Add(-time.Hour), func(rec *Record) error {
		seen = append(seen, rec.Operation)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(seen) != 1 || seen[0] != "force_push" {
		t.Errorf("replay saw %v, want [force_push]", seen)
	}
}

func TestCleanupRetention(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "vahti-20200101.ndjson")
	if err := os.WriteFile(oldFile, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	past := time.Now().AddDate(0, 0, -90)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	freshFile := filepath.Join(dir, "vahti-20991231.ndjson")
	if err := os.WriteFile(freshFile, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	stats, err := Cleanup(dir, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if stats.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", stats.FilesRemoved)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("old file should be removed")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Error("fresh file should survive")
	}
}

func TestCleanupDisabled(t *testing.T) {
	dir := t.TempDir()

	f := filepath.Join(dir, "vahti-20200101.ndjson")
	if err := os.WriteFile(f, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	past := time.Now().AddDate(0, 0, -365)
	if err := os.Chtimes(f, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	stats, err := Cleanup(dir, 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if stats.FilesRemoved != 0 {
		t.Errorf("retention 0 must keep everything, removed %d", stats.FilesRemoved)
	}
}
