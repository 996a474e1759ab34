package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"si/tools/authcalator/internal/clock"
)

func TestAppendWritesOneJSONLinePerRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.log")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sink, err := OpenWithClock(path, clock.NewFixed(now))
	if err != nil {
		t.Fatalf("OpenWithClock: %v", err)
	}
	defer sink.Close()

	if err := sink.Append(Record{Endpoint: "/token", Level: LevelDev, Result: ResultGranted}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Append(Record{Endpoint: "/token", Level: LevelProd, Result: ResultDenied, Email: "eng@ex.com"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var records []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(records))
	}
	if records[0].Timestamp != "2026-01-01T12:00:00.000Z" {
		t.Fatalf("unexpected timestamp: %q", records[0].Timestamp)
	}
	if records[0].ID == "" || records[1].ID == "" {
		t.Fatalf("expected ids to be filled in")
	}
	if records[1].Email != "eng@ex.com" {
		t.Fatalf("expected email on second record")
	}
}

func TestOpenCreatesDirectoryMode0700(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "audit.log")
	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sink.Close()

	info, err := os.Stat(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("stat directory: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("expected mode 0700, got %v", info.Mode().Perm())
	}
}
