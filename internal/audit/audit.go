// Package audit implements the append-only audit sink from spec.md §3/§6:
// one JSON object per line, best-effort, shared by append among concurrent
// gate invocations of the same user.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"si/tools/authcalator/internal/clock"
)

// Level is the request level an audit record describes.
type Level string

const (
	LevelDev  Level = "dev"
	LevelProd Level = "prod"
)

// Result is the terminal outcome of a gated request.
type Result string

const (
	ResultGranted     Result = "granted"
	ResultDenied      Result = "denied"
	ResultError       Result = "error"
	ResultRateLimited Result = "rate_limited"
)

// Record is one append-only audit event. Records are totally ordered by
// append; duplicates are permitted.
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Endpoint  string `json:"endpoint"`
	Level     Level  `json:"level"`
	Result    Result `json:"result"`
	Email     string `json:"email,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sink appends Records to a single file, one JSON object per line. It is
// safe for concurrent use by multiple goroutines within this process;
// cross-process safety relies on O_APPEND's atomicity for writes at or
// below the filesystem's atomic-write size (a short write is treated as a
// failure and logged to stderr, never retried mid-line).
type Sink struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	clock clock.Clock
}

// Open creates the parent directory (mode 0700, no-op if it already
// exists) and opens path for append, creating it with mode 0600 if absent.
func Open(path string) (*Sink, error) {
	return OpenWithClock(path, clock.Real())
}

// OpenWithClock is Open with an injectable clock, for tests.
func OpenWithClock(path string, clk clock.Clock) (*Sink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("open audit sink: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file %s: %w", path, err)
	}
	return &Sink{path: path, file: f, clock: clk}, nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Append writes one record, filling in Timestamp and ID if unset. Append is
// best-effort: a failure is returned to the caller for logging, but callers
// must never fail the originating request because an audit write failed
// (spec.md §7).
func (s *Sink) Append(rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if strings.TrimSpace(rec.Timestamp) == "" {
		rec.Timestamp = s.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.file.Write(line)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("short write to audit file: wrote %d of %d bytes", n, len(line))
	}
	return nil
}
