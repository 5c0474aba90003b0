// Package testutil provides utilities for unit and integration testing
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

const (
	// DefaultTestNATSURL is the default NATS URL for integration tests
	DefaultTestNATSURL = "nats://localhost:4223"
)

// GetTestNATSURL returns the test NATS URL from environment or default
func GetTestNATSURL() string {
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		return url
	}
	return DefaultTestNATSURL
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// LogEntry is one decoded zerolog line
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// LogRecorder captures zerolog JSON output for assertions
type LogRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogRecorder returns a debug-level logger writing into a recorder
func NewLogRecorder() (zerolog.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	return zerolog.New(rec).Level(zerolog.DebugLevel), rec
}

// Write implements io.Writer
func (r *LogRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Entries decodes every captured line
func (r *LogRecorder) Entries() []LogEntry {
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	var entries []LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := make(map[string]any)
		if err := json.Unmarshal(scanner.Bytes(), &fields); err != nil {
			continue
		}
		entry := LogEntry{Fields: fields}
		entry.Level, _ = fields[zerolog.LevelFieldName].(string)
		entry.Message, _ = fields[zerolog.MessageFieldName].(string)
		entries = append(entries, entry)
	}
	return entries
}

// Count returns how many lines at level have exactly the given message
func (r *LogRecorder) Count(level zerolog.Level, message string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level.String() && e.Message == message {
			n++
		}
	}
	return n
}

// CountContaining returns how many lines at level contain substr
func (r *LogRecorder) CountContaining(level zerolog.Level, substr string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level.String() && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}
