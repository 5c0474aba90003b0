// Package logging creates scoped zerolog loggers and keeps a copy of every
// line written through them so the lines can be saved next to test results.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/QTest-hq/qtest-engine/internal/fsys"
)

const (
	// LogFileName is the file written by WriteLogs
	LogFileName = "logs.txt"

	// ScopeField carries the scope id on every line of a scoped logger
	ScopeField = "test_suite_id"

	// TestIDField tags lines emitted while a test case is running
	TestIDField = "test_id"
)

// Provider is the logger factory. It owns one TestLog per scope.
type Provider struct {
	out   io.Writer
	level zerolog.Level
	fs    fsys.FileSystem

	mu   sync.Mutex
	logs map[string]*TestLog
}

// NewProvider returns a provider that writes to out (stderr when nil) at level
func NewProvider(out io.Writer, level zerolog.Level, fs fsys.FileSystem) *Provider {
	if out == nil {
		out = os.Stderr
	}
	return &Provider{
		out:   out,
		level: level,
		fs:    fs,
		logs:  make(map[string]*TestLog),
	}
}

// CreateLogger returns a logger bound to scopeID whose lines are also captured
// in the scope's TestLog. Calling it twice for the same scope reuses the log.
func (p *Provider) CreateLogger(scopeID string) zerolog.Logger {
	tl := p.TestLog(scopeID)

	return zerolog.New(zerolog.MultiLevelWriter(p.out, tl)).
		Level(p.level).
		With().
		Timestamp().
		Str(ScopeField, scopeID).
		Logger()
}

// TestLog returns the captured log of scopeID, creating it if needed
func (p *Provider) TestLog(scopeID string) *TestLog {
	p.mu.Lock()
	defer p.mu.Unlock()

	tl, ok := p.logs[scopeID]
	if !ok {
		tl = newTestLog(p.fs)
		p.logs[scopeID] = tl
	}
	return tl
}

// WriteLogs flushes the captured lines of scopeID, see TestLog.WriteLogs
func (p *Provider) WriteLogs(scopeID, dir, testID string) error {
	return p.TestLog(scopeID).WriteLogs(dir, testID)
}

// Remove drops the captured log of scopeID
func (p *Provider) Remove(scopeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.logs, scopeID)
}

type entry struct {
	testID string
	raw    []byte
}

// TestLog captures the JSON lines of one scope
type TestLog struct {
	fs fsys.FileSystem

	mu      sync.Mutex
	entries []entry
}

func newTestLog(fs fsys.FileSystem) *TestLog {
	return &TestLog{fs: fs}
}

// Write implements io.Writer. zerolog hands over exactly one event per call.
func (l *TestLog) Write(p []byte) (int, error) {
	raw := make([]byte, len(p))
	copy(raw, p)

	var fields struct {
		TestID string `json:"test_id"`
	}
	_ = json.Unmarshal(raw, &fields)

	l.mu.Lock()
	l.entries = append(l.entries, entry{testID: fields.TestID, raw: raw})
	l.mu.Unlock()

	return len(p), nil
}

// Len returns the number of captured lines
func (l *TestLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Render formats the captured lines for testID, or every line when testID is empty
func (l *TestLog) Render(testID string) (string, error) {
	l.mu.Lock()
	selected := make([][]byte, 0, len(l.entries))
	for _, e := range l.entries {
		if testID == "" || e.testID == testID {
			selected = append(selected, e.raw)
		}
	}
	l.mu.Unlock()

	var buf bytes.Buffer
	cw := zerolog.ConsoleWriter{
		Out:        &buf,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}
	for _, raw := range selected {
		if _, err := cw.Write(raw); err != nil {
			return "", fmt.Errorf("failed to format log line: %w", err)
		}
	}
	return buf.String(), nil
}

// WriteLogs saves the lines of testID (all lines when empty) to {dir}/logs.txt
func (l *TestLog) WriteLogs(dir, testID string) error {
	if l.fs == nil {
		return fmt.Errorf("no file system configured for test log")
	}

	text, err := l.Render(testID)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, LogFileName)
	if err := l.fs.WriteTextToFile(path, text); err != nil {
		return fmt.Errorf("failed to write logs: %w", err)
	}
	return nil
}
