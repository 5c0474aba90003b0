// Package reporting records run, suite and test outcomes in memory and
// renders them as report artifacts
package reporting

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a run or a test
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusEnded   Status = "ended"
)

// TestRun is a snapshot of one run
type TestRun struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	User      string      `json:"user"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Suites    []TestSuite `json:"suites"`
	Summary   Summary     `json:"summary"`
}

// TestSuite is a snapshot of one suite inside a run
type TestSuite struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Tests []Test `json:"tests"`
}

// Test is a snapshot of one test case result
type Test struct {
	ID              string     `json:"id"`
	SuiteID         string     `json:"suite_id"`
	Name            string     `json:"name"`
	Location        string     `json:"location"`
	Status          Status     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Stdout          string     `json:"stdout,omitempty"`
	AdditionalFiles []string   `json:"additional_files,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StackTrace      string     `json:"stack_trace,omitempty"`
}

// Duration returns how long the test ran, or zero when it has not finished
func (t Test) Duration() time.Duration {
	if t.StartedAt == nil || t.EndedAt == nil {
		return 0
	}
	return t.EndedAt.Sub(*t.StartedAt)
}

// Summary aggregates test outcomes of a run
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// EventKind names a lifecycle event
type EventKind string

const (
	EventRunStarted   EventKind = "run.started"
	EventRunEnded     EventKind = "run.ended"
	EventSuiteCreated EventKind = "suite.created"
	EventTestStarted  EventKind = "test.started"
	EventTestEnded    EventKind = "test.ended"
)

// Event is published for every lifecycle transition
type Event struct {
	Kind      EventKind       `json:"kind"`
	RunID     string          `json:"run_id"`
	SuiteID   string          `json:"suite_id,omitempty"`
	TestID    string          `json:"test_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventPublisher receives lifecycle events
type EventPublisher interface {
	PublishEvent(event Event) error
}
