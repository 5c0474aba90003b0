package reporting

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/qtest-engine/internal/fsys"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) PublishEvent(event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// steppingClock advances one second per call
func steppingClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func seedRun(t *testing.T, r *Reporter) (runID, suiteID, passID, failID string) {
	t.Helper()

	runID = r.CreateTestRun("nightly", "tester")
	require.NoError(t, r.StartTestRun(runID))

	var err error
	suiteID, err = r.CreateTestSuite(runID, "Button Clicker")
	require.NoError(t, err)

	passID, err = r.CreateTest(runID, suiteID, "Case1", "TODO")
	require.NoError(t, err)
	require.NoError(t, r.StartTest(runID, passID))
	require.NoError(t, r.EndTest(runID, passID, true, "Case1 in Chromium", []string{"case1/logs.txt"}, "", ""))

	failID, err = r.CreateTest(runID, suiteID, "Case2", "TODO")
	require.NoError(t, err)
	require.NoError(t, r.StartTest(runID, failID))
	require.NoError(t, r.EndTest(runID, failID, false, "Case2 in Chromium", nil, "boom", "stack"))

	require.NoError(t, r.EndTestRun(runID))
	return runID, suiteID, passID, failID
}

func TestReporter_Lifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewReporter(WithPublisher(pub), WithClock(steppingClock()))

	runID, suiteID, passID, failID := seedRun(t, r)

	summary, err := r.Summary(runID)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Passed: 1, Failed: 1}, summary)

	run, err := r.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, run.Status)
	require.Len(t, run.Suites, 1)
	assert.Equal(t, suiteID, run.Suites[0].ID)
	require.Len(t, run.Suites[0].Tests, 2)

	pass := run.Suites[0].Tests[0]
	assert.Equal(t, passID, pass.ID)
	assert.Equal(t, StatusPassed, pass.Status)
	assert.Equal(t, "TODO", pass.Location)
	assert.Equal(t, []string{"case1/logs.txt"}, pass.AdditionalFiles)
	assert.Equal(t, time.Second, pass.Duration())

	fail := run.Suites[0].Tests[1]
	assert.Equal(t, failID, fail.ID)
	assert.Equal(t, StatusFailed, fail.Status)
	assert.Equal(t, "boom", fail.ErrorMessage)
	assert.Equal(t, "stack", fail.StackTrace)

	assert.Equal(t, []EventKind{
		EventRunStarted, EventSuiteCreated,
		EventTestStarted, EventTestEnded,
		EventTestStarted, EventTestEnded,
		EventRunEnded,
	}, pub.kinds())
}

func TestReporter_UniqueIDs(t *testing.T) {
	r := NewReporter()
	runID := r.CreateTestRun("run", "")
	suiteID, err := r.CreateTestSuite(runID, "suite")
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := r.CreateTest(runID, suiteID, "case", "TODO")
		require.NoError(t, err)
		assert.False(t, seen[id])
		assert.GreaterOrEqual(t, len(id), 6)
		seen[id] = true
	}
}

func TestReporter_NotFound(t *testing.T) {
	r := NewReporter()

	assert.ErrorIs(t, r.StartTestRun("nope"), ErrRunNotFound)
	assert.ErrorIs(t, r.EndTestRun("nope"), ErrRunNotFound)
	_, err := r.CreateTestSuite("nope", "s")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = r.Summary("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	runID := r.CreateTestRun("run", "")
	_, err = r.CreateTest(runID, "missing-suite", "case", "TODO")
	assert.ErrorIs(t, err, ErrSuiteNotFound)
	assert.ErrorIs(t, r.StartTest(runID, "missing"), ErrTestNotFound)
	assert.ErrorIs(t, r.EndTest(runID, "missing", true, "", nil, "", ""), ErrTestNotFound)
}

func TestReporter_PublishFailureDoesNotFail(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	r := NewReporter(WithPublisher(pub))

	runID := r.CreateTestRun("run", "")
	assert.NoError(t, r.StartTestRun(runID))
	assert.Len(t, pub.kinds(), 1)
}

func TestReporter_SnapshotIsolated(t *testing.T) {
	r := NewReporter()
	runID, _, _, _ := seedRun(t, r)

	run, err := r.Run(runID)
	require.NoError(t, err)
	run.Suites[0].Tests[0].AdditionalFiles[0] = "mutated"

	tests, err := r.Tests(runID)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, "case1/logs.txt", tests[0].AdditionalFiles[0])
}

func TestGenerateReport(t *testing.T) {
	r := NewReporter(WithClock(steppingClock()))
	runID, _, _, _ := seedRun(t, r)
	fs := fsys.NewWithFs(afero.NewMemMapFs())

	require.NoError(t, r.GenerateReport(fs, runID, "out"))

	data, err := fs.ReadFile(filepath.Join("out", JSONReportFile))
	require.NoError(t, err)
	var report ExecutionReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, runID, report.RunID)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 50.0, report.Summary.PassRate)
	require.Len(t, report.Tests, 2)
	assert.Equal(t, "Button Clicker", report.Tests[0].Suite)
	assert.Equal(t, int64(1000), report.Tests[0].DurationMs)
	assert.Equal(t, "boom", report.Tests[1].Error)

	data, err = fs.ReadFile(filepath.Join("out", JUnitReportFile))
	require.NoError(t, err)
	var junit junitTestsuites
	require.NoError(t, xml.Unmarshal(data, &junit))
	assert.Equal(t, 2, junit.Tests)
	assert.Equal(t, 1, junit.Failures)
	require.Len(t, junit.Suites, 1)
	require.Len(t, junit.Suites[0].Testcase, 2)
	assert.Nil(t, junit.Suites[0].Testcase[0].Failure)
	require.NotNil(t, junit.Suites[0].Testcase[1].Failure)
	assert.Equal(t, "boom", junit.Suites[0].Testcase[1].Failure.Message)

	assert.ErrorIs(t, r.GenerateReport(fs, "missing", "out"), ErrRunNotFound)
}

func TestReporter_RunsOldestFirst(t *testing.T) {
	r := NewReporter(WithClock(steppingClock()))

	first := r.CreateTestRun("first", "u")
	second := r.CreateTestRun("second", "u")

	runs := r.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, first, runs[0].ID)
	assert.Equal(t, second, runs[1].ID)
}
