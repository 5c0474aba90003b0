package reporting

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"time"

	"github.com/QTest-hq/qtest-engine/internal/fsys"
)

const (
	JSONReportFile  = "results.json"
	JUnitReportFile = "results.xml"
)

// ExecutionReport is the JSON report artifact
type ExecutionReport struct {
	Version         string           `json:"version"`
	RunID           string           `json:"run_id"`
	RunName         string           `json:"run_name"`
	ExecutedAt      time.Time        `json:"executed_at"`
	DurationSeconds int              `json:"duration_seconds"`
	Summary         ExecutionSummary `json:"summary"`
	Tests           []TestResult     `json:"tests"`
}

type ExecutionSummary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

type TestResult struct {
	ID         string   `json:"id"`
	Suite      string   `json:"suite"`
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	DurationMs int64    `json:"duration_ms"`
	Details    string   `json:"details,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
	Error      string   `json:"error,omitempty"`
	StackTrace string   `json:"stack_trace,omitempty"`
}

// BuildExecutionReport converts a run snapshot into the JSON report model
func BuildExecutionReport(run *TestRun) *ExecutionReport {
	report := &ExecutionReport{
		Version: "1.0",
		RunID:   run.ID,
		RunName: run.Name,
		Tests:   make([]TestResult, 0),
		Summary: ExecutionSummary{
			Total:   run.Summary.Total,
			Passed:  run.Summary.Passed,
			Failed:  run.Summary.Failed,
			Skipped: run.Summary.Skipped,
		},
	}
	if run.StartedAt != nil {
		report.ExecutedAt = *run.StartedAt
		if run.EndedAt != nil {
			report.DurationSeconds = int(run.EndedAt.Sub(*run.StartedAt).Seconds())
		}
	}
	if report.Summary.Total > 0 {
		report.Summary.PassRate = float64(report.Summary.Passed) / float64(report.Summary.Total) * 100
	}

	for _, suite := range run.Suites {
		for _, t := range suite.Tests {
			report.Tests = append(report.Tests, TestResult{
				ID:         t.ID,
				Suite:      suite.Name,
				Name:       t.Name,
				Status:     t.Status,
				DurationMs: t.Duration().Milliseconds(),
				Details:    t.Stdout,
				Artifacts:  t.AdditionalFiles,
				Error:      t.ErrorMessage,
				StackTrace: t.StackTrace,
			})
		}
	}
	return report
}

type junitTestsuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Suites   []junitTestsuite `xml:"testsuite"`
}

type junitTestsuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Testcase []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

// BuildJUnit converts a run snapshot into JUnit XML
func BuildJUnit(run *TestRun) ([]byte, error) {
	root := junitTestsuites{Name: run.Name}

	for _, suite := range run.Suites {
		ts := junitTestsuite{Name: suite.Name}
		var total time.Duration
		for _, t := range suite.Tests {
			d := t.Duration()
			total += d
			tc := junitTestcase{
				Classname: suite.Name,
				Name:      t.Name,
				Time:      fmt.Sprintf("%.3f", d.Seconds()),
				SystemOut: t.Stdout,
			}
			switch t.Status {
			case StatusFailed:
				ts.Failures++
				msg := t.ErrorMessage
				if msg == "" {
					msg = "test failed"
				}
				tc.Failure = &junitFailure{Message: msg, Type: "AssertionError", Text: t.StackTrace}
			case StatusSkipped:
				ts.Skipped++
				tc.Skipped = &struct{}{}
			}
			ts.Tests++
			ts.Testcase = append(ts.Testcase, tc)
		}
		ts.Time = fmt.Sprintf("%.3f", total.Seconds())
		root.Tests += ts.Tests
		root.Failures += ts.Failures
		root.Suites = append(root.Suites, ts)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode junit report: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateReport writes results.json and results.xml for runID into dir
func (r *Reporter) GenerateReport(fs fsys.FileSystem, runID, dir string) error {
	run, err := r.Run(runID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(BuildExecutionReport(run), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := fs.WriteTextToFile(filepath.Join(dir, JSONReportFile), string(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", JSONReportFile, err)
	}

	junit, err := BuildJUnit(run)
	if err != nil {
		return err
	}
	if err := fs.WriteTextToFile(filepath.Join(dir, JUnitReportFile), string(junit)); err != nil {
		return fmt.Errorf("failed to save %s: %w", JUnitReportFile, err)
	}
	return nil
}
