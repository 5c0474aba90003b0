// Package runner executes one test suite against one browser configuration
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/logging"
	"github.com/QTest-hq/qtest-engine/internal/state"
)

// testLocation is the placeholder location registered for every test case
const testLocation = "TODO"

var (
	// ErrAlreadyRun is returned when RunTest is called twice on the same runner
	ErrAlreadyRun = errors.New("test runner has already been run")

	ErrSuiteMissing         = errors.New("test suite definition is required")
	ErrBrowserConfigMissing = errors.New("browser configuration is required")
	ErrDependencyMissing    = errors.New("runner dependency is missing")
)

// Dependencies are the collaborators of a SingleTestRunner
type Dependencies struct {
	Reporter       Reporter
	LoggerProvider LoggerProvider
	Engine         ExpressionEngine
	Driver         AutomationDriver
	Users          UserManager
	URLMapper      URLMapper
	FileSystem     FileSystem
	State          state.TestInstanceState

	// Logger is used until the suite logger exists. Defaults to the global logger.
	Logger *zerolog.Logger
}

// Counters are the outcome tallies of a run
type Counters struct {
	Total   int
	Passed  int
	Skipped int
	Failed  int
}

// SingleTestRunner runs one suite once
type SingleTestRunner struct {
	deps    Dependencies
	started atomic.Bool

	counters Counters
	suiteID  string
	logger   zerolog.Logger
}

// New creates a runner
func New(deps Dependencies) *SingleTestRunner {
	r := &SingleTestRunner{deps: deps}
	if deps.Logger != nil {
		r.logger = *deps.Logger
	} else {
		r.logger = log.Logger
	}
	return r
}

// Counters returns the tallies of the completed run
func (r *SingleTestRunner) Counters() Counters {
	return r.counters
}

// SuiteID returns the suite id minted by the reporter, empty before setup
func (r *SingleTestRunner) SuiteID() string {
	return r.suiteID
}

// RunTest executes every test case of suite in order. Failures are logged and
// reported, never returned; the only error is ErrAlreadyRun.
func (r *SingleTestRunner) RunTest(ctx context.Context, testRunID, testRunDirectory string, suite *config.TestSuiteDefinition, browserConfig *config.BrowserConfiguration, domain, queryParams string) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	run := &suiteRun{
		runID:        testRunID,
		runDirectory: testRunDirectory,
		suite:        suite,
		browser:      browserConfig,
		domain:       domain,
		queryParams:  queryParams,
	}

	defer r.teardown(context.WithoutCancel(ctx), run)

	if o := capture(func() error { return r.execute(ctx, run) }); !o.ok() {
		r.logger.Error().Str("stack", o.stack).Msgf("Encountered an error while running the test suite: %s", o.err)
	}
	return nil
}

// suiteRun is the bookkeeping of one RunTest call
type suiteRun struct {
	runID        string
	runDirectory string
	suite        *config.TestSuiteDefinition
	browser      *config.BrowserConfiguration
	domain       string
	queryParams  string

	resultDir string
}

// execute covers everything before teardown: setup, the test case loop and the suite hook
func (r *SingleTestRunner) execute(ctx context.Context, run *suiteRun) error {
	if err := r.validate(run); err != nil {
		return err
	}
	st := r.deps.State

	suiteID, err := r.deps.Reporter.CreateTestSuite(run.runID, run.suite.TestSuiteName)
	if err != nil {
		return fmt.Errorf("failed to create test suite: %w", err)
	}
	r.suiteID = suiteID
	r.logger = r.deps.LoggerProvider.CreateLogger(suiteID)
	st.SetLogger(r.logger)

	st.SetTestSuiteID(suiteID)
	st.SetTestSuiteDefinition(run.suite)
	st.SetTestRunID(run.runID)
	st.SetBrowserConfig(run.browser)

	dirName := fmt.Sprintf("%s_%s_%s", run.suite.TestSuiteName, run.browser.Browser, prefix(suiteID))
	run.resultDir = filepath.Join(run.runDirectory, r.deps.FileSystem.RemoveInvalidFileNameChars(dirName))
	if err := r.deps.FileSystem.CreateDirectory(run.resultDir); err != nil {
		return fmt.Errorf("failed to create test results directory: %w", err)
	}
	st.SetTestResultsDirectory(run.resultDir)

	r.logger.Info().
		Str("suite", run.suite.TestSuiteName).
		Str("browser", run.browser.Browser).
		Msgf("Running test suite: %s", run.suite.TestSuiteName)

	if err := r.deps.Engine.Setup(); err != nil {
		return fmt.Errorf("failed to set up expression engine: %w", err)
	}
	if err := r.deps.Engine.UpdateModel(ctx); err != nil {
		return fmt.Errorf("failed to update expression model: %w", err)
	}

	if err := r.deps.Driver.Setup(ctx); err != nil {
		return fmt.Errorf("failed to set up browser: %w", err)
	}
	if err := r.deps.Driver.SetupNetworkRequestMock(ctx); err != nil {
		return fmt.Errorf("failed to set up network request mocks: %w", err)
	}

	url, err := r.deps.URLMapper.GenerateTestURL(run.domain, run.queryParams)
	if err != nil {
		return fmt.Errorf("failed to generate test url: %w", err)
	}
	r.logger.Debug().Str("url", url).Msg("Generated test url")

	if err := r.deps.Users.LoginAsUser(ctx, url); err != nil {
		return fmt.Errorf("failed to log in as %s: %w", run.suite.Persona, err)
	}
	if err := r.deps.Driver.GoToURL(ctx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	for i := range run.suite.TestCases {
		r.runCase(ctx, run, &run.suite.TestCases[i])
	}

	if run.suite.OnTestSuiteComplete != "" {
		st.SetTestResultsDirectory(run.resultDir)
		r.runHook(ctx, "OnTestSuiteComplete", run.suite.OnTestSuiteComplete, r.logger)
	}
	return nil
}

func (r *SingleTestRunner) validate(run *suiteRun) error {
	d := r.deps
	switch {
	case d.Reporter == nil, d.LoggerProvider == nil, d.Engine == nil, d.Driver == nil,
		d.Users == nil, d.URLMapper == nil, d.FileSystem == nil, d.State == nil:
		return ErrDependencyMissing
	case run.suite == nil:
		return ErrSuiteMissing
	case run.browser == nil:
		return ErrBrowserConfigMissing
	}
	return nil
}

// runCase executes one test case inside its own boundary
func (r *SingleTestRunner) runCase(ctx context.Context, run *suiteRun, tc *config.TestCase) {
	r.counters.Total++
	counted := false

	o := capture(func() error {
		passed, err := r.executeCase(ctx, run, tc)
		if passed != nil {
			counted = true
			if *passed {
				r.counters.Passed++
			} else {
				r.counters.Failed++
			}
		}
		return err
	})

	r.deps.State.SetLogger(r.logger)

	if !o.ok() {
		r.logger.Error().
			Str("test_case", tc.TestCaseName).
			Str("stack", o.stack).
			Msgf("Encountered an error while running test case %s: %s", tc.TestCaseName, o.err)
		if !counted {
			r.counters.Failed++
		}
	}
}

// executeCase returns the test outcome once it is known; a non-nil error after
// that point is a reporting fault and does not change the outcome
func (r *SingleTestRunner) executeCase(ctx context.Context, run *suiteRun, tc *config.TestCase) (*bool, error) {
	st := r.deps.State

	testID, err := r.deps.Reporter.CreateTest(run.runID, r.suiteID, tc.TestCaseName, testLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to create test: %w", err)
	}
	if err := r.deps.Reporter.StartTest(run.runID, testID); err != nil {
		return nil, fmt.Errorf("failed to start test: %w", err)
	}
	st.SetTestID(testID)

	logger := r.logger.With().Str(logging.TestIDField, testID).Logger()
	st.SetLogger(logger)

	caseDir := filepath.Join(run.resultDir, fmt.Sprintf("%s_%s", r.deps.FileSystem.RemoveInvalidFileNameChars(tc.TestCaseName), prefix(testID)))
	if err := r.deps.FileSystem.CreateDirectory(caseDir); err != nil {
		return nil, fmt.Errorf("failed to create test case directory: %w", err)
	}
	st.SetTestResultsDirectory(caseDir)

	logger.Info().Msgf("Test case: %s", tc.TestCaseName)

	r.runHook(ctx, "OnTestCaseStart", run.suite.OnTestCaseStart, logger)

	step := capture(func() error { return r.deps.Engine.ExecuteWithRetry(ctx, tc.TestSteps) })

	passed := step.ok()
	if passed {
		r.runHook(ctx, "OnTestCaseComplete", run.suite.OnTestCaseComplete, logger)
		logger.Info().Msgf("Test case %s passed", tc.TestCaseName)
	} else {
		logger.Error().Str("stack", step.stack).Msgf("Test case %s failed: %s", tc.TestCaseName, step.err)
	}

	var errMsg string
	if !passed {
		errMsg = step.err.Error()
	}

	if err := r.deps.LoggerProvider.WriteLogs(r.suiteID, caseDir, testID); err != nil {
		logger.Warn().Err(err).Msg("failed to write test case logs")
	}
	files, err := r.deps.FileSystem.GetFiles(caseDir)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list test case artifacts")
	}

	detail := fmt.Sprintf("Test case: %s, Browser: %s", tc.TestCaseName, run.browser.Browser)
	if err := r.deps.Reporter.EndTest(run.runID, testID, passed, detail, files, errMsg, step.stack); err != nil {
		return &passed, fmt.Errorf("failed to end test: %w", err)
	}
	return &passed, nil
}

// runHook evaluates an optional hook once; failures are logged only
func (r *SingleTestRunner) runHook(ctx context.Context, name, expr string, logger zerolog.Logger) {
	if expr == "" {
		return
	}
	o := capture(func() error {
		_, err := r.deps.Engine.Execute(ctx, expr)
		return err
	})
	if !o.ok() {
		logger.Error().Str("hook", name).Msgf("Error running %s: %s", name, o.err)
	}
}

// teardown runs exactly once per RunTest, whatever happened before
func (r *SingleTestRunner) teardown(ctx context.Context, run *suiteRun) {
	if r.deps.Driver != nil {
		if o := capture(func() error { return r.deps.Driver.EndTestRun(ctx) }); !o.ok() {
			r.logger.Error().Msgf("Failed to end browser session: %s", o.err)
		}
	}

	if r.suiteID != "" && r.deps.LoggerProvider != nil {
		dir := run.resultDir
		if dir == "" {
			dir = run.runDirectory
		}
		if o := capture(func() error { return r.deps.LoggerProvider.WriteLogs(r.suiteID, dir, "") }); !o.ok() {
			r.logger.Error().Msgf("Failed to write suite logs: %s", o.err)
		}
	}

	c := r.counters
	r.logger.Info().Msgf("Total cases: %d", c.Total)
	r.logger.Info().Msgf("Cases passed: %d", c.Passed)
	r.logger.Info().Msgf("Cases skipped: %d", c.Skipped)
	r.logger.Info().Msgf("Cases failed: %d\n", c.Failed)
}

// outcome is the result of one contained operation
type outcome struct {
	err   error
	stack string
}

func (o outcome) ok() bool {
	return o.err == nil
}

type stackTracer interface {
	StackTrace() string
}

// capture runs fn and converts both returned errors and panics into an outcome
func capture(fn func() error) (o outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = outcome{err: fmt.Errorf("panic: %v", p), stack: string(debug.Stack())}
		}
	}()

	err := fn()
	if err == nil {
		return outcome{}
	}

	var st stackTracer
	if errors.As(err, &st) {
		return outcome{err: err, stack: st.StackTrace()}
	}
	return outcome{err: err, stack: string(debug.Stack())}
}

// prefix returns the first six characters of an id
func prefix(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6]
}
