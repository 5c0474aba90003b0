// Package state holds the mutable context of a single test run
package state

import (
	"github.com/rs/zerolog"

	"github.com/QTest-hq/qtest-engine/internal/config"
)

// TestInstanceState is the per-run context shared by the runner and its collaborators.
// An instance belongs to exactly one run and is never shared between runs.
type TestInstanceState interface {
	TestRunID() string
	SetTestRunID(id string)

	TestSuiteID() string
	SetTestSuiteID(id string)

	TestID() string
	SetTestID(id string)

	TestSuiteDefinition() *config.TestSuiteDefinition
	SetTestSuiteDefinition(def *config.TestSuiteDefinition)

	BrowserConfig() *config.BrowserConfiguration
	SetBrowserConfig(cfg *config.BrowserConfiguration)

	TestResultsDirectory() string
	SetTestResultsDirectory(dir string)

	Logger() zerolog.Logger
	SetLogger(logger zerolog.Logger)
}

// RunState is the default TestInstanceState
type RunState struct {
	testRunID     string
	testSuiteID   string
	testID        string
	suite         *config.TestSuiteDefinition
	browserConfig *config.BrowserConfiguration
	resultsDir    string
	logger        zerolog.Logger
}

// NewRunState creates an empty run state with a disabled logger
func NewRunState() *RunState {
	return &RunState{logger: zerolog.Nop()}
}

func (s *RunState) TestRunID() string { return s.testRunID }

func (s *RunState) SetTestRunID(id string) { s.testRunID = id }

func (s *RunState) TestSuiteID() string { return s.testSuiteID }

func (s *RunState) SetTestSuiteID(id string) { s.testSuiteID = id }

func (s *RunState) TestID() string { return s.testID }

func (s *RunState) SetTestID(id string) { s.testID = id }

func (s *RunState) TestSuiteDefinition() *config.TestSuiteDefinition { return s.suite }

func (s *RunState) SetTestSuiteDefinition(def *config.TestSuiteDefinition) { s.suite = def }

func (s *RunState) BrowserConfig() *config.BrowserConfiguration { return s.browserConfig }

func (s *RunState) SetBrowserConfig(cfg *config.BrowserConfiguration) { s.browserConfig = cfg }

func (s *RunState) TestResultsDirectory() string { return s.resultsDir }

func (s *RunState) SetTestResultsDirectory(dir string) { s.resultsDir = dir }

func (s *RunState) Logger() zerolog.Logger { return s.logger }

func (s *RunState) SetLogger(logger zerolog.Logger) { s.logger = logger }

// TestState exposes plan-wide settings that outlive a single browser run
type TestState interface {
	TestSettings() *config.TestSettings
	UserConfiguration(persona string) (config.UserConfiguration, bool)
}

// PlanState is the TestState backed by a loaded test plan
type PlanState struct {
	plan *config.TestPlan
}

// NewPlanState wraps a test plan
func NewPlanState(plan *config.TestPlan) *PlanState {
	return &PlanState{plan: plan}
}

// TestSettings returns the plan's settings, or nil without a plan
func (p *PlanState) TestSettings() *config.TestSettings {
	if p.plan == nil {
		return nil
	}
	return &p.plan.TestSettings
}

// UserConfiguration looks up the credential keys of a persona
func (p *PlanState) UserConfiguration(persona string) (config.UserConfiguration, bool) {
	if p.plan == nil {
		return config.UserConfiguration{}, false
	}
	return p.plan.EnvironmentVariables.User(persona)
}
