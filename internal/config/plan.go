package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTestPlan is returned when a test plan fails validation
var ErrInvalidTestPlan = errors.New("invalid test plan")

// DefaultTimeoutMs is the default step timeout in milliseconds
const DefaultTimeoutMs = 30000

// TestPlan is the YAML document describing one suite and how to run it
type TestPlan struct {
	TestSuite            TestSuiteDefinition  `yaml:"testSuite"`
	TestSettings         TestSettings         `yaml:"testSettings"`
	EnvironmentVariables EnvironmentVariables `yaml:"environmentVariables"`
}

// TestSuiteDefinition describes a suite. Empty hook strings mean the hook is absent.
type TestSuiteDefinition struct {
	TestSuiteName        string     `yaml:"testSuiteName"`
	TestSuiteDescription string     `yaml:"testSuiteDescription,omitempty"`
	Persona              string     `yaml:"persona"`
	AppLogicalName       string     `yaml:"appLogicalName"`
	OnTestCaseStart      string     `yaml:"onTestCaseStart,omitempty"`
	OnTestCaseComplete   string     `yaml:"onTestCaseComplete,omitempty"`
	OnTestSuiteComplete  string     `yaml:"onTestSuiteComplete,omitempty"`
	TestCases            []TestCase `yaml:"testCases"`
}

// TestCase is a single named step expression
type TestCase struct {
	TestCaseName        string `yaml:"testCaseName"`
	TestCaseDescription string `yaml:"testCaseDescription,omitempty"`
	TestSteps           string `yaml:"testSteps"`
}

// BrowserConfiguration selects the browser and its emulation
type BrowserConfiguration struct {
	Browser      string `yaml:"browser"`
	Device       string `yaml:"device,omitempty"`
	ScreenWidth  *int   `yaml:"screenWidth,omitempty"`
	ScreenHeight *int   `yaml:"screenHeight,omitempty"`
}

// TestSettings holds execution settings shared by every browser run of a plan
type TestSettings struct {
	// Timeout in milliseconds for retried steps and browser launch
	Timeout               int                    `yaml:"timeout"`
	RecordVideo           bool                   `yaml:"recordVideo,omitempty"`
	Headless              bool                   `yaml:"headless"`
	Locale                string                 `yaml:"locale,omitempty"`
	BrowserConfigurations []BrowserConfiguration `yaml:"browserConfigurations"`
	NetworkRequestMocks   []NetworkRequestMock   `yaml:"networkRequestMocks,omitempty"`

	// ExtensionScript is injected into the app page before the model refresh
	ExtensionScript string `yaml:"extensionScript,omitempty"`
	// ReadyExpression must evaluate truthy in the page before tests start
	ReadyExpression string `yaml:"readyExpression,omitempty"`
}

// NetworkRequestMock replaces responses for matching requests
type NetworkRequestMock struct {
	// RequestURL is a glob such as "https://*.example.com/api/*"
	RequestURL       string            `yaml:"requestURL"`
	Method           string            `yaml:"method,omitempty"`
	StatusCode       int               `yaml:"statusCode,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty"`
	ResponseDataFile string            `yaml:"responseDataFile,omitempty"`
	ResponseBody     string            `yaml:"responseBody,omitempty"`
}

// EnvironmentVariables maps personas to credential environment variable names
type EnvironmentVariables struct {
	Users []UserConfiguration `yaml:"users"`
}

// UserConfiguration names the env vars holding a persona's credentials
type UserConfiguration struct {
	PersonaName string `yaml:"personaName"`
	EmailKey    string `yaml:"emailKey"`
	PasswordKey string `yaml:"passwordKey"`
}

// TimeoutDuration returns the configured timeout as a duration
func (s TestSettings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Millisecond
}

// DefaultTestSettings returns sensible defaults
func DefaultTestSettings() TestSettings {
	return TestSettings{
		Timeout:  DefaultTimeoutMs,
		Headless: true,
		Locale:   "en-US",
		BrowserConfigurations: []BrowserConfiguration{
			{Browser: "Chromium"},
		},
	}
}

// LoadTestPlan reads and decodes a test plan file. Settings missing from the file keep their defaults.
func LoadTestPlan(path string) (*TestPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test plan: %w", err)
	}

	return ParseTestPlan(data)
}

// ParseTestPlan decodes a test plan document
func ParseTestPlan(data []byte) (*TestPlan, error) {
	plan := &TestPlan{TestSettings: DefaultTestSettings()}
	if err := yaml.Unmarshal(data, plan); err != nil {
		return nil, fmt.Errorf("failed to parse test plan: %w", err)
	}

	return plan, nil
}

// Validate checks the plan for everything a run depends on
func (p *TestPlan) Validate() error {
	var problems []string

	suite := p.TestSuite
	if strings.TrimSpace(suite.TestSuiteName) == "" {
		problems = append(problems, "testSuite.testSuiteName is required")
	}
	if strings.TrimSpace(suite.Persona) == "" {
		problems = append(problems, "testSuite.persona is required")
	}
	if strings.TrimSpace(suite.AppLogicalName) == "" {
		problems = append(problems, "testSuite.appLogicalName is required")
	}
	if len(suite.TestCases) == 0 {
		problems = append(problems, "testSuite.testCases must contain at least one test case")
	}
	for i, tc := range suite.TestCases {
		if strings.TrimSpace(tc.TestCaseName) == "" {
			problems = append(problems, fmt.Sprintf("testSuite.testCases[%d].testCaseName is required", i))
		}
		if strings.TrimSpace(tc.TestSteps) == "" {
			problems = append(problems, fmt.Sprintf("testSuite.testCases[%d].testSteps is required", i))
		}
	}

	settings := p.TestSettings
	if settings.Timeout < 0 {
		problems = append(problems, "testSettings.timeout cannot be less than zero")
	}
	if len(settings.BrowserConfigurations) == 0 {
		problems = append(problems, "testSettings.browserConfigurations must contain at least one browser")
	}
	for i, bc := range settings.BrowserConfigurations {
		if strings.TrimSpace(bc.Browser) == "" {
			problems = append(problems, fmt.Sprintf("testSettings.browserConfigurations[%d].browser is required", i))
		}
		if (bc.ScreenWidth == nil) != (bc.ScreenHeight == nil) {
			problems = append(problems, fmt.Sprintf("testSettings.browserConfigurations[%d] must set both screenWidth and screenHeight", i))
		}
	}
	for i, mock := range settings.NetworkRequestMocks {
		if strings.TrimSpace(mock.RequestURL) == "" {
			problems = append(problems, fmt.Sprintf("testSettings.networkRequestMocks[%d].requestURL is required", i))
		}
	}

	if suite.Persona != "" {
		if _, ok := p.EnvironmentVariables.User(suite.Persona); !ok {
			problems = append(problems, fmt.Sprintf("persona %q has no entry in environmentVariables.users", suite.Persona))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTestPlan, strings.Join(problems, "; "))
	}
	return nil
}

// User returns the configuration for a persona
func (e EnvironmentVariables) User(persona string) (UserConfiguration, bool) {
	for _, u := range e.Users {
		if u.PersonaName == persona {
			return u, true
		}
	}
	return UserConfiguration{}, false
}
