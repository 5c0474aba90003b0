package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `
testSuite:
  testSuiteName: Button Clicker
  testSuiteDescription: Verifies that counter increments
  persona: User1
  appLogicalName: new_buttonclicker_0a877
  onTestCaseStart: Screenshot("start.png")
  testCases:
    - testCaseName: Case1
      testCaseDescription: Clicks once
      testSteps: |
        Select(Button1);
        Assert(Label1.Text = "1");
    - testCaseName: Case2
      testSteps: Assert(true)

testSettings:
  timeout: 15000
  recordVideo: true
  headless: false
  browserConfigurations:
    - browser: Chromium
    - browser: Chromium
      device: Pixel 2
    - browser: MicrosoftEdge
      screenWidth: 1280
      screenHeight: 720
  networkRequestMocks:
    - requestURL: "https://*.example.com/api/*"
      method: GET
      statusCode: 200
      responseBody: '{"ok":true}'

environmentVariables:
  users:
    - personaName: User1
      emailKey: user1Email
      passwordKey: user1Password
`

func TestParseTestPlan(t *testing.T) {
	plan, err := ParseTestPlan([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "Button Clicker", plan.TestSuite.TestSuiteName)
	assert.Equal(t, "User1", plan.TestSuite.Persona)
	assert.Equal(t, `Screenshot("start.png")`, plan.TestSuite.OnTestCaseStart)
	assert.Empty(t, plan.TestSuite.OnTestCaseComplete)
	require.Len(t, plan.TestSuite.TestCases, 2)
	assert.Equal(t, "Case1", plan.TestSuite.TestCases[0].TestCaseName)
	assert.Contains(t, plan.TestSuite.TestCases[0].TestSteps, "Select(Button1);")

	assert.Equal(t, 15000, plan.TestSettings.Timeout)
	assert.Equal(t, 15*time.Second, plan.TestSettings.TimeoutDuration())
	assert.True(t, plan.TestSettings.RecordVideo)
	assert.False(t, plan.TestSettings.Headless)
	assert.Equal(t, "en-US", plan.TestSettings.Locale, "default kept when omitted")
	require.Len(t, plan.TestSettings.BrowserConfigurations, 3)
	assert.Equal(t, "Pixel 2", plan.TestSettings.BrowserConfigurations[1].Device)
	require.NotNil(t, plan.TestSettings.BrowserConfigurations[2].ScreenWidth)
	assert.Equal(t, 1280, *plan.TestSettings.BrowserConfigurations[2].ScreenWidth)
	require.Len(t, plan.TestSettings.NetworkRequestMocks, 1)
	assert.Equal(t, 200, plan.TestSettings.NetworkRequestMocks[0].StatusCode)

	user, ok := plan.EnvironmentVariables.User("User1")
	require.True(t, ok)
	assert.Equal(t, "user1Email", user.EmailKey)

	assert.NoError(t, plan.Validate())
}

func TestParseTestPlan_InvalidYAML(t *testing.T) {
	_, err := ParseTestPlan([]byte("testSuite: [unclosed"))
	assert.Error(t, err)
}

func TestLoadTestPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0644))

	plan, err := LoadTestPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "Button Clicker", plan.TestSuite.TestSuiteName)

	_, err = LoadTestPlan(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultTestSettings(t *testing.T) {
	s := DefaultTestSettings()

	assert.Equal(t, DefaultTimeoutMs, s.Timeout)
	assert.True(t, s.Headless)
	require.Len(t, s.BrowserConfigurations, 1)
	assert.Equal(t, "Chromium", s.BrowserConfigurations[0].Browser)
}

func TestTestPlan_Validate(t *testing.T) {
	width := 800

	tests := []struct {
		name    string
		mutate  func(p *TestPlan)
		wantMsg string
	}{
		{"missing suite name", func(p *TestPlan) { p.TestSuite.TestSuiteName = "" }, "testSuiteName is required"},
		{"missing persona", func(p *TestPlan) { p.TestSuite.Persona = "" }, "persona is required"},
		{"missing app", func(p *TestPlan) { p.TestSuite.AppLogicalName = " " }, "appLogicalName is required"},
		{"no test cases", func(p *TestPlan) { p.TestSuite.TestCases = nil }, "at least one test case"},
		{"unnamed case", func(p *TestPlan) { p.TestSuite.TestCases[1].TestCaseName = "" }, "testCases[1].testCaseName"},
		{"empty steps", func(p *TestPlan) { p.TestSuite.TestCases[0].TestSteps = "" }, "testCases[0].testSteps"},
		{"negative timeout", func(p *TestPlan) { p.TestSettings.Timeout = -1 }, "timeout cannot be less than zero"},
		{"no browsers", func(p *TestPlan) { p.TestSettings.BrowserConfigurations = nil }, "at least one browser"},
		{"empty browser", func(p *TestPlan) { p.TestSettings.BrowserConfigurations[0].Browser = "" }, "browserConfigurations[0].browser"},
		{"half viewport", func(p *TestPlan) {
			p.TestSettings.BrowserConfigurations[0].ScreenWidth = &width
		}, "both screenWidth and screenHeight"},
		{"mock without url", func(p *TestPlan) { p.TestSettings.NetworkRequestMocks[0].RequestURL = "" }, "requestURL is required"},
		{"unknown persona", func(p *TestPlan) { p.TestSuite.Persona = "User2" }, `persona "User2"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParseTestPlan([]byte(samplePlan))
			require.NoError(t, err)

			tt.mutate(plan)
			err = plan.Validate()

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTestPlan))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
