package runner

import (
	"context"

	"github.com/rs/zerolog"
)

// Reporter records suite and test outcomes
type Reporter interface {
	CreateTestSuite(runID, name string) (string, error)
	CreateTest(runID, suiteID, name, location string) (string, error)
	StartTest(runID, testID string) error
	EndTest(runID, testID string, success bool, stdout string, additionalFiles []string, errMsg, stackTrace string) error
}

// ExpressionEngine evaluates test steps and hooks
type ExpressionEngine interface {
	Setup() error
	UpdateModel(ctx context.Context) error
	// Execute evaluates expr once
	Execute(ctx context.Context, expr string) (any, error)
	// ExecuteWithRetry evaluates expr until it succeeds or the suite timeout elapses
	ExecuteWithRetry(ctx context.Context, expr string) error
}

// AutomationDriver controls the browser session
type AutomationDriver interface {
	Setup(ctx context.Context) error
	SetupNetworkRequestMock(ctx context.Context) error
	GoToURL(ctx context.Context, url string) error
	EndTestRun(ctx context.Context) error
}

// UserManager signs the suite persona in
type UserManager interface {
	LoginAsUser(ctx context.Context, url string) error
}

// URLMapper builds the address of the application under test
type URLMapper interface {
	GenerateTestURL(domain, queryParams string) (string, error)
}

// FileSystem is the subset of file operations used while running
type FileSystem interface {
	CreateDirectory(path string) error
	GetFiles(dir string) ([]string, error)
	RemoveInvalidFileNameChars(name string) string
}

// LoggerProvider creates the suite logger and flushes its captured lines
type LoggerProvider interface {
	CreateLogger(scopeID string) zerolog.Logger
	WriteLogs(scopeID, dir, testID string) error
}
