// Package engine evaluates test steps and hooks as JavaScript inside the
// application page
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/polling"
	"github.com/QTest-hq/qtest-engine/internal/state"
)

// DefaultReadyExpression is awaited before the first evaluation when no ready expression is configured
const DefaultReadyExpression = "document.readyState === 'complete'"

var (
	ErrNotConfigured   = errors.New("expression engine is missing a dependency")
	ErrNotSetUp        = errors.New("expression engine has not been set up")
	ErrEmptyExpression = errors.New("expression is empty")
	ErrEvaluation      = errors.New("expression evaluation failed")
	ErrAssertionFailed = errors.New("expression evaluated to false")
	ErrModelNotReady   = errors.New("application model did not become ready")
)

// Driver runs scripts in the application page
type Driver interface {
	RunJavascript(ctx context.Context, script string) (any, error)
	AddScriptTag(ctx context.Context, scriptURL string) error
}

// SettingsProvider exposes the test settings of the loaded plan
type SettingsProvider interface {
	TestSettings() *config.TestSettings
}

// Option configures an Engine
type Option func(*Engine)

// WithPollOptions passes options to every retry loop, e.g. a shorter interval
func WithPollOptions(opts ...polling.Option) Option {
	return func(e *Engine) {
		e.pollOpts = append(e.pollOpts, opts...)
	}
}

// Engine implements the runner's expression engine on top of the browser
type Engine struct {
	driver   Driver
	settings SettingsProvider
	instance state.TestInstanceState
	pollOpts []polling.Option

	mu         sync.Mutex
	setUp      bool
	modelReady bool
}

// New creates an Engine
func New(driver Driver, settings SettingsProvider, instance state.TestInstanceState, opts ...Option) *Engine {
	e := &Engine{
		driver:   driver,
		settings: settings,
		instance: instance,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Setup checks the engine is wired
func (e *Engine) Setup() error {
	if e.driver == nil || e.settings == nil || e.instance == nil {
		return ErrNotConfigured
	}
	if e.settings.TestSettings() == nil {
		return fmt.Errorf("%w: test settings", ErrNotConfigured)
	}

	e.mu.Lock()
	e.setUp = true
	e.mu.Unlock()
	return nil
}

// UpdateModel marks the page model stale. The page is not available yet when
// this runs, so the extension script and readiness wait happen before the next evaluation.
func (e *Engine) UpdateModel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.setUp {
		return ErrNotSetUp
	}
	e.modelReady = false
	return nil
}

// Execute evaluates expr once. A boolean false result is a failure.
func (e *Engine) Execute(ctx context.Context, expr string) (any, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(expr) == "" {
		return nil, ErrEmptyExpression
	}
	if err := e.loadModel(ctx); err != nil {
		return nil, err
	}

	result, err := e.driver.RunJavascript(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	if b, ok := result.(bool); ok && !b {
		return result, fmt.Errorf("%w: %s", ErrAssertionFailed, expr)
	}
	return result, nil
}

type attempt struct {
	done bool
	err  error
}

// ExecuteWithRetry evaluates expr until it succeeds, a non retryable error
// occurs or the suite timeout elapses
func (e *Engine) ExecuteWithRetry(ctx context.Context, expr string) error {
	if err := e.ready(); err != nil {
		return err
	}

	logger := e.instance.Logger()
	timeout := e.settings.TestSettings().TimeoutDuration()

	last, err := polling.PollContextWith(ctx, attempt{},
		func(a attempt) bool { return !a.done },
		func(ctx context.Context, _ attempt) (attempt, error) {
			_, err := e.Execute(ctx, expr)
			if err != nil && retryable(err) {
				logger.Debug().Err(err).Msg("Retrying expression")
				return attempt{err: err}, nil
			}
			return attempt{done: true, err: err}, nil
		},
		timeout, logger, e.pollOpts...)

	if err != nil {
		if errors.Is(err, polling.ErrTimeout) && last.err != nil {
			return fmt.Errorf("%w: %v", err, last.err)
		}
		return err
	}
	return last.err
}

func retryable(err error) bool {
	return errors.Is(err, ErrEvaluation) || errors.Is(err, ErrAssertionFailed)
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.setUp {
		return ErrNotSetUp
	}
	return nil
}

// loadModel injects the extension script and waits for the ready expression once per model refresh
func (e *Engine) loadModel(ctx context.Context) error {
	e.mu.Lock()
	loaded := e.modelReady
	e.mu.Unlock()
	if loaded {
		return nil
	}

	settings := e.settings.TestSettings()
	logger := e.instance.Logger()

	if script := strings.TrimSpace(settings.ExtensionScript); script != "" {
		if err := e.inject(ctx, script); err != nil {
			return fmt.Errorf("%w: %v", ErrModelNotReady, err)
		}
	}

	readyExpr := settings.ReadyExpression
	if strings.TrimSpace(readyExpr) == "" {
		readyExpr = DefaultReadyExpression
	}

	_, err := polling.PollContext(ctx, false,
		func(ready bool) bool { return !ready },
		func(ctx context.Context) (bool, error) {
			v, err := e.driver.RunJavascript(ctx, readyExpr)
			if err != nil {
				return false, nil
			}
			return truthy(v), nil
		},
		settings.TimeoutDuration(), logger, e.pollOpts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelNotReady, err)
	}

	logger.Debug().Msg("Application model is ready")

	e.mu.Lock()
	e.modelReady = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) inject(ctx context.Context, script string) error {
	if u, err := url.Parse(script); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return e.driver.AddScriptTag(ctx, script)
	}
	_, err := e.driver.RunJavascript(ctx, script)
	return err
}

// truthy follows JavaScript truthiness for JSON decoded values
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
