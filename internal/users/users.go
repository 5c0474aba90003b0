// Package users signs the suite persona into the application under test
package users

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/QTest-hq/qtest-engine/internal/polling"
	"github.com/QTest-hq/qtest-engine/internal/state"
)

var (
	ErrNotConfigured      = errors.New("user manager is missing a dependency")
	ErrPersonaMissing     = errors.New("test suite has no persona")
	ErrPersonaNotFound    = errors.New("persona is not configured in environmentVariables.users")
	ErrCredentialKeys     = errors.New("persona has no email or password key")
	ErrCredentialsMissing = errors.New("credential environment variable is not set")
	ErrLoginElement       = errors.New("login page element did not appear")
)

// Selectors of the sign-in form
type Selectors struct {
	Email         string
	Next          string
	Password      string
	SignIn        string
	StaySignedIn  string
	AttemptWindow time.Duration
}

// DefaultSelectors match the hosted sign-in page
func DefaultSelectors() Selectors {
	return Selectors{
		Email:         `input[type="email"]`,
		Next:          `input[type="submit"]`,
		Password:      `input[type="password"]`,
		SignIn:        `input[type="submit"]`,
		StaySignedIn:  `#idBtn_Back`,
		AttemptWindow: 5 * time.Second,
	}
}

// Driver is the part of the automation driver used to sign in
type Driver interface {
	GoToURL(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
}

// Option configures a Manager
type Option func(*Manager)

// WithSelectors overrides the sign-in form selectors
func WithSelectors(s Selectors) Option {
	return func(m *Manager) { m.selectors = s }
}

// WithLookupEnv replaces os.LookupEnv, for tests
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.lookupEnv = fn
		}
	}
}

// WithPollOptions is passed to every element wait
func WithPollOptions(opts ...polling.Option) Option {
	return func(m *Manager) { m.pollOpts = append(m.pollOpts, opts...) }
}

// Manager signs in through the browser with credentials taken from the environment
type Manager struct {
	driver    Driver
	plan      state.TestState
	instance  state.TestInstanceState
	selectors Selectors
	lookupEnv func(string) (string, bool)
	pollOpts  []polling.Option
}

// New creates a Manager
func New(driver Driver, plan state.TestState, instance state.TestInstanceState, opts ...Option) *Manager {
	m := &Manager{
		driver:    driver,
		plan:      plan,
		instance:  instance,
		selectors: DefaultSelectors(),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type credentials struct {
	email    string
	password string
}

// LoginAsUser opens url and completes the sign-in form as the suite persona
func (m *Manager) LoginAsUser(ctx context.Context, url string) error {
	creds, err := m.resolve()
	if err != nil {
		return err
	}

	logger := m.instance.Logger()
	logger.Info().Str("persona", m.instance.TestSuiteDefinition().Persona).Msg("Logging in")

	if err := m.driver.GoToURL(ctx, url); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	s := m.selectors
	if err := m.fill(ctx, s.Email, creds.email); err != nil {
		return err
	}
	if err := m.click(ctx, s.Next); err != nil {
		return err
	}
	if err := m.fill(ctx, s.Password, creds.password); err != nil {
		return err
	}
	if err := m.click(ctx, s.SignIn); err != nil {
		return err
	}

	// The stay signed in prompt is only shown for some accounts
	if s.StaySignedIn != "" {
		if err := m.tryClick(ctx, s.StaySignedIn); err != nil {
			logger.Debug().Err(err).Msg("Stay signed in prompt not shown")
		}
	}

	logger.Info().Msg("Login complete")
	return nil
}

func (m *Manager) resolve() (credentials, error) {
	if m.driver == nil || m.plan == nil || m.instance == nil {
		return credentials{}, ErrNotConfigured
	}

	suite := m.instance.TestSuiteDefinition()
	if suite == nil || strings.TrimSpace(suite.Persona) == "" {
		return credentials{}, ErrPersonaMissing
	}

	user, ok := m.plan.UserConfiguration(suite.Persona)
	if !ok {
		return credentials{}, fmt.Errorf("%w: %s", ErrPersonaNotFound, suite.Persona)
	}
	if user.EmailKey == "" || user.PasswordKey == "" {
		return credentials{}, fmt.Errorf("%w: %s", ErrCredentialKeys, suite.Persona)
	}

	email, ok := m.lookupEnv(user.EmailKey)
	if !ok || email == "" {
		return credentials{}, fmt.Errorf("%w: %s", ErrCredentialsMissing, user.EmailKey)
	}
	password, ok := m.lookupEnv(user.PasswordKey)
	if !ok || password == "" {
		return credentials{}, fmt.Errorf("%w: %s", ErrCredentialsMissing, user.PasswordKey)
	}

	return credentials{email: email, password: password}, nil
}

// await polls until selector is visible, giving each attempt a bounded window
func (m *Manager) await(ctx context.Context, selector string) error {
	timeout := time.Duration(0)
	if settings := m.plan.TestSettings(); settings != nil {
		timeout = settings.TimeoutDuration()
	}

	_, err := polling.PollContext(ctx, false,
		func(visible bool) bool { return !visible },
		func(ctx context.Context) (bool, error) {
			actx := ctx
			if m.selectors.AttemptWindow > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, m.selectors.AttemptWindow)
				defer cancel()
			}
			if err := m.driver.WaitVisible(actx, selector); err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				return false, nil
			}
			return true, nil
		},
		timeout, m.instance.Logger(), m.pollOpts...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLoginElement, selector, err)
	}
	return nil
}

func (m *Manager) fill(ctx context.Context, selector, value string) error {
	if err := m.await(ctx, selector); err != nil {
		return err
	}
	if err := m.driver.Fill(ctx, selector, value); err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, err)
	}
	return nil
}

func (m *Manager) click(ctx context.Context, selector string) error {
	if err := m.await(ctx, selector); err != nil {
		return err
	}
	if err := m.driver.Click(ctx, selector); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// tryClick gives selector a single attempt window to appear
func (m *Manager) tryClick(ctx context.Context, selector string) error {
	wctx := ctx
	if m.selectors.AttemptWindow > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, m.selectors.AttemptWindow)
		defer cancel()
	}
	if err := m.driver.WaitVisible(wctx, selector); err != nil {
		return err
	}
	return m.driver.Click(ctx, selector)
}
