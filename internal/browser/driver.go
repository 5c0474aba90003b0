// Package browser drives Chromium based browsers through the DevTools protocol
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/fsys"
	"github.com/QTest-hq/qtest-engine/internal/state"
)

var (
	ErrBrowserConfigMissing = errors.New("browser configuration cannot be null")
	ErrInvalidBrowser       = errors.New("browser is not supported")
	ErrTestSettingsMissing  = errors.New("test settings cannot be null")
	ErrUnknownDevice        = errors.New("unknown device")
	ErrBrowserNotStarted    = errors.New("browser has not been set up")
	ErrPageNotInitialized   = errors.New("page is not initialized")
	ErrInvalidURL           = errors.New("url must be an absolute http or https url")
	ErrNavigation           = errors.New("navigation failed")
	ErrInvalidPath          = errors.New("invalid screenshot path")
	ErrInvalidMock          = errors.New("invalid network request mock")
)

// FinalFrameFile is written to the results directory when recordVideo is on
const FinalFrameFile = "recording_final.png"

const screenshotQuality = 90

// SettingsProvider exposes the test settings of the loaded plan
type SettingsProvider interface {
	TestSettings() *config.TestSettings
}

type runFunc func(ctx context.Context, actions ...chromedp.Action) error

type runResponseFunc func(ctx context.Context, actions ...chromedp.Action) (*network.Response, error)

// Option configures a Driver
type Option func(*Driver)

// WithExecPath launches the browser binary at path
func WithExecPath(path string) Option {
	return func(d *Driver) {
		d.execPath = path
	}
}

// Driver is a chromedp backed browser session. One Driver serves one run.
type Driver struct {
	settings SettingsProvider
	instance state.TestInstanceState
	fs       fsys.FileSystem
	execPath string

	run         runFunc
	runResponse runResponseFunc

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	pageReady     bool
	mocks         []requestMock
}

// NewDriver creates a driver; nothing is launched until Setup
func NewDriver(settings SettingsProvider, instance state.TestInstanceState, fs fsys.FileSystem, opts ...Option) *Driver {
	d := &Driver{
		settings:    settings,
		instance:    instance,
		fs:          fs,
		run:         chromedp.Run,
		runResponse: chromedp.RunResponse,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) logger() *zerolog.Logger {
	l := d.instance.Logger()
	return &l
}

func (d *Driver) browserContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.browserCtx
}

// scoped derives a context from the browser context that is also cancelled with ctx
func (d *Driver) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	sctx, cancel := context.WithCancel(d.browserContext())
	stop := context.AfterFunc(ctx, cancel)
	return sctx, func() {
		stop()
		cancel()
	}
}

// allocatorOptions builds the launch flags for settings and cfg
func (d *Driver) allocatorOptions(settings *config.TestSettings, cfg *config.BrowserConfiguration) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", settings.Headless))

	execPath := d.execPath
	if execPath == "" {
		execPath, _ = lookupBrowser(cfg.Browser)
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	if settings.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", settings.Locale))
	}
	if cfg.ScreenWidth != nil && cfg.ScreenHeight != nil {
		opts = append(opts, chromedp.WindowSize(*cfg.ScreenWidth, *cfg.ScreenHeight))
	}
	return opts
}

// emulation returns the device or viewport actions for cfg
func emulation(cfg *config.BrowserConfiguration) ([]chromedp.Action, error) {
	var actions []chromedp.Action
	if cfg.Device != "" {
		dev, err := lookupDevice(cfg.Device)
		if err != nil {
			return nil, err
		}
		actions = append(actions, chromedp.Emulate(dev))
	}
	if cfg.ScreenWidth != nil && cfg.ScreenHeight != nil {
		actions = append(actions, chromedp.EmulateViewport(int64(*cfg.ScreenWidth), int64(*cfg.ScreenHeight)))
	}
	return actions, nil
}

// Setup validates the configuration and launches the browser
func (d *Driver) Setup(ctx context.Context) error {
	cfg := d.instance.BrowserConfig()
	if cfg == nil {
		return ErrBrowserConfigMissing
	}
	if strings.TrimSpace(cfg.Browser) == "" {
		return fmt.Errorf("%w: browser cannot be empty", ErrInvalidBrowser)
	}
	if _, ok := lookupBrowser(cfg.Browser); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidBrowser, cfg.Browser)
	}
	settings := d.settings.TestSettings()
	if settings == nil {
		return ErrTestSettingsMissing
	}

	actions, err := emulation(cfg)
	if err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), d.allocatorOptions(settings, cfg)...)
	logger := d.logger()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Printf))

	d.mu.Lock()
	d.allocCancel = allocCancel
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel
	d.mu.Unlock()

	// the first run starts the browser and must use the browser context itself
	if err := d.run(browserCtx, actions...); err != nil {
		d.close()
		return fmt.Errorf("failed to launch %s: %w", cfg.Browser, err)
	}

	logger.Info().
		Str("browser", cfg.Browser).
		Str("device", cfg.Device).
		Bool("headless", settings.Headless).
		Msg("Browser started")
	return nil
}

// GoToURL navigates the page to rawURL
func (d *Driver) GoToURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if d.browserContext() == nil {
		return ErrBrowserNotStarted
	}

	d.mu.Lock()
	d.pageReady = true
	d.mu.Unlock()

	nctx, cancel := d.scoped(ctx)
	defer cancel()

	resp, err := d.runResponse(nctx, chromedp.Navigate(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, rawURL, err)
	}
	if resp != nil && (resp.Status < 200 || resp.Status > 299) {
		d.logger().Error().Msgf("Error navigating to page: %s, status code: %d", rawURL, resp.Status)
		return fmt.Errorf("%w: %s returned status %d", ErrNavigation, rawURL, resp.Status)
	}
	return nil
}

func (d *Driver) page(ctx context.Context) (context.Context, context.CancelFunc, error) {
	d.mu.Lock()
	ready := d.pageReady && d.browserCtx != nil
	d.mu.Unlock()
	if !ready {
		return nil, nil, ErrPageNotInitialized
	}
	pctx, cancel := d.scoped(ctx)
	return pctx, cancel, nil
}

// Screenshot saves a full page PNG. Relative paths land in the results directory.
func (d *Driver) Screenshot(ctx context.Context, path string) error {
	pctx, cancel, err := d.page(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if !d.fs.IsValidFilePath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.instance.TestResultsDirectory(), path)
	}

	var buf []byte
	if err := d.run(pctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := d.fs.WriteFile(path, buf); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

// Fill types value into the element matching selector
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	pctx, cancel, err := d.page(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := d.run(pctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks the element matching selector
func (d *Driver) Click(ctx context.Context, selector string) error {
	pctx, cancel, err := d.page(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := d.run(pctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// WaitVisible blocks until selector is visible or ctx ends
func (d *Driver) WaitVisible(ctx context.Context, selector string) error {
	pctx, cancel, err := d.page(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return d.run(pctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// AddScriptTag loads the script at scriptURL into the page and waits for it
func (d *Driver) AddScriptTag(ctx context.Context, scriptURL string) error {
	pctx, cancel, err := d.page(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	js := fmt.Sprintf(`new Promise((resolve, reject) => {
	const s = document.createElement('script');
	s.src = %q;
	s.onload = () => resolve(true);
	s.onerror = () => reject(new Error('failed to load ' + s.src));
	document.head.appendChild(s);
})`, scriptURL)

	if err := d.run(pctx, chromedp.Evaluate(js, nil, awaitPromise)); err != nil {
		return fmt.Errorf("failed to add script %s: %w", scriptURL, err)
	}
	return nil
}

// RunJavascript evaluates script in the page and returns its JSON decoded result
func (d *Driver) RunJavascript(ctx context.Context, script string) (any, error) {
	pctx, cancel, err := d.page(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var result any
	if err := d.run(pctx, chromedp.Evaluate(script, &result, awaitPromise)); err != nil {
		return nil, fmt.Errorf("failed to run javascript: %w", err)
	}
	return result, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// EndTestRun closes the browser. Calling it again is a no-op.
func (d *Driver) EndTestRun(ctx context.Context) error {
	d.mu.Lock()
	started := d.browserCtx != nil
	ready := d.pageReady
	d.mu.Unlock()
	if !started {
		return nil
	}

	if settings := d.settings.TestSettings(); ready && settings != nil && settings.RecordVideo {
		if err := d.Screenshot(ctx, FinalFrameFile); err != nil {
			d.logger().Warn().Err(err).Msg("failed to capture final frame")
		}
	}

	d.close()
	d.logger().Debug().Msg("Browser closed")
	return nil
}

func (d *Driver) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	d.browserCtx = nil
	d.browserCancel = nil
	d.allocCancel = nil
	d.pageReady = false
	d.mocks = nil
}
