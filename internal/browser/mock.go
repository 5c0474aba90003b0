package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"

	"github.com/QTest-hq/qtest-engine/internal/config"
)

// requestMock is a network mock ready to be matched against paused requests
type requestMock struct {
	pattern *regexp.Regexp
	method  string
	status  int64
	headers []*fetch.HeaderEntry
	body    string
}

// compilePattern turns a url glob such as https://*.example.com/api/* into a regexp
func compilePattern(glob string) (*regexp.Regexp, error) {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

func (d *Driver) compileMocks(mocks []config.NetworkRequestMock) ([]requestMock, error) {
	out := make([]requestMock, 0, len(mocks))
	for i, m := range mocks {
		if strings.TrimSpace(m.RequestURL) == "" {
			return nil, fmt.Errorf("%w: networkRequestMocks[%d] has no requestURL", ErrInvalidMock, i)
		}
		re, err := compilePattern(m.RequestURL)
		if err != nil {
			return nil, fmt.Errorf("%w: networkRequestMocks[%d]: %v", ErrInvalidMock, i, err)
		}

		body := []byte(m.ResponseBody)
		if m.ResponseDataFile != "" {
			if body, err = d.fs.ReadFile(m.ResponseDataFile); err != nil {
				return nil, fmt.Errorf("%w: networkRequestMocks[%d]: %v", ErrInvalidMock, i, err)
			}
		}

		status := int64(m.StatusCode)
		if status == 0 {
			status = http.StatusOK
		}

		names := make([]string, 0, len(m.Headers))
		for name := range m.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		headers := make([]*fetch.HeaderEntry, 0, len(names))
		for _, name := range names {
			headers = append(headers, &fetch.HeaderEntry{Name: name, Value: m.Headers[name]})
		}

		out = append(out, requestMock{
			pattern: re,
			method:  strings.ToUpper(strings.TrimSpace(m.Method)),
			status:  status,
			headers: headers,
			body:    base64.StdEncoding.EncodeToString(body),
		})
	}
	return out, nil
}

// match returns the first mock configured for url and method
func match(mocks []requestMock, url, method string) *requestMock {
	for i := range mocks {
		m := &mocks[i]
		if m.method != "" && !strings.EqualFold(m.method, method) {
			continue
		}
		if m.pattern.MatchString(url) {
			return m
		}
	}
	return nil
}

// onTargetEvent fulfils paused requests that match a mock and lets the rest through.
// Handlers must not block, so the answers are sent from a new goroutine.
func (d *Driver) onTargetEvent(ev any) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}

	go func() {
		ctx := d.browserContext()
		if ctx == nil {
			return
		}

		d.mu.Lock()
		mocks := d.mocks
		d.mu.Unlock()

		var action chromedp.Action = fetch.ContinueRequest(paused.RequestID)
		if paused.Request != nil {
			if m := match(mocks, paused.Request.URL, paused.Request.Method); m != nil {
				d.logger().Debug().Str("url", paused.Request.URL).Int64("status", m.status).Msg("Fulfilling mocked request")
				action = fetch.FulfillRequest(paused.RequestID, m.status).
					WithResponseHeaders(m.headers).
					WithBody(m.body)
			}
		}

		if err := d.run(ctx, action); err != nil && ctx.Err() == nil {
			d.logger().Warn().Err(err).Msg("failed to answer paused request")
		}
	}()
}

// SetupNetworkRequestMock intercepts requests matching the configured mocks
func (d *Driver) SetupNetworkRequestMock(ctx context.Context) error {
	settings := d.settings.TestSettings()
	if settings == nil || len(settings.NetworkRequestMocks) == 0 {
		return nil
	}

	bctx := d.browserContext()
	if bctx == nil {
		return ErrBrowserNotStarted
	}

	mocks, err := d.compileMocks(settings.NetworkRequestMocks)
	if err != nil {
		return err
	}

	patterns := make([]*fetch.RequestPattern, 0, len(settings.NetworkRequestMocks))
	for _, m := range settings.NetworkRequestMocks {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: m.RequestURL})
	}

	d.mu.Lock()
	d.mocks = mocks
	d.mu.Unlock()

	chromedp.ListenTarget(bctx, d.onTargetEvent)

	rctx, cancel := d.scoped(ctx)
	defer cancel()
	if err := d.run(rctx, fetch.Enable().WithPatterns(patterns)); err != nil {
		return fmt.Errorf("failed to enable request interception: %w", err)
	}

	d.logger().Info().Int("mocks", len(mocks)).Msg("Network request mocks enabled")
	return nil
}
