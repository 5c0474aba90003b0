package browser

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/qtest-engine/internal/config"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		glob  string
		url   string
		match bool
	}{
		{"https://*.example.com/api/*", "https://tenant.example.com/api/data?x=1", true},
		{"https://*.example.com/api/*", "https://example.org/api/data", false},
		{"https://example.com/exact", "https://example.com/exact", true},
		{"https://example.com/exact", "https://example.com/exact/more", false},
		{"*", "https://anything", true},
		{"https://example.com/a.b", "https://example.com/aXb", false},
	}

	for _, tt := range tests {
		re, err := compilePattern(tt.glob)
		require.NoError(t, err)
		assert.Equal(t, tt.match, re.MatchString(tt.url), "%s vs %s", tt.glob, tt.url)
	}
}

func TestCompileMocks(t *testing.T) {
	f := newDriverFixture(t)
	require.NoError(t, f.fs.WriteTextToFile("mocks/data.json", `{"from":"file"}`))

	mocks, err := f.driver.compileMocks([]config.NetworkRequestMock{
		{RequestURL: "https://*.example.com/api/*", Method: "get", ResponseBody: `{"ok":true}`, Headers: map[string]string{"X-B": "2", "Content-Type": "application/json"}},
		{RequestURL: "https://example.com/file", StatusCode: 201, ResponseDataFile: "mocks/data.json"},
	})
	require.NoError(t, err)
	require.Len(t, mocks, 2)

	assert.Equal(t, "GET", mocks[0].method)
	assert.Equal(t, int64(200), mocks[0].status, "status defaults to 200")
	require.Len(t, mocks[0].headers, 2)
	assert.Equal(t, "Content-Type", mocks[0].headers[0].Name)
	body, err := base64.StdEncoding.DecodeString(mocks[0].body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	assert.Equal(t, int64(201), mocks[1].status)
	body, err = base64.StdEncoding.DecodeString(mocks[1].body)
	require.NoError(t, err)
	assert.Equal(t, `{"from":"file"}`, string(body))

	_, err = f.driver.compileMocks([]config.NetworkRequestMock{{RequestURL: ""}})
	assert.ErrorIs(t, err, ErrInvalidMock)
	_, err = f.driver.compileMocks([]config.NetworkRequestMock{{RequestURL: "https://x", ResponseDataFile: "missing.json"}})
	assert.ErrorIs(t, err, ErrInvalidMock)
}

func TestMatch(t *testing.T) {
	f := newDriverFixture(t)
	mocks, err := f.driver.compileMocks([]config.NetworkRequestMock{
		{RequestURL: "https://example.com/api/*", Method: "POST", StatusCode: 500},
		{RequestURL: "https://example.com/api/*", StatusCode: 200},
	})
	require.NoError(t, err)

	m := match(mocks, "https://example.com/api/items", "post")
	require.NotNil(t, m)
	assert.Equal(t, int64(500), m.status)

	m = match(mocks, "https://example.com/api/items", "GET")
	require.NotNil(t, m)
	assert.Equal(t, int64(200), m.status)

	assert.Nil(t, match(mocks, "https://example.com/other", "GET"))
}

func TestSetupNetworkRequestMock(t *testing.T) {
	t.Run("no mocks is a no-op", func(t *testing.T) {
		f := newDriverFixture(t)
		assert.NoError(t, f.driver.SetupNetworkRequestMock(context.Background()))
		assert.Equal(t, 0, f.chrome.runs)
	})

	t.Run("requires browser", func(t *testing.T) {
		f := newDriverFixture(t)
		f.settings.NetworkRequestMocks = []config.NetworkRequestMock{{RequestURL: "https://x/*"}}
		assert.ErrorIs(t, f.driver.SetupNetworkRequestMock(context.Background()), ErrBrowserNotStarted)
	})

	t.Run("enables interception", func(t *testing.T) {
		f := newDriverFixture(t)
		f.settings.NetworkRequestMocks = []config.NetworkRequestMock{{RequestURL: "https://x/*", ResponseBody: "{}"}}
		require.NoError(t, f.driver.Setup(context.Background()))

		require.NoError(t, f.driver.SetupNetworkRequestMock(context.Background()))
		assert.Equal(t, 2, f.chrome.runs)
		assert.Len(t, f.driver.mocks, 1)
	})

	t.Run("invalid mock", func(t *testing.T) {
		f := newDriverFixture(t)
		f.settings.NetworkRequestMocks = []config.NetworkRequestMock{{RequestURL: "https://x/*", ResponseDataFile: "nope.json"}}
		require.NoError(t, f.driver.Setup(context.Background()))

		assert.ErrorIs(t, f.driver.SetupNetworkRequestMock(context.Background()), ErrInvalidMock)
	})
}
