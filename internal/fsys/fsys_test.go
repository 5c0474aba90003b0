package fsys

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemFS() *FS {
	return NewWithFs(afero.NewMemMapFs())
}

func TestCreateDirectory_Idempotent(t *testing.T) {
	fs := newMemFS()
	dir := filepath.Join("runs", "Suite_Chromium_abc123")

	require.NoError(t, fs.CreateDirectory(dir))
	require.NoError(t, fs.CreateDirectory(dir))
	assert.True(t, fs.Exists(dir))

	assert.ErrorIs(t, fs.CreateDirectory(" "), ErrInvalidPath)
}

func TestGetFiles(t *testing.T) {
	fs := newMemFS()
	dir := "results"
	require.NoError(t, fs.WriteTextToFile(filepath.Join(dir, "screenshot2.png"), "b"))
	require.NoError(t, fs.WriteTextToFile(filepath.Join(dir, "logs.txt"), "a"))
	require.NoError(t, fs.CreateDirectory(filepath.Join(dir, "nested")))

	files, err := fs.GetFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "logs.txt"),
		filepath.Join(dir, "screenshot2.png"),
	}, files)

	empty := filepath.Join(dir, "nested")
	files, err = fs.GetFiles(empty)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = fs.GetFiles("missing")
	assert.Error(t, err)
}

func TestRemoveInvalidFileNameChars(t *testing.T) {
	fs := newMemFS()

	tests := []struct {
		in   string
		want string
	}{
		{"Test Case Name", "Test Case Name"},
		{`a<b>c:d"e/f\g|h?i*j`, "abcdefghij"},
		{"tab\there", "tabhere"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, fs.RemoveInvalidFileNameChars(tt.in), "input %q", tt.in)
	}
}

func TestIsValidFilePath(t *testing.T) {
	fs := newMemFS()

	assert.True(t, fs.IsValidFilePath("1.jpg"))
	assert.True(t, fs.IsValidFilePath(filepath.Join("a", "b", "shot.png")))
	assert.False(t, fs.IsValidFilePath(""))
	assert.False(t, fs.IsValidFilePath("   "))
	assert.False(t, fs.IsValidFilePath("what?.png"))
	assert.False(t, fs.IsValidFilePath("dir/"))
	assert.False(t, fs.IsValidFilePath("."))
}

func TestWriteAndReadFile(t *testing.T) {
	fs := newMemFS()
	path := filepath.Join("out", "deep", "logs.txt")

	require.NoError(t, fs.WriteTextToFile(path, "hello"))
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, fs.WriteTextToFile(path, "replaced"))
	data, err = fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	assert.ErrorIs(t, fs.WriteTextToFile("", "x"), ErrInvalidPath)
	_, err = fs.ReadFile("nope.txt")
	assert.Error(t, err)
}
