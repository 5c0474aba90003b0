// Package fsys is the file system used for run results and artifacts
package fsys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidPath is returned for empty or malformed paths
var ErrInvalidPath = errors.New("invalid file path")

// FileSystem is the set of file operations the engine depends on
type FileSystem interface {
	// CreateDirectory creates path and its parents; an existing directory is not an error
	CreateDirectory(path string) error
	// GetFiles lists the regular files directly inside dir, sorted by name
	GetFiles(dir string) ([]string, error)
	// RemoveInvalidFileNameChars strips characters not allowed in a file name
	RemoveInvalidFileNameChars(name string) string
	// IsValidFilePath reports whether path can be used as a file path
	IsValidFilePath(path string) bool
	// WriteTextToFile creates or truncates path and writes text
	WriteTextToFile(path, text string) error
	// WriteFile creates or truncates path and writes data
	WriteFile(path string, data []byte) error
	// ReadFile returns the content of path
	ReadFile(path string) ([]byte, error)
	// Exists reports whether path exists
	Exists(path string) bool
}

// invalidNameChars is the union of characters rejected in file names across platforms
const invalidNameChars = `<>:"/\|?*`

// invalidPathChars may not appear anywhere in a path
const invalidPathChars = `<>"|?*`

// FS implements FileSystem on top of an afero.Fs
type FS struct {
	fs afero.Fs
}

// New returns a FileSystem backed by the OS
func New() *FS {
	return &FS{fs: afero.NewOsFs()}
}

// NewWithFs returns a FileSystem backed by fs
func NewWithFs(fs afero.Fs) *FS {
	return &FS{fs: fs}
}

// Afero exposes the underlying afero.Fs
func (f *FS) Afero() afero.Fs {
	return f.fs
}

// CreateDirectory creates path and any missing parents
func (f *FS) CreateDirectory(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty directory path", ErrInvalidPath)
	}
	if err := f.fs.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// GetFiles lists regular files in dir
func (f *FS) GetFiles(dir string) ([]string, error) {
	infos, err := afero.ReadDir(f.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, info.Name()))
	}
	sort.Strings(files)

	return files, nil
}

// RemoveInvalidFileNameChars strips reserved and control characters
func (f *FS) RemoveInvalidFileNameChars(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || strings.ContainsRune(invalidNameChars, r) {
			return -1
		}
		return r
	}, name)
}

// IsValidFilePath rejects empty paths, reserved characters and directory-only paths
func (f *FS) IsValidFilePath(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	for _, r := range path {
		if r < 32 || strings.ContainsRune(invalidPathChars, r) {
			return false
		}
	}
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		return false
	}
	return filepath.Base(path) != "."
}

// WriteTextToFile writes text to path, creating the parent directory
func (f *FS) WriteTextToFile(path, text string) error {
	return f.WriteFile(path, []byte(text))
}

// WriteFile writes data to path, creating the parent directory
func (f *FS) WriteFile(path string, data []byte) error {
	if !f.IsValidFilePath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if err := f.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := afero.WriteFile(f.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads path
func (f *FS) ReadFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether path exists
func (f *FS) Exists(path string) bool {
	ok, err := afero.Exists(f.fs, path)
	return err == nil && ok
}
