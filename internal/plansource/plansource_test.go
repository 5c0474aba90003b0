package plansource

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planYAML = "testSuite:\n  testSuiteName: Smoke\n"

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref  string
		want Ref
	}{
		{
			"git+https://github.com/contoso/plans.git//smoke/plan.yaml",
			Ref{RepoURL: "https://github.com/contoso/plans.git", Path: "smoke/plan.yaml"},
		},
		{
			"git+https://github.com/contoso/plans.git//smoke/plan.yaml@release",
			Ref{RepoURL: "https://github.com/contoso/plans.git", Path: "smoke/plan.yaml", Branch: "release"},
		},
		{
			"git+file:///srv/git/plans//plan.yaml",
			Ref{RepoURL: "file:///srv/git/plans", Path: "plan.yaml"},
		},
	}

	for _, tt := range tests {
		got, err := ParseRef(tt.ref)
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.want, *got, tt.ref)
	}
}

func TestParseRef_Invalid(t *testing.T) {
	for _, ref := range []string{
		"https://github.com/contoso/plans.git//plan.yaml",
		"git+github.com/contoso/plans.git//plan.yaml",
		"git+https://github.com/contoso/plans.git",
		"git+https://github.com/contoso/plans.git//",
		"git+https://github.com/contoso/plans.git//../../etc/passwd",
		"git+ssh://github.com/contoso/plans.git//plan.yaml",
	} {
		_, err := ParseRef(ref)
		assert.ErrorIs(t, err, ErrInvalidRef, ref)
	}
}

func TestResolve_LocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(planYAML), 0644))

	s := NewSource(t.TempDir(), "")

	res, err := s.Resolve(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Empty(t, res.CommitSHA)

	_, err = s.Resolve(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

// initRepo creates a repository at dir holding files and returns the commit hash
func initRepo(t *testing.T, dir string, files map[string]string) string {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}

	hash, err := wt.Commit("add plans", &git.CommitOptions{
		Author: &object.Signature{Name: "qtest", Email: "qtest@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestResolve_GitRef(t *testing.T) {
	var (
		gotOpts *git.CloneOptions
		commit  string
	)
	s := NewSource(t.TempDir(), "secret-token")
	s.clone = func(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
		gotOpts = opts
		commit = initRepo(t, dir, map[string]string{"smoke/plan.yaml": planYAML})
		return git.PlainOpen(dir)
	}

	res, err := s.Resolve(context.Background(), "git+https://github.com/contoso/plans.git//smoke/plan.yaml@main")
	require.NoError(t, err)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, planYAML, string(data))
	assert.Equal(t, commit, res.CommitSHA)
	assert.Contains(t, res.Path, "github.com_contoso_plans")

	require.NotNil(t, gotOpts)
	assert.Equal(t, "https://github.com/contoso/plans.git", gotOpts.URL)
	assert.Equal(t, 1, gotOpts.Depth)
	assert.True(t, gotOpts.SingleBranch)
	assert.Equal(t, "refs/heads/main", gotOpts.ReferenceName.String())
	assert.NotNil(t, gotOpts.Auth)
}

func TestResolve_GitRefMissingFile(t *testing.T) {
	s := NewSource(t.TempDir(), "")
	s.clone = func(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
		initRepo(t, dir, map[string]string{"other.yaml": planYAML})
		return git.PlainOpen(dir)
	}

	_, err := s.Resolve(context.Background(), "git+https://github.com/contoso/plans.git//smoke/plan.yaml")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestResolve_CloneFailure(t *testing.T) {
	s := NewSource(t.TempDir(), "")
	s.clone = func(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
		return nil, errors.New("authentication required")
	}

	_, err := s.Resolve(context.Background(), "git+https://github.com/contoso/plans.git//plan.yaml")
	assert.ErrorContains(t, err, "authentication required")
}

func TestResolve_ReplacesStaleCheckout(t *testing.T) {
	work := t.TempDir()
	s := NewSource(work, "")
	stale := filepath.Join(s.cloneDir("https://github.com/contoso/plans.git"), "stale.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	s.clone = func(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
		initRepo(t, dir, map[string]string{"plan.yaml": planYAML})
		return git.PlainOpen(dir)
	}

	_, err := s.Resolve(context.Background(), "git+https://github.com/contoso/plans.git//plan.yaml")
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

// TestResolve_LocalClone clones over the file transport, which shells out to git
func TestResolve_LocalClone(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available")
	}

	origin := t.TempDir()
	commit := initRepo(t, origin, map[string]string{"plans/plan.yaml": planYAML})

	s := NewSource(t.TempDir(), "")
	res, err := s.Resolve(context.Background(), "git+file://"+filepath.ToSlash(origin)+"//plans/plan.yaml")
	require.NoError(t, err)
	assert.Equal(t, commit, res.CommitSHA)
	assert.FileExists(t, res.Path)
}
