// Package plansource resolves a test plan reference to a local file, cloning
// git hosted plans on demand
package plansource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog/log"
)

// GitPrefix marks a plan reference that lives in a git repository
const GitPrefix = "git+"

var (
	ErrInvalidRef   = errors.New("invalid test plan reference")
	ErrPlanNotFound = errors.New("test plan not found")
)

// Ref is a parsed git plan reference: git+https://host/owner/repo.git//path/plan.yaml@branch
type Ref struct {
	RepoURL string
	Path    string
	Branch  string
}

// Resolved is a plan file available on local disk
type Resolved struct {
	Path      string
	CommitSHA string
	Branch    string
}

// IsGitRef reports whether ref points into a git repository
func IsGitRef(ref string) bool {
	return strings.HasPrefix(ref, GitPrefix)
}

// ParseRef parses a git plan reference
func ParseRef(ref string) (*Ref, error) {
	if !IsGitRef(ref) {
		return nil, fmt.Errorf("%w: missing %q prefix: %s", ErrInvalidRef, GitPrefix, ref)
	}
	raw := strings.TrimPrefix(ref, GitPrefix)

	schemeEnd := strings.Index(raw, "://")
	if schemeEnd <= 0 {
		return nil, fmt.Errorf("%w: missing scheme: %s", ErrInvalidRef, ref)
	}

	// The first // after the scheme separates the repository from the file inside it
	sep := strings.Index(raw[schemeEnd+3:], "//")
	if sep < 0 {
		return nil, fmt.Errorf("%w: missing //path to the plan file: %s", ErrInvalidRef, ref)
	}
	sep += schemeEnd + 3

	repoURL := raw[:sep]
	path := raw[sep+2:]

	var branch string
	if at := strings.LastIndex(path, "@"); at >= 0 {
		branch = path[at+1:]
		path = path[:at]
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty plan path: %s", ErrInvalidRef, ref)
	}
	if clean := filepath.ToSlash(filepath.Clean(path)); clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, fmt.Errorf("%w: plan path escapes the repository: %s", ErrInvalidRef, ref)
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	switch u.Scheme {
	case "https", "http", "file":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRef, u.Scheme)
	}

	return &Ref{RepoURL: repoURL, Path: path, Branch: branch}, nil
}

type cloneFunc func(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error)

func plainClone(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
	return git.PlainCloneContext(ctx, dir, false, opts)
}

// Source resolves plan references, cloning into workDir
type Source struct {
	workDir string
	token   string
	clone   cloneFunc
}

// NewSource creates a plan source. token authenticates https clones when set.
func NewSource(workDir, token string) *Source {
	return &Source{
		workDir: workDir,
		token:   token,
		clone:   plainClone,
	}
}

// Resolve returns a local path for ref. Local paths are returned as is.
func (s *Source) Resolve(ctx context.Context, ref string) (*Resolved, error) {
	if !IsGitRef(ref) {
		if _, err := os.Stat(ref); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlanNotFound, err)
		}
		return &Resolved{Path: ref}, nil
	}

	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	res, err := s.checkout(ctx, parsed)
	if err != nil {
		return nil, err
	}

	planPath := filepath.Join(res.Path, filepath.FromSlash(parsed.Path))
	if _, err := os.Stat(planPath); err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrPlanNotFound, parsed.Path, parsed.RepoURL)
	}
	res.Path = planPath
	return res, nil
}

// cloneDir maps a repository url to a stable directory under workDir
func (s *Source) cloneDir(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return filepath.Join(s.workDir, "repo")
	}
	name := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	name = strings.NewReplacer("/", "_", ":", "_").Replace(name)
	if u.Host != "" {
		name = u.Host + "_" + name
	}
	return filepath.Join(s.workDir, name)
}

func (s *Source) checkout(ctx context.Context, ref *Ref) (*Resolved, error) {
	repoDir := s.cloneDir(ref.RepoURL)

	if _, err := os.Stat(repoDir); err == nil {
		log.Debug().Str("path", repoDir).Msg("removing existing plan checkout")
		if err := os.RemoveAll(repoDir); err != nil {
			return nil, fmt.Errorf("failed to remove existing directory: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(repoDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	log.Info().
		Str("url", ref.RepoURL).
		Str("path", repoDir).
		Msg("cloning test plan repository")

	cloneOpts := &git.CloneOptions{
		URL: ref.RepoURL,
	}
	if !strings.HasPrefix(ref.RepoURL, "file://") {
		cloneOpts.Depth = 1
	}
	if s.token != "" && strings.HasPrefix(ref.RepoURL, "https://") {
		cloneOpts.Auth = &http.BasicAuth{
			Username: "git",
			Password: s.token,
		}
	}
	if ref.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(ref.Branch)
		cloneOpts.SingleBranch = true
	}

	repo, err := s.clone(ctx, repoDir, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", ref.RepoURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	res := &Resolved{
		Path:      repoDir,
		CommitSHA: head.Hash().String(),
		Branch:    head.Name().Short(),
	}

	log.Info().
		Str("commit", res.CommitSHA[:8]).
		Str("branch", res.Branch).
		Msg("clone complete")

	return res, nil
}
