// Package gitx is the git plumbing layer. Everything the engine knows
// about a repository comes through here, so hook handlers can be fed a
// fake in tests.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDetachedHEAD = errors.New("detached HEAD")
	ErrNotGitRepo   = errors.New("not a git repository")
)

const defaultTimeout = 3 * time.Second

// Repo runs git against one working directory.
type Repo struct {
	dir     string
	timeout time.Duration
}

// Open returns a Repo rooted at dir. Empty dir means the process cwd.
func Open(dir string) *Repo {
	return &Repo{dir: dir, timeout: defaultTimeout}
}

// run executes git with args and returns trimmed stdout.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", args[0], r.timeout)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked-out branch, or ErrDetachedHEAD.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		return "", ErrDetachedHEAD
	}
	return out, nil
}

// RepoRoot returns the repository top-level directory.
func (r *Repo) RepoRoot(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", ErrNotGitRepo
	}
	return out, nil
}

// GitDir returns the absolute .git directory path.
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--absolute-git-dir")
}

// IsAncestor reports whether ancestor is reachable from descendant.
// A false result is not an error: exit status 1 means "no".
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = r.dir
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return false, fmt.Errorf("git merge-base timed out after %s", r.timeout)
	}
	return false, fmt.Errorf("git merge-base: %w", err)
}

// CountCommits counts commits reachable from include but not exclude.
func (r *Repo) CountCommits(ctx context.Context, exclude, include string) (int, error) {
	out, err := r.run(ctx, "rev-list", "--count", exclude+".."+include)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// RefExists reports whether ref resolves to an object locally.
func (r *Repo) RefExists(ctx context.Context, ref string) bool {
	_, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

// ResolveRef resolves ref to a full SHA.
func (r *Repo) ResolveRef(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, "rev-parse", ref)
}

// MergeParentCount returns how many parents the commit has.
func (r *Repo) MergeParentCount(ctx context.Context, sha string) (int, error) {
	out, err := r.run(ctx, "rev-list", "--parents", "-n", "1", sha)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty rev-list output for %s", sha)
	}
	return len(fields) - 1, nil
}

// RemoteURL returns the fetch URL of the named remote.
func (r *Repo) RemoteURL(ctx context.Context, remote string) (string, error) {
	return r.run(ctx, "remote", "get-url", remote)
}

// RepoSlug derives owner/name from the origin URL. Best effort: an
// empty slug just means audit records carry no repo field.
func (r *Repo) RepoSlug(ctx context.Context) string {
	url, err := r.RemoteURL(ctx, "origin")
	if err != nil {
		return ""
	}
	return SlugFromURL(url)
}

// StagedFiles lists paths staged for commit (added, copied, modified).
func (r *Repo) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--cached", "--name-only", "--diff-filter=ACM")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// StagedContent returns the staged (index) content of path.
func (r *Repo) StagedContent(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "show", ":"+path)
	cmd.Dir = r.dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git show :%s: %w", path, err)
	}
	return out, nil
}

// Identity returns the configured committer name and email.
func (r *Repo) Identity(ctx context.Context) (name, email string) {
	name, _ = r.run(ctx, "config", "user.name")
	email, _ = r.run(ctx, "config", "user.email")
	return name, email
}

// RecentAuthors returns "name <email>" for the last n commits.
func (r *Repo) RecentAuthors(ctx context.Context, n int) ([]string, error) {
	out, err := r.run(ctx, "log", "-n", strconv.Itoa(n), "--format=%an <%ae>")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RecentTrailers returns the raw bodies of the last n commits, which
// is where Co-Authored-By trailers live.
func (r *Repo) RecentTrailers(ctx context.Context, n int) (string, error) {
	return r.run(ctx, "log", "-n", strconv.Itoa(n), "--format=%B")
}

// ReflogAction returns GIT_REFLOG_ACTION, which git sets for compound
// operations like rebase and pull.
func (r *Repo) ReflogAction() string {
	return os.Getenv("GIT_REFLOG_ACTION")
}

// RebaseInProgress reports whether a rebase is underway by checking
// the marker directories git maintains.
func (r *Repo) RebaseInProgress(ctx context.Context) bool {
	gitDir, err := r.GitDir(ctx)
	if err != nil {
		return false
	}
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return true
		}
	}
	return false
}
