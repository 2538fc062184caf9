package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoUpstream is returned when the current branch has no upstream configured.
var ErrNoUpstream = errors.New("no upstream configured")

// Upstream describes the remote branch the current branch tracks.
type Upstream struct {
	Remote string // e.g. "origin"
	Branch string // remote branch name without refs/heads/
	Ref    string // short tracking ref, e.g. "origin/feature"
}

// PushOptions controls a push of HEAD to its upstream.
type PushOptions struct {
	Remote string
	Branch string
	// LeaseSHA pins --force-with-lease to the remote commit last seen.
	// Empty means a plain fast-forward push.
	LeaseSHA string
}

// Client defines the git operations used against a working tree.
// All methods take a path parameter so the tool can run against any checkout.
type Client interface {
	RepoRoot(ctx context.Context, path string) (string, error)
	CurrentBranch(ctx context.Context, path string) (string, error)
	IsDirty(ctx context.Context, path string) (bool, error)
	Upstream(ctx context.Context, path string) (*Upstream, error)
	AheadBehind(ctx context.Context, path, ref string) (ahead, behind int, err error)
	RevParse(ctx context.Context, path, ref string) (string, error)
	Fetch(ctx context.Context, path, remote string) error
	Rebase(ctx context.Context, path, onto string) error
	RebaseAbort(ctx context.Context, path string) error
	Push(ctx context.Context, path string, opts PushOptions) error
	Diff(ctx context.Context, path, base string) (string, error)
	RemoteURL(ctx context.Context, path string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) IsDirty(ctx context.Context, path string) (bool, error) {
	out, err := gitCmd(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) Upstream(ctx context.Context, path string) (*Upstream, error) {
	branch, err := c.CurrentBranch(ctx, path)
	if err != nil {
		return nil, err
	}
	if branch == "HEAD" {
		return nil, fmt.Errorf("detached HEAD: %w", ErrNoUpstream)
	}

	// git config exits 1 with no output when the key is unset.
	remote, err := gitCmd(ctx, path, "config", "--get", "branch."+branch+".remote")
	if err != nil || remote == "" {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrNoUpstream)
	}
	merge, err := gitCmd(ctx, path, "config", "--get", "branch."+branch+".merge")
	if err != nil || merge == "" {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrNoUpstream)
	}
	ref, err := gitCmd(ctx, path, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrNoUpstream)
	}

	return &Upstream{
		Remote: remote,
		Branch: strings.TrimPrefix(merge, "refs/heads/"),
		Ref:    ref,
	}, nil
}

func (c *RealClient) AheadBehind(ctx context.Context, path, ref string) (int, int, error) {
	out, err := gitCmd(ctx, path, "rev-list", "--left-right", "--count", "HEAD..."+ref)
	if err != nil {
		return 0, 0, err
	}
	return ParseAheadBehind(out)
}

func (c *RealClient) RevParse(ctx context.Context, path, ref string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", ref)
}

func (c *RealClient) Fetch(ctx context.Context, path, remote string) error {
	_, err := gitCmd(ctx, path, "fetch", remote)
	return err
}

func (c *RealClient) Rebase(ctx context.Context, path, onto string) error {
	_, err := gitCmd(ctx, path, "rebase", onto)
	return err
}

func (c *RealClient) RebaseAbort(ctx context.Context, path string) error {
	_, err := gitCmd(ctx, path, "rebase", "--abort")
	return err
}

func (c *RealClient) Push(ctx context.Context, path string, opts PushOptions) error {
	_, err := gitCmd(ctx, path, PushArgs(opts)...)
	return err
}

func (c *RealClient) Diff(ctx context.Context, path, base string) (string, error) {
	return gitCmd(ctx, path, "diff", base)
}

func (c *RealClient) RemoteURL(ctx context.Context, path string) (string, error) {
	out, err := gitCmd(ctx, path, "remote", "get-url", "origin")
	if err != nil {
		return "", nil // no remote is not an error
	}
	return out, nil
}

// PushArgs builds the git push arguments for opts.
func PushArgs(opts PushOptions) []string {
	args := []string{"push"}
	if opts.LeaseSHA != "" {
		args = append(args, fmt.Sprintf("--force-with-lease=refs/heads/%s:%s", opts.Branch, opts.LeaseSHA))
	}
	return append(args, opts.Remote, "HEAD:refs/heads/"+opts.Branch)
}

// ParseAheadBehind parses `git rev-list --left-right --count` output.
func ParseAheadBehind(output string) (ahead, behind int, err error) {
	fields := strings.Fields(output)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", output)
	}
	if ahead, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("parse ahead count: %w", err)
	}
	if behind, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("parse behind count: %w", err)
	}
	return ahead, behind, nil
}

// ExtractRepoPath parses a remote URL and returns the repository path
// (owner/repo on GitHub, group/subgroup/project on GitLab).
func ExtractRepoPath(remoteURL string) (string, error) {
	var path string
	switch {
	// SSH: git@github.com:owner/repo.git
	case strings.HasPrefix(remoteURL, "git@"):
		parts := strings.SplitN(remoteURL, ":", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		path = parts[1]
	// HTTPS or ssh://: https://github.com/owner/repo.git
	case strings.Contains(remoteURL, "://"):
		u, err := url.Parse(remoteURL)
		if err != nil {
			return "", fmt.Errorf("cannot parse remote %s: %w", remoteURL, err)
		}
		path = u.Path
	default:
		return "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}

	path = strings.Trim(strings.TrimSuffix(path, ".git"), "/")
	if !strings.Contains(path, "/") || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return path, nil
}

// ExtractOwnerRepo parses a remote URL and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	path, err := ExtractRepoPath(remoteURL)
	if err != nil {
		return "", "", err
	}
	idx := strings.LastIndex(path, "/")
	return path[:idx], path[idx+1:], nil
}
