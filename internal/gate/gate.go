// Package gate checks that a branch is clean and published before reviews
// are requested, and publishes it safely when asked.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/prcycle/internal/git"
)

// Kind names the precondition that failed.
type Kind string

const (
	KindUncommittedChanges Kind = "uncommitted_changes"
	KindMissingUpstream    Kind = "missing_upstream"
	KindRebaseConflict     Kind = "rebase_conflict"
	KindUnpushedCommits    Kind = "unpushed_commits"
	KindBehindUpstream     Kind = "behind_upstream"
	KindGitFailure         Kind = "git_failure"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PreconditionError reports a working tree that is not safe to review.
type PreconditionError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %s: %s", e.Kind, e.Detail)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Result is the outcome of a gate operation.
type Result struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Branch   string `json:"branch,omitempty"`
	Upstream string `json:"upstream,omitempty"`
	Remote   string `json:"remote,omitempty"`
	Pushed   int    `json:"pushed_commits,omitempty"`
	Rebased  bool   `json:"rebased,omitempty"`
}

// Gate runs checks against one working tree.
type Gate struct {
	git    git.Client
	path   string
	DryRun bool
}

// New returns a Gate for the working tree at path.
func New(gc git.Client, path string) *Gate {
	return &Gate{git: gc, path: path}
}

// Verify checks that the tree is clean, tracks an upstream, and matches it
// exactly. It fetches but never changes the working tree.
func (g *Gate) Verify(ctx context.Context) (*Result, error) {
	branch, up, err := g.cleanWithUpstream(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.git.Fetch(ctx, g.path, up.Remote); err != nil {
		return nil, gitFailure("fetch "+up.Remote, err)
	}

	ahead, behind, err := g.git.AheadBehind(ctx, g.path, up.Ref)
	if err != nil {
		return nil, gitFailure("compare with "+up.Ref, err)
	}
	if ahead > 0 {
		return nil, &PreconditionError{
			Kind:   KindUnpushedCommits,
			Detail: fmt.Sprintf("%d commit(s) on %s are not pushed to %s; run safe_push first", ahead, branch, up.Ref),
		}
	}
	if behind > 0 {
		return nil, &PreconditionError{
			Kind:   KindBehindUpstream,
			Detail: fmt.Sprintf("%s is %d commit(s) behind %s; run safe_push to rebase", branch, behind, up.Ref),
		}
	}

	return &Result{
		Status:   StatusSuccess,
		Message:  fmt.Sprintf("%s is clean and in sync with %s", branch, up.Ref),
		Branch:   branch,
		Upstream: up.Ref,
		Remote:   up.Remote,
	}, nil
}

// SafePush fetches, rebases onto the upstream and pushes. The push carries a
// lease on the upstream commit it rebased onto, so a remote that moved in the
// meantime is never overwritten.
func (g *Gate) SafePush(ctx context.Context) (*Result, error) {
	branch, up, err := g.cleanWithUpstream(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.git.Fetch(ctx, g.path, up.Remote); err != nil {
		return nil, gitFailure("fetch "+up.Remote, err)
	}
	upstreamSHA, err := g.git.RevParse(ctx, g.path, up.Ref)
	if err != nil {
		return nil, gitFailure("resolve "+up.Ref, err)
	}

	ahead, behind, err := g.git.AheadBehind(ctx, g.path, up.Ref)
	if err != nil {
		return nil, gitFailure("compare with "+up.Ref, err)
	}

	res := &Result{Status: StatusSuccess, Branch: branch, Upstream: up.Ref, Remote: up.Remote}
	if g.DryRun {
		res.Message = fmt.Sprintf("[dry-run] would rebase %s onto %s (%d behind) and push %d commit(s)", branch, up.Ref, behind, ahead)
		return res, nil
	}

	if behind > 0 {
		if err := g.git.Rebase(ctx, g.path, up.Ref); err != nil {
			abortErr := g.git.RebaseAbort(ctx, g.path)
			return nil, &PreconditionError{
				Kind:   KindRebaseConflict,
				Detail: fmt.Sprintf("rebase of %s onto %s stopped and was aborted; resolve the conflict manually", branch, up.Ref),
				Err:    errors.Join(err, abortErr),
			}
		}
		res.Rebased = true
		if ahead, _, err = g.git.AheadBehind(ctx, g.path, up.Ref); err != nil {
			return nil, gitFailure("compare with "+up.Ref, err)
		}
	}

	if ahead == 0 {
		res.Message = fmt.Sprintf("%s is already up to date with %s", branch, up.Ref)
		return res, nil
	}

	err = g.git.Push(ctx, g.path, git.PushOptions{Remote: up.Remote, Branch: up.Branch, LeaseSHA: upstreamSHA})
	if err != nil {
		return nil, gitFailure("push to "+up.Ref, err)
	}
	res.Pushed = ahead
	res.Message = fmt.Sprintf("pushed %d commit(s) from %s to %s", ahead, branch, up.Ref)
	return res, nil
}

func (g *Gate) cleanWithUpstream(ctx context.Context) (string, *git.Upstream, error) {
	dirty, err := g.git.IsDirty(ctx, g.path)
	if err != nil {
		return "", nil, gitFailure("status", err)
	}
	if dirty {
		return "", nil, &PreconditionError{
			Kind:   KindUncommittedChanges,
			Detail: "working tree has uncommitted changes; commit or stash them first",
		}
	}

	branch, err := g.git.CurrentBranch(ctx, g.path)
	if err != nil {
		return "", nil, gitFailure("current branch", err)
	}
	up, err := g.git.Upstream(ctx, g.path)
	if errors.Is(err, git.ErrNoUpstream) {
		return "", nil, &PreconditionError{
			Kind:   KindMissingUpstream,
			Detail: fmt.Sprintf("branch %s has no upstream; run 'git push -u origin %s' once", branch, branch),
			Err:    err,
		}
	}
	if err != nil {
		return "", nil, gitFailure("upstream", err)
	}
	return branch, up, nil
}

func gitFailure(op string, err error) *PreconditionError {
	return &PreconditionError{Kind: KindGitFailure, Detail: fmt.Sprintf("git %s failed: %v", op, err), Err: err}
}
