package gittest

import (
	"context"

	"github.com/joescharf/prcycle/internal/git"
)

// FakeClient is a scripted git.Client for a single working tree.
type FakeClient struct {
	Dirty      bool
	Branch     string
	Up         *git.Upstream // nil means no upstream
	Ahead      int
	Behind     int
	DiffText   string
	Remote     string
	Err        error // returned by every command when set
	Pushed     []git.PushOptions
	DiffBases  []string
	FetchCalls int
}

// NewFakeClient returns a clean branch that tracks origin/feature.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Branch:   "feature",
		Up:       &git.Upstream{Remote: "origin", Branch: "feature", Ref: "origin/feature"},
		DiffText: "diff --git a/main.go b/main.go\n+// change\n",
		Remote:   "git@github.com:acme/widgets.git",
	}
}

func (f *FakeClient) RepoRoot(context.Context, string) (string, error) { return "/work", f.Err }

func (f *FakeClient) CurrentBranch(context.Context, string) (string, error) { return f.Branch, f.Err }

func (f *FakeClient) IsDirty(context.Context, string) (bool, error) { return f.Dirty, f.Err }

func (f *FakeClient) Upstream(context.Context, string) (*git.Upstream, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Up == nil {
		return nil, git.ErrNoUpstream
	}
	return f.Up, nil
}

func (f *FakeClient) AheadBehind(context.Context, string, string) (int, int, error) {
	return f.Ahead, f.Behind, f.Err
}

func (f *FakeClient) RevParse(context.Context, string, string) (string, error) {
	return "0123456789abcdef0123456789abcdef01234567", f.Err
}

func (f *FakeClient) Fetch(context.Context, string, string) error {
	f.FetchCalls++
	return f.Err
}

func (f *FakeClient) Rebase(context.Context, string, string) error { return f.Err }

func (f *FakeClient) RebaseAbort(context.Context, string) error { return nil }

func (f *FakeClient) Push(_ context.Context, _ string, opts git.PushOptions) error {
	if f.Err != nil {
		return f.Err
	}
	f.Pushed = append(f.Pushed, opts)
	f.Ahead = 0
	return nil
}

func (f *FakeClient) Diff(_ context.Context, _ string, base string) (string, error) {
	f.DiffBases = append(f.DiffBases, base)
	return f.DiffText, f.Err
}

func (f *FakeClient) RemoteURL(context.Context, string) (string, error) { return f.Remote, f.Err }
