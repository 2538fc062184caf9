package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init", "-b", "main"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	require.NoError(t, err, string(out))
}

// cloneWithRemote returns a clone of a bare repo that has one commit on main.
func cloneWithRemote(t *testing.T) (clone, bare string) {
	t.Helper()
	root := t.TempDir()
	bare = filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")
	clone = filepath.Join(root, "clone")

	require.NoError(t, exec.Command("git", "init", "--bare", "-b", "main", bare).Run())
	require.NoError(t, os.MkdirAll(seed, 0o755))
	initTestRepo(t, seed)
	require.NoError(t, os.WriteFile(filepath.Join(seed, "a.txt"), []byte("a\n"), 0o644))
	run(t, seed, "add", ".")
	run(t, seed, "commit", "-m", "initial")
	run(t, seed, "remote", "add", "origin", bare)
	run(t, seed, "push", "origin", "main")

	require.NoError(t, exec.Command("git", "clone", bare, clone).Run())
	run(t, clone, "config", "user.email", "test@test.com")
	run(t, clone, "config", "user.name", "Test")
	return clone, bare
}

func TestExtractOwnerRepo_SSH(t *testing.T) {
	owner, repo, err := ExtractOwnerRepo("git@github.com:joescharf/prcycle.git")
	assert.NoError(t, err)
	assert.Equal(t, "joescharf", owner)
	assert.Equal(t, "prcycle", repo)
}

func TestExtractOwnerRepo_HTTPS(t *testing.T) {
	owner, repo, err := ExtractOwnerRepo("https://github.com/joescharf/prcycle.git")
	assert.NoError(t, err)
	assert.Equal(t, "joescharf", owner)
	assert.Equal(t, "prcycle", repo)
}

func TestExtractOwnerRepo_HTTPSNoGit(t *testing.T) {
	owner, repo, err := ExtractOwnerRepo("https://github.com/joescharf/prcycle")
	assert.NoError(t, err)
	assert.Equal(t, "joescharf", owner)
	assert.Equal(t, "prcycle", repo)
}

func TestExtractOwnerRepo_Invalid(t *testing.T) {
	_, _, err := ExtractOwnerRepo("not-a-url")
	assert.Error(t, err)

	_, _, err = ExtractOwnerRepo("https://github.com/onlyowner")
	assert.Error(t, err)
}

func TestExtractRepoPath_GitLabSubgroups(t *testing.T) {
	path, err := ExtractRepoPath("https://gitlab.example.com/group/sub/project.git")
	require.NoError(t, err)
	assert.Equal(t, "group/sub/project", path)

	path, err = ExtractRepoPath("ssh://git@gitlab.example.com:2222/group/project.git")
	require.NoError(t, err)
	assert.Equal(t, "group/project", path)

	owner, repo, err := ExtractOwnerRepo("git@gitlab.com:group/sub/project.git")
	require.NoError(t, err)
	assert.Equal(t, "group/sub", owner)
	assert.Equal(t, "project", repo)
}

func TestParseAheadBehind(t *testing.T) {
	ahead, behind, err := ParseAheadBehind("2\t3")
	require.NoError(t, err)
	assert.Equal(t, 2, ahead)
	assert.Equal(t, 3, behind)

	_, _, err = ParseAheadBehind("garbage")
	assert.Error(t, err)
}

func TestPushArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"push", "origin", "HEAD:refs/heads/feature"},
		PushArgs(PushOptions{Remote: "origin", Branch: "feature"}))
	assert.Equal(t,
		[]string{"push", "--force-with-lease=refs/heads/feature:abc123", "origin", "HEAD:refs/heads/feature"},
		PushArgs(PushOptions{Remote: "origin", Branch: "feature", LeaseSHA: "abc123"}))
}

func TestRealClient_IsDirty(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	run(t, dir, "commit", "--allow-empty", "-m", "init")

	c := NewClient()
	ctx := context.Background()
	dirty, err := c.IsDirty(ctx, dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	dirty, err = c.IsDirty(ctx, dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestRealClient_UpstreamMissing(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	run(t, dir, "commit", "--allow-empty", "-m", "init")

	_, err := NewClient().Upstream(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoUpstream))
}

func TestRealClient_UpstreamAndAheadBehind(t *testing.T) {
	clone, _ := cloneWithRemote(t)
	c := NewClient()
	ctx := context.Background()

	up, err := c.Upstream(ctx, clone)
	require.NoError(t, err)
	assert.Equal(t, "origin", up.Remote)
	assert.Equal(t, "main", up.Branch)
	assert.Equal(t, "origin/main", up.Ref)

	ahead, behind, err := c.AheadBehind(ctx, clone, up.Ref)
	require.NoError(t, err)
	assert.Zero(t, ahead)
	assert.Zero(t, behind)

	run(t, clone, "commit", "--allow-empty", "-m", "local work")
	ahead, behind, err = c.AheadBehind(ctx, clone, up.Ref)
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)
	assert.Zero(t, behind)

	require.NoError(t, c.Push(ctx, clone, PushOptions{Remote: up.Remote, Branch: up.Branch}))
	require.NoError(t, c.Fetch(ctx, clone, up.Remote))
	ahead, _, err = c.AheadBehind(ctx, clone, up.Ref)
	require.NoError(t, err)
	assert.Zero(t, ahead)
}

func TestRealClient_Diff(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("hello\n"), 0o644))
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "initial")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("hello world\n"), 0o644))

	diff, err := NewClient().Diff(context.Background(), dir, "HEAD")
	require.NoError(t, err)
	assert.Contains(t, diff, "+hello world")
}

func TestRealClient_RemoteURL_None(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)

	url, err := NewClient().RemoteURL(context.Background(), dir)
	assert.NoError(t, err)
	assert.Empty(t, url)
}
