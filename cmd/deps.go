package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/prcycle/internal/cycle"
	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/gate"
	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/lock"
	"github.com/joescharf/prcycle/internal/retry"
	"github.com/joescharf/prcycle/internal/reviewer"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// repoResolver finds the repository in order: --repo, config,
// GH_OWNER/GH_REPO, the origin remote, then the gh CLI.
type repoResolver struct {
	flag      string
	owner     string
	name      string
	gitlab    bool
	getenv    func(string) string
	remoteURL func() (string, error)
	ghRepo    func() (string, error)
}

func (r repoResolver) resolve() (string, error) {
	if r.flag != "" {
		return validRepo(r.flag)
	}
	if r.owner != "" && r.name != "" {
		return r.owner + "/" + r.name, nil
	}
	if r.getenv != nil {
		if owner, name := r.getenv("GH_OWNER"), r.getenv("GH_REPO"); owner != "" && name != "" {
			return owner + "/" + name, nil
		}
	}
	if r.remoteURL != nil {
		if u, err := r.remoteURL(); err == nil && u != "" {
			if r.gitlab {
				return git.ExtractRepoPath(u)
			}
			owner, name, err := git.ExtractOwnerRepo(u)
			if err == nil {
				return owner + "/" + name, nil
			}
		}
	}
	if r.ghRepo != nil && !r.gitlab {
		if repo, err := r.ghRepo(); err == nil && repo != "" {
			return validRepo(repo)
		}
	}
	return "", errors.New("cannot determine the repository; pass --repo owner/name or set GH_OWNER and GH_REPO")
}

func validRepo(s string) (string, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if i := strings.LastIndex(s, "/"); i <= 0 || i == len(s)-1 {
		return "", fmt.Errorf("%w: repository %q is not owner/name", cycle.ErrInvalidArgument, s)
	}
	return s, nil
}

// workPath returns the working tree to operate on.
func workPath() string {
	if pathFlag != "" {
		return pathFlag
	}
	if p := viper.GetString("repo.path"); p != "" {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func resolveRepo(ctx context.Context, gc git.Client, path string) (string, error) {
	platform := viper.GetString("platform")
	if platform == "gitlab" && repoFlag == "" {
		if p := viper.GetString("gitlab.project"); p != "" {
			return p, nil
		}
	}
	r := repoResolver{
		flag:      repoFlag,
		owner:     viper.GetString("repo.owner"),
		name:      viper.GetString("repo.name"),
		gitlab:    platform == "gitlab",
		getenv:    os.Getenv,
		remoteURL: func() (string, error) { return gc.RemoteURL(ctx, path) },
		ghRepo:    func() (string, error) { return git.RepoFromGH(ctx) },
	}
	return r.resolve()
}

// newPlatform returns the configured review platform for repo.
func newPlatform(repo string) (git.Platform, error) {
	switch p := viper.GetString("platform"); p {
	case "", "github":
		return git.NewGitHubClient(repo), nil
	case "gitlab":
		token := viper.GetString("gitlab.token")
		if token == "" {
			token = os.Getenv("GITLAB_TOKEN")
		}
		if token == "" {
			return nil, errors.New("GitLab token not configured; set gitlab.token in config or GITLAB_TOKEN")
		}
		gl, err := git.NewGitLabClient(viper.GetString("gitlab.url"), token, repo)
		if err != nil {
			return nil, err
		}
		return gl, nil
	default:
		return nil, fmt.Errorf("%w: unknown platform %q (want github or gitlab)", cycle.ErrInvalidArgument, p)
	}
}

// feedbackConfig builds review detection settings from config.
func feedbackConfig() feedback.Config {
	cfg := feedback.DefaultConfig()
	if v := viper.GetString("review.main_reviewer"); v != "" {
		cfg.MainReviewer = v
	}
	if v := viper.GetStringSlice("review.ready_phrases"); len(v) > 0 {
		cfg.ReadyPhrases = v
	}
	if v := viper.GetStringSlice("review.rate_limit_phrases"); len(v) > 0 {
		cfg.RateLimitPhrases = v
	}
	if v := viper.GetStringSlice("review.trigger_comments"); len(v) > 0 {
		cfg.TriggerComments = v
	}
	cfg.Retry = retry.DefaultOptions(
		viper.GetInt("retry.max_attempts"),
		viper.GetDuration("retry.backoff_base"),
		viper.GetDuration("retry.rate_limit_retry"),
	)
	cfg.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		ui.VerboseLog("Attempt %d failed (%v); retrying in %s", attempt, err, wait.Round(time.Millisecond))
	}
	return cfg
}

// engineConfig builds the polling schedule from config.
func engineConfig() cycle.Config {
	cfg := cycle.DefaultConfig()
	if d := viper.GetDuration("poll.interval"); d > 0 {
		cfg.Interval = d
	}
	if d := viper.GetDuration("poll.chunk"); d > 0 {
		cfg.Chunk = d
	}
	if d := viper.GetDuration("poll.trigger_timeout"); d > 0 {
		cfg.TriggerTimeout = d
	}
	if d := viper.GetDuration("poll.wait_timeout"); d > 0 {
		cfg.WaitTimeout = d
	}
	if d := viper.GetDuration("poll.local_wait"); d > 0 {
		cfg.LocalWait = d
	}
	if v := viper.GetStringSlice("review.trigger_comments"); len(v) > 0 {
		cfg.TriggerComments = v
	}
	if v := viper.GetString("reviewer.base"); v != "" {
		cfg.OfflineBase = v
	}
	return cfg
}

// newReviewer returns the configured local review engine.
func newReviewer() (reviewer.Reviewer, error) {
	switch engine := viper.GetString("reviewer.engine"); engine {
	case "", "command":
		settings, err := reviewer.LoadSettings(viper.GetString("reviewer.settings_file"))
		if err != nil {
			return nil, err
		}
		if m := viper.GetString("reviewer.model"); m != "" {
			settings.LocalModel = m
		}
		return reviewer.NewCommandReviewer(settings, viper.GetStringSlice("reviewer.command"), viper.GetDuration("reviewer.timeout")), nil
	case "anthropic":
		apiKey := viper.GetString("anthropic.api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured; set anthropic.api_key in config or ANTHROPIC_API_KEY env var")
		}
		model := viper.GetString("anthropic.model")
		if m := viper.GetString("reviewer.model"); m != "" {
			model = m
		}
		return reviewer.NewAnthropicReviewer(apiKey, model), nil
	default:
		return nil, fmt.Errorf("%w: unknown reviewer engine %q (want command or anthropic)", cycle.ErrInvalidArgument, engine)
	}
}

// engineOptions control how much of the engine a command needs.
type engineOptions struct {
	offline bool // no platform required
}

// newEngine wires the engine for the current working tree.
func newEngine(ctx context.Context, opts engineOptions) (*cycle.Engine, error) {
	gc := git.NewClient()
	path := workPath()
	if root, err := gc.RepoRoot(ctx, path); err == nil {
		path = root
	}

	repo, err := resolveRepo(ctx, gc, path)
	if err != nil {
		return nil, err
	}

	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}

	clock := timeutil.RealClock{}
	e := &cycle.Engine{
		Repo:     repo,
		Path:     path,
		Store:    s,
		Locks:    lock.NewManager(lockDir()),
		Git:      gc,
		Gate:     gate.New(gc, path),
		Clock:    clock,
		Reporter: ui,
		Config:   engineConfig(),
	}
	e.Gate.DryRun = dryRun

	platform, err := newPlatform(repo)
	switch {
	case err == nil:
		e.Feedback = feedback.NewClient(platform, feedbackConfig(), clock)
	case !opts.offline:
		return nil, err
	}

	rev, err := newReviewer()
	if err != nil {
		ui.VerboseLog("Local reviewer unavailable: %v", err)
	} else {
		e.Reviewer = rev
	}

	ui.VerboseLog("Repository %s at %s", repo, path)
	return e, nil
}

func lockDir() string {
	if d := viper.GetString("lock_dir"); d != "" {
		return d
	}
	return filepath.Join(viper.GetString("state_dir"), "logs", "locks")
}
