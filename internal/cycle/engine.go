// Package cycle drives a PR through request, wait and resume. It owns the
// review-cycle state machine; the feedback, store, lock, gate and reviewer
// packages are its collaborators.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/gate"
	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/lock"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/reviewer"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// Defaults for the polling schedule.
const (
	DefaultInterval       = 60 * time.Second
	DefaultChunk          = 5 * time.Second
	DefaultTriggerTimeout = 10 * time.Minute
	DefaultWaitTimeout    = 25 * time.Minute
	DefaultLocalWait      = 120 * time.Second
	DefaultWaitSeconds    = 180
)

// DefaultTriggerComments are posted on a PR to request reviews.
var DefaultTriggerComments = feedback.DefaultTriggerComments

// Result statuses shared by the engine operations.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusInterrupted = "interrupted"
	StatusSkipped     = "skipped"
	StatusResumed     = "resumed"
	StatusNone        = "none"
)

// ErrInvalidArgument marks input that failed validation.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrPRNotOpen is returned when a review is requested on a closed PR.
var ErrPRNotOpen = errors.New("pull request is not open")

// Config holds the engine schedule and review request settings.
type Config struct {
	Interval        time.Duration
	Chunk           time.Duration
	TriggerTimeout  time.Duration
	WaitTimeout     time.Duration
	LocalWait       time.Duration
	TriggerComments []string
	// OfflineBase is diffed against in offline mode, where no PR is resolved.
	OfflineBase string
}

// DefaultConfig returns the built-in schedule.
func DefaultConfig() Config {
	return Config{
		Interval:        DefaultInterval,
		Chunk:           DefaultChunk,
		TriggerTimeout:  DefaultTriggerTimeout,
		WaitTimeout:     DefaultWaitTimeout,
		LocalWait:       DefaultLocalWait,
		TriggerComments: DefaultTriggerComments,
		OfflineBase:     "origin/main",
	}
}

// Reporter receives progress messages. *output.UI satisfies it.
type Reporter interface {
	Info(format string, a ...any)
	Warning(format string, a ...any)
	VerboseLog(format string, a ...any)
}

type nopReporter struct{}

func (nopReporter) Info(string, ...any)       {}
func (nopReporter) Warning(string, ...any)    {}
func (nopReporter) VerboseLog(string, ...any) {}

// Engine runs review cycles for one repository and working tree.
type Engine struct {
	Repo     string
	Path     string
	Store    store.Store
	Locks    *lock.Manager
	Feedback *feedback.Client // nil in offline-only setups
	Git      git.Client
	Gate     *gate.Gate
	Reviewer reviewer.Reviewer
	Clock    timeutil.Clock
	Reporter Reporter
	Config   Config
}

func (e *Engine) clock() timeutil.Clock {
	if e.Clock == nil {
		return timeutil.RealClock{}
	}
	return e.Clock
}

func (e *Engine) report() Reporter {
	if e.Reporter == nil {
		return nopReporter{}
	}
	return e.Reporter
}

func (e *Engine) now() time.Time { return e.clock().Now().UTC() }

func (e *Engine) requireFeedback() error {
	if e.Feedback == nil {
		return errors.New("no review platform configured for " + e.Repo)
	}
	return nil
}

// checkpoint persists the cycle. A nil cycle is a stateless wait.
func (e *Engine) checkpoint(ctx context.Context, c *models.ReviewCycle) error {
	if c == nil || e.Store == nil {
		return nil
	}
	if err := e.Store.UpdateCycle(ctx, c); err != nil {
		return fmt.Errorf("checkpoint cycle %s: %w", c.ID, err)
	}
	return nil
}

// fail moves a cycle to error. It runs even when ctx is already cancelled.
func (e *Engine) fail(ctx context.Context, c *models.ReviewCycle, cause error) {
	if c == nil || e.Store == nil {
		return
	}
	c.Status = models.CycleStatusError
	c.LastError = cause.Error()
	if err := e.Store.UpdateCycle(context.WithoutCancel(ctx), c); err != nil {
		e.report().Warning("Could not record failure on cycle %s: %v", c.ID, err)
	}
}

// suspend records cause on an active cycle without ending it.
func (e *Engine) suspend(ctx context.Context, c *models.ReviewCycle, cause error) {
	if e.Store == nil {
		return
	}
	c.LastError = cause.Error()
	if err := e.Store.UpdateCycle(context.WithoutCancel(ctx), c); err != nil {
		e.report().Warning("Could not record failure on cycle %s: %v", c.ID, err)
	}
}

// ErrorKind names the class of err for structured results.
func ErrorKind(err error) string {
	var (
		pre     *gate.PreconditionError
		remote  *feedback.RemoteUnavailableError
		corrupt *store.StateCorruptionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pre):
		return string(pre.Kind)
	case errors.As(err, &remote):
		if remote.RateLimited {
			return "remote_rate_limited"
		}
		return "remote_unavailable"
	case errors.As(err, &corrupt):
		return "state_corruption"
	case errors.Is(err, lock.ErrLocked):
		return "locked"
	case errors.Is(err, git.ErrNotFound):
		return "pr_not_found"
	case errors.Is(err, ErrPRNotOpen):
		return "pr_not_open"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	}
	return "internal"
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, a...))
}
