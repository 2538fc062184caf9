package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// Outcome is how a polling loop ended.
type Outcome string

const (
	OutcomeReady         Outcome = "ready"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeMainResponded Outcome = "main_responded"
	OutcomeNewFeedback   Outcome = "new_feedback"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeInterrupted   Outcome = "interrupted"
)

// StopPolicy decides which new feedback ends the loop early.
type StopPolicy int

const (
	// StopOnFeedback stops on any new item.
	StopOnFeedback StopPolicy = iota
	// StopOnMainReviewer stops once the main reviewer has said something.
	StopOnMainReviewer
)

// LoopOptions configure one run of the polling loop.
type LoopOptions struct {
	Since    time.Time // zero: the cycle's watermark, or the beginning of time
	Reviewer string
	Interval time.Duration
	Chunk    time.Duration
	Timeout  time.Duration
	Policy   StopPolicy
}

// LoopResult is the loop outcome with every item the loop saw.
type LoopResult struct {
	Outcome Outcome
	Report  *feedback.Report
	Polls   int
}

// Poll queries the PR every interval until a stop condition, the timeout or
// cancellation. With a non-nil cycle, every query and every sleep chunk is
// checkpointed; a nil cycle polls without persisting anything.
func (e *Engine) Poll(ctx context.Context, c *models.ReviewCycle, prNumber int, opts LoopOptions) (*LoopResult, error) {
	if err := e.requireFeedback(); err != nil {
		return nil, err
	}
	if c != nil {
		prNumber = c.PRNumber
	}
	if prNumber <= 0 {
		return nil, invalid("pr_number must be positive, got %d", prNumber)
	}
	opts = e.loopDefaults(opts)

	since := opts.Since
	if since.IsZero() && c != nil {
		since = c.Since
	}
	if since.IsZero() {
		since = timeutil.Epoch
	}
	since = since.UTC()
	startSince := since

	clock := e.clock()
	deadline := clock.Now().Add(opts.Timeout)

	if c != nil && c.Status != models.CycleStatusPolling && c.Status != models.CycleStatusAwaitingMainReviewer {
		c.Status = models.CycleStatusPolling
		if err := e.checkpoint(ctx, c); err != nil {
			return nil, err
		}
	}

	var (
		seen  []models.FeedbackItem
		polls int
	)
	finish := func(outcome Outcome) *LoopResult {
		return &LoopResult{Outcome: outcome, Report: e.summarize(prNumber, startSince, since, seen, opts.Reviewer, outcome), Polls: polls}
	}

	for {
		if ctx.Err() != nil {
			return finish(OutcomeInterrupted), nil
		}

		rep, err := e.Feedback.Status(ctx, prNumber, since, opts.Reviewer)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return finish(OutcomeInterrupted), nil
			}
			if c != nil {
				c.LastError = err.Error()
				if cerr := e.checkpoint(context.WithoutCancel(ctx), c); cerr != nil {
					e.report().Warning("%v", cerr)
				}
			}
			return nil, err
		}
		polls++
		seen = feedback.MergeItems(seen, rep.Items)
		since = timeutil.Later(since, rep.NextSince)
		a := rep.Analysis
		e.report().VerboseLog("PR #%d poll %d: %d new item(s), %s is %s",
			prNumber, polls, a.NewItemCount, a.MainReviewer.User, a.MainReviewer.State)

		if c != nil {
			c.Iteration++
			c.Since = timeutil.Later(c.Since, since)
			c.LastError = ""
			c.Status = nextStatus(c.Status, a)
			if err := e.checkpoint(ctx, c); err != nil {
				if ctx.Err() != nil {
					return finish(OutcomeInterrupted), nil
				}
				return nil, err
			}
		}

		if outcome, stop := stopOutcome(a, opts.Policy); stop {
			return finish(outcome), nil
		}

		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return finish(OutcomeTimeout), nil
		}
		err = timeutil.SleepChunked(ctx, clock, min(opts.Interval, remaining), opts.Chunk, func(time.Duration) error {
			return e.checkpoint(ctx, c)
		})
		if err != nil {
			if ctx.Err() != nil {
				return finish(OutcomeInterrupted), nil
			}
			return nil, err
		}
		if !clock.Now().Before(deadline) {
			return finish(OutcomeTimeout), nil
		}
	}
}

func (e *Engine) loopDefaults(opts LoopOptions) LoopOptions {
	if opts.Interval <= 0 {
		opts.Interval = e.Config.Interval
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Chunk <= 0 {
		opts.Chunk = e.Config.Chunk
	}
	if opts.Chunk <= 0 {
		opts.Chunk = DefaultChunk
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	return opts
}

// nextStatus maps one poll's analysis onto the cycle state machine.
func nextStatus(current models.CycleStatus, a feedback.Analysis) models.CycleStatus {
	switch {
	case a.Ready:
		return models.CycleStatusReadyToMerge
	case a.RateLimited:
		return models.CycleStatusRateLimited
	case a.NewItemCount == 0:
		if current == models.CycleStatusAwaitingMainReviewer {
			return current
		}
		return models.CycleStatusPolling
	case a.OthersResponded && !a.MainResponded:
		return models.CycleStatusAwaitingMainReviewer
	}
	return models.CycleStatusPolling
}

func stopOutcome(a feedback.Analysis, policy StopPolicy) (Outcome, bool) {
	switch {
	case a.Ready:
		return OutcomeReady, true
	case a.RateLimited:
		return OutcomeRateLimited, true
	case policy == StopOnFeedback && a.NewItemCount > 0:
		return OutcomeNewFeedback, true
	case policy == StopOnMainReviewer && a.MainResponded:
		return OutcomeMainResponded, true
	}
	return "", false
}

// summarize reports everything the loop saw since it started.
func (e *Engine) summarize(prNumber int, startSince, since time.Time, seen []models.FeedbackItem, reviewer string, outcome Outcome) *feedback.Report {
	rep := e.Feedback.Summarize(prNumber, startSince, seen, reviewer)
	rep.NextSince = timeutil.Later(rep.NextSince, since)
	switch outcome {
	case OutcomeTimeout:
		rep.Status = feedback.StatusTimeout
		rep.TimedOut = true
		rep.NextStep = timeoutStep(prNumber, rep.MainReviewer.User)
	case OutcomeInterrupted:
		rep.Status = StatusInterrupted
		rep.NextStep = resumeStep(prNumber)
	}
	return rep
}

func timeoutStep(prNumber int, reviewer string) string {
	return fmt.Sprintf("No response from %s on PR #%d yet. Run 'resume' to keep waiting from the last checkpoint. "+
		"Be autonomous, don't stop the cycle.", reviewer, prNumber)
}

func retryStep(prNumber int) string {
	return fmt.Sprintf("The remote is unavailable. Reviews were already requested; run 'resume' later to continue polling PR #%d from the last checkpoint.", prNumber)
}

func resumeStep(prNumber int) string {
	return fmt.Sprintf("Interrupted. Run 'resume' to continue polling PR #%d from the last checkpoint.", prNumber)
}
