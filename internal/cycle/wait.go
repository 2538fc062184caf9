package cycle

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/store"
)

// WaitRequest asks to block until new feedback arrives on a PR.
type WaitRequest struct {
	PRNumber           int
	Since              time.Time // zero: the active cycle's watermark
	Timeout            time.Duration
	Interval           time.Duration
	ValidationReviewer string
}

// Wait polls until any new feedback, the timeout or cancellation. When the PR
// has an active cycle that no other process is polling, progress is
// checkpointed into it.
func (e *Engine) Wait(ctx context.Context, req WaitRequest) (*LoopResult, error) {
	if req.PRNumber <= 0 {
		return nil, invalid("pr_number must be positive, got %d", req.PRNumber)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.Config.WaitTimeout
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	opts := LoopOptions{
		Since:    req.Since,
		Reviewer: req.ValidationReviewer,
		Interval: req.Interval,
		Timeout:  timeout,
		Policy:   StopOnFeedback,
	}

	c, release := e.attachCycle(ctx, req.PRNumber)
	defer release()
	return e.Poll(ctx, c, req.PRNumber, opts)
}

// attachCycle returns the PR's active cycle with its lock held, or nil when
// there is none to checkpoint into.
func (e *Engine) attachCycle(ctx context.Context, prNumber int) (*models.ReviewCycle, func()) {
	noop := func() {}
	if e.Store == nil || e.Locks == nil {
		return nil, noop
	}
	c, err := e.Store.GetActiveCycle(ctx, e.Repo, prNumber)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.report().Warning("%v", err)
		}
		return nil, noop
	}
	if !c.Resumable() {
		return nil, noop
	}
	lk, err := e.Locks.Acquire(e.Repo, prNumber)
	if err != nil {
		e.report().Warning("Not checkpointing PR #%d: %v", prNumber, err)
		return nil, noop
	}
	e.report().VerboseLog("Checkpointing into cycle %s", c.ID)
	return c, func() {
		if err := lk.Release(); err != nil {
			e.report().Warning("%v", err)
		}
	}
}
