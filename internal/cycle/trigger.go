package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/prcycle/internal/feedback"
	"github.com/joescharf/prcycle/internal/git"
	"github.com/joescharf/prcycle/internal/models"
	"github.com/joescharf/prcycle/internal/reviewer"
	"github.com/joescharf/prcycle/internal/store"
	"github.com/joescharf/prcycle/internal/timeutil"
)

// TriggerRequest asks for a review of a PR.
type TriggerRequest struct {
	PRNumber           int
	Mode               models.Mode
	WaitSeconds        int // 0 skips the embedded wait and polling
	ValidationReviewer string
}

// TriggerResult is the terminal result of a trigger.
type TriggerResult struct {
	Status        string           `json:"status"`
	Message       string           `json:"message"`
	ErrorKind     string           `json:"error_kind,omitempty"`
	PRNumber      int              `json:"pr_number"`
	Mode          models.Mode      `json:"mode"`
	CycleID       string           `json:"cycle_id,omitempty"`
	TriggeredBots []string         `json:"triggered_bots"`
	InitialStatus *feedback.Report `json:"initial_status,omitempty"`
	NextStep      string           `json:"next_step,omitempty"`
	Outcome       Outcome          `json:"outcome,omitempty"`
}

// Trigger requests reviews and waits for the first answer. The returned
// result is always non-nil; on failure it carries status "error" and the
// error is returned as well.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if req.Mode == "" {
		req.Mode = models.ModeOnline
	}
	res := &TriggerResult{
		Status:        StatusError,
		PRNumber:      req.PRNumber,
		Mode:          req.Mode,
		TriggeredBots: []string{},
	}

	c, err := e.trigger(ctx, req, res)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, context.Canceled) {
		markInterrupted(res)
		return res, nil
	}
	res.Status = StatusError
	res.Message = err.Error()
	res.ErrorKind = ErrorKind(err)
	res.InitialStatus = nil
	res.NextStep = ""

	var remote *feedback.RemoteUnavailableError
	if c != nil && len(res.TriggeredBots) > 0 && errors.As(err, &remote) {
		// Reviews were requested; keep the cycle so resume can pick them up.
		e.suspend(ctx, c, err)
		res.NextStep = retryStep(req.PRNumber)
		return res, err
	}
	e.fail(ctx, c, err)
	return res, err
}

func (e *Engine) trigger(ctx context.Context, req TriggerRequest, res *TriggerResult) (*models.ReviewCycle, error) {
	mode, err := models.ParseMode(string(req.Mode))
	if err != nil {
		return nil, invalid("%v", err)
	}
	switch {
	case req.PRNumber < 0:
		return nil, invalid("pr_number must be positive, got %d", req.PRNumber)
	case req.PRNumber == 0 && mode == models.ModeOnline:
		return nil, invalid("pr_number is required unless --local or --offline is given")
	case req.WaitSeconds < 0:
		return nil, invalid("wait_seconds must not be negative, got %d", req.WaitSeconds)
	}

	var (
		pr       *git.PullRequest
		upstream string
	)
	if mode != models.ModeOffline {
		if e.Gate == nil {
			return nil, errors.New("no working tree configured for the push check")
		}
		v, err := e.Gate.Verify(ctx)
		if err != nil {
			return nil, err
		}
		e.report().VerboseLog("%s", v.Message)
		upstream = v.Remote
	}
	if req.PRNumber == 0 {
		return nil, e.reviewChanges(ctx, res)
	}

	if mode != models.ModeOffline {
		if err := e.requireFeedback(); err != nil {
			return nil, err
		}
		pr, err = e.Feedback.GetPR(ctx, req.PRNumber)
		if err != nil {
			return nil, fmt.Errorf("resolve PR #%d in %s: %w", req.PRNumber, e.Repo, err)
		}
		if pr.State != git.PRStateOpen {
			return nil, fmt.Errorf("%w: PR #%d is %s", ErrPRNotOpen, req.PRNumber, pr.State)
		}
	}

	lk, err := e.Locks.Acquire(e.Repo, req.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("PR #%d: %w", req.PRNumber, err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			e.report().Warning("%v", err)
		}
	}()

	c, err := e.startCycle(ctx, req.PRNumber, mode)
	if err != nil {
		return nil, err
	}
	res.CycleID = c.ID

	switch mode {
	case models.ModeOffline:
		return c, e.runOffline(ctx, c, res)
	case models.ModeLocal:
		base := e.Config.OfflineBase
		if upstream != "" && pr.Base != "" {
			base = upstream + "/" + pr.Base
		}
		return c, e.runLocal(ctx, c, base, req, res)
	}
	return c, e.runOnline(ctx, c, req, res)
}

// startCycle supersedes any leftover active cycle and records a new one whose
// watermark is the trigger instant. The caller holds the PR lock.
func (e *Engine) startCycle(ctx context.Context, prNumber int, mode models.Mode) (*models.ReviewCycle, error) {
	id := store.NewID()

	existing, err := e.Store.GetActiveCycle(ctx, e.Repo, prNumber)
	var corrupt *store.StateCorruptionError
	switch {
	case err == nil:
		if err := e.Store.SupersedeCycle(ctx, existing.ID, id); err != nil {
			return nil, fmt.Errorf("supersede cycle %s: %w", existing.ID, err)
		}
		e.report().Info("Superseded %s cycle %s for PR #%d", existing.Status, existing.ID, prNumber)
	case errors.As(err, &corrupt):
		e.report().Warning("%v", corrupt)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	now := e.now()
	c := &models.ReviewCycle{
		ID:          id,
		Repo:        e.Repo,
		PRNumber:    prNumber,
		Since:       now,
		Mode:        mode,
		Status:      models.CycleStatusTriggered,
		TriggeredAt: now,
	}
	if err := e.Store.CreateCycle(ctx, c); err != nil {
		return nil, err
	}
	e.report().VerboseLog("Started %s cycle %s for PR #%d at %s", mode, c.ID, prNumber, timeutil.Format(now))
	return c, nil
}

func (e *Engine) runOnline(ctx context.Context, c *models.ReviewCycle, req TriggerRequest, res *TriggerResult) error {
	for _, body := range e.Config.TriggerComments {
		if err := e.Feedback.PostComment(ctx, c.PRNumber, body); err != nil {
			return fmt.Errorf("request review %q: %w", body, err)
		}
		res.TriggeredBots = append(res.TriggeredBots, body)
	}
	e.report().Info("Requested %d review(s) on PR #%d", len(res.TriggeredBots), c.PRNumber)

	if req.WaitSeconds == 0 {
		res.Status = StatusSuccess
		res.Outcome = ""
		res.Message = fmt.Sprintf("Requested %d review(s) on PR #%d; waiting was skipped", len(res.TriggeredBots), c.PRNumber)
		res.InitialStatus = e.skippedReport(c)
		res.NextStep = res.InitialStatus.NextStep
		return nil
	}

	wait := time.Duration(req.WaitSeconds) * time.Second
	e.report().Info("Waiting %s before the first check", wait)
	if err := e.sleep(ctx, c, wait); err != nil {
		return err
	}

	lr, err := e.Poll(ctx, c, c.PRNumber, LoopOptions{
		Reviewer: req.ValidationReviewer,
		Timeout:  max(e.triggerTimeout()-wait, 0),
		Policy:   StopOnMainReviewer,
	})
	if err != nil {
		return err
	}

	res.InitialStatus = lr.Report
	res.Outcome = lr.Outcome
	res.NextStep = lr.Report.NextStep
	switch lr.Outcome {
	case OutcomeTimeout:
		res.Status = StatusTimeout
		res.NextStep = feedback.WaitStep(c.PRNumber, req.WaitSeconds)
		res.Message = fmt.Sprintf("%s has not responded on PR #%d yet; cycle %s is still resumable",
			lr.Report.MainReviewer.User, c.PRNumber, c.ID)
	case OutcomeInterrupted:
		markInterrupted(res)
	default:
		res.Status = StatusSuccess
		res.Message = outcomeMessage(lr.Outcome, c.PRNumber, lr.Report)
	}
	return nil
}

func (e *Engine) runLocal(ctx context.Context, c *models.ReviewCycle, base string, req TriggerRequest, res *TriggerResult) error {
	item, err := e.localReview(ctx, c.PRNumber, base, res)
	if err != nil {
		return err
	}

	wait := e.Config.LocalWait
	if wait <= 0 {
		wait = DefaultLocalWait
	}
	e.report().Info("Local review done; waiting %s for out-of-band comments", wait)
	if err := e.sleep(ctx, c, wait); err != nil {
		return err
	}

	rep, err := e.Feedback.Status(ctx, c.PRNumber, c.Since, req.ValidationReviewer)
	if err != nil {
		return err
	}
	c.Iteration++
	c.Since = timeutil.Later(c.Since, rep.NextSince)
	c.Status = models.CycleStatusPolling
	if err := e.checkpoint(ctx, c); err != nil {
		return err
	}

	rep.Items = append([]models.FeedbackItem{item}, rep.Items...)
	localFirst(rep, c.PRNumber)

	res.Status = StatusSuccess
	res.Outcome = OutcomeNewFeedback
	res.InitialStatus = rep
	res.NextStep = rep.NextStep
	res.Message = fmt.Sprintf("Local review of PR #%d finished with %d item(s)", c.PRNumber, rep.NewItemCount)
	return nil
}

func (e *Engine) runOffline(ctx context.Context, c *models.ReviewCycle, res *TriggerResult) error {
	item, err := e.localReview(ctx, c.PRNumber, e.Config.OfflineBase, res)
	if err != nil {
		return err
	}
	c.Iteration++
	if err := e.checkpoint(ctx, c); err != nil {
		return err
	}

	rep := &feedback.Report{
		Status:    feedback.StatusSuccess,
		Repo:      e.Repo,
		PRNumber:  c.PRNumber,
		CheckedAt: e.now(),
		Since:     c.Since,
		NextSince: c.Since,
		Items:     []models.FeedbackItem{item},
	}
	localFirst(rep, c.PRNumber)

	res.Status = StatusSuccess
	res.Outcome = OutcomeNewFeedback
	res.InitialStatus = rep
	res.NextStep = rep.NextStep
	res.Message = fmt.Sprintf("Offline review of PR #%d finished", c.PRNumber)
	return nil
}

// reviewChanges runs the local reviewer for a branch that has no PR yet.
// No cycle is recorded and nothing is fetched from the platform.
func (e *Engine) reviewChanges(ctx context.Context, res *TriggerResult) error {
	item, err := e.localReview(ctx, 0, e.Config.OfflineBase, res)
	if err != nil {
		return err
	}
	now := e.now()
	rep := &feedback.Report{
		Status:    feedback.StatusSuccess,
		Repo:      e.Repo,
		CheckedAt: now,
		Since:     now,
		NextSince: now,
		Items:     []models.FeedbackItem{item},
	}
	localFirst(rep, 0)
	rep.NextStep = "New feedback received. Address the local review findings, run the tests, and commit. " +
		"Open a PR and run 'trigger_review <pr_number>' to request online reviews."

	res.Status = StatusSuccess
	res.Outcome = OutcomeNewFeedback
	res.InitialStatus = rep
	res.NextStep = rep.NextStep
	res.Message = fmt.Sprintf("%s review of local changes finished", modeLabel(res.Mode))
	return nil
}

func modeLabel(m models.Mode) string {
	if m == models.ModeLocal {
		return "Local"
	}
	return "Offline"
}

// localReview runs the local reviewer over the branch diff.
func (e *Engine) localReview(ctx context.Context, prNumber int, base string, res *TriggerResult) (models.FeedbackItem, error) {
	if e.Reviewer == nil {
		return models.FeedbackItem{}, errors.New("no local reviewer configured")
	}
	diff := ""
	if e.Git != nil {
		d, err := e.Git.Diff(ctx, e.Path, base)
		if err != nil {
			e.report().Warning("Could not diff against %s: %v", base, err)
		}
		diff = d
	}

	e.report().Info("Running local review of %s with %s", reviewTarget(prNumber), e.Reviewer.Name())
	rev, err := e.Reviewer.Review(ctx, reviewer.Request{
		Repo:     e.Repo,
		PRNumber: prNumber,
		Path:     e.Path,
		Diff:     diff,
	})
	if err != nil {
		return models.FeedbackItem{}, err
	}
	res.TriggeredBots = append(res.TriggeredBots, reviewer.LocalTriggerLabel)
	return reviewer.Item(rev, e.now()), nil
}

// localFirst rewrites a report so the local review stands in for the main reviewer.
func localFirst(rep *feedback.Report, prNumber int) {
	rep.NewItemCount = len(rep.Items)
	rep.MainReviewer = models.MainReviewerState{User: reviewer.LocalReviewerName, State: models.ReviewStateCommented}
	rep.Ready = false
	rep.RateLimited = false

	a := rep.Analysis
	a.MainReviewer = rep.MainReviewer
	a.MainResponded = true
	a.Ready = false
	a.RateLimited = false
	a.NewItemCount = rep.NewItemCount
	rep.Analysis = a
	rep.NextStep = feedback.NextStep(prNumber, a)
}

func (e *Engine) skippedReport(c *models.ReviewCycle) *feedback.Report {
	name := feedback.DefaultMainReviewer
	if e.Feedback != nil {
		name = e.Feedback.Config().MainReviewer
	}
	return &feedback.Report{
		Status:       StatusSkipped,
		Repo:         e.Repo,
		PRNumber:     c.PRNumber,
		CheckedAt:    e.now(),
		Since:        c.Since,
		NextSince:    c.Since,
		Items:        []models.FeedbackItem{},
		MainReviewer: models.MainReviewerState{User: name, State: models.ReviewStatePending},
		NextStep:     feedback.WaitStep(c.PRNumber, 30),
	}
}

// sleep waits in chunks, checkpointing the cycle before each chunk.
func (e *Engine) sleep(ctx context.Context, c *models.ReviewCycle, d time.Duration) error {
	chunk := e.Config.Chunk
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	return timeutil.SleepChunked(ctx, e.clock(), d, chunk, func(time.Duration) error {
		return e.checkpoint(ctx, c)
	})
}

func (e *Engine) triggerTimeout() time.Duration {
	if e.Config.TriggerTimeout > 0 {
		return e.Config.TriggerTimeout
	}
	return DefaultTriggerTimeout
}

func markInterrupted(res *TriggerResult) {
	res.Status = StatusInterrupted
	res.Outcome = OutcomeInterrupted
	res.ErrorKind = ""
	res.Message = fmt.Sprintf("Interrupted; the last checkpoint of PR #%d is kept", res.PRNumber)
	res.NextStep = resumeStep(res.PRNumber)
	if res.InitialStatus != nil {
		res.InitialStatus.NextStep = res.NextStep
	}
}

func outcomeMessage(o Outcome, prNumber int, rep *feedback.Report) string {
	switch o {
	case OutcomeReady:
		return fmt.Sprintf("%s reports PR #%d has no remaining issues", rep.MainReviewer.User, prNumber)
	case OutcomeRateLimited:
		return fmt.Sprintf("%s is rate limited on PR #%d", rep.MainReviewer.User, prNumber)
	case OutcomeMainResponded:
		return fmt.Sprintf("%s responded on PR #%d (%s) with %d new item(s)",
			rep.MainReviewer.User, prNumber, strings.ToLower(rep.MainReviewer.State), rep.NewItemCount)
	}
	return fmt.Sprintf("%d new item(s) on PR #%d", rep.NewItemCount, prNumber)
}

func reviewTarget(prNumber int) string {
	if prNumber == 0 {
		return "local changes"
	}
	return fmt.Sprintf("PR #%d", prNumber)
}
